package buffer

import (
	"testing"
	"time"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/model"
)

func quote(ts, price float64) model.MarketDataPoint {
	return model.MarketDataPoint{Timestamp: ts, Symbol: "BTCUSDT", Price: price}
}

func TestWindow_CarryInPrepended(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("BTCUSDT", DefaultTimeframe, quote(50, 1.00))
	st.RecordPrice("BTCUSDT", DefaultTimeframe, quote(110, 2.00))
	st.RecordPrice("BTCUSDT", DefaultTimeframe, quote(130, 3.00))

	// now=130, t1=30 t2=10 ⇒ window [100, 120]. Carry-in should prepend
	// the point at 50, include 110, exclude 130.
	w := st.Window("BTCUSDT", DefaultTimeframe, algo.WindowSpec{
		Source: algo.SourcePrice, T1: 30, T2: 10, CarryIn: true,
	}, 130)

	if len(w.Points) != 2 {
		t.Fatalf("expected 2 points (carry-in + in-window), got %d: %v", len(w.Points), w.Points)
	}
	if w.Points[0].Timestamp != 50 || w.Points[1].Timestamp != 110 {
		t.Errorf("unexpected points: %v", w.Points)
	}
	if w.Start != 100 || w.End != 120 {
		t.Errorf("window bounds: got [%v, %v], want [100, 120]", w.Start, w.End)
	}
}

func TestWindow_NoCarryInWhenDisabled(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("BTCUSDT", DefaultTimeframe, quote(50, 1.00))
	st.RecordPrice("BTCUSDT", DefaultTimeframe, quote(110, 2.00))

	w := st.Window("BTCUSDT", DefaultTimeframe, algo.WindowSpec{
		Source: algo.SourcePrice, T1: 30, T2: 10,
	}, 130)
	if len(w.Points) != 1 || w.Points[0].Timestamp != 110 {
		t.Errorf("expected only the in-window point, got %v", w.Points)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	st := NewStore(3, 0)
	for i := 0; i < 5; i++ {
		st.RecordPrice("X", DefaultTimeframe, quote(float64(i), float64(i)))
	}
	if n := st.PriceLen("X", DefaultTimeframe); n != 3 {
		t.Fatalf("expected ring capped at 3, got %d", n)
	}
	w := st.Window("X", DefaultTimeframe, algo.WindowSpec{Source: algo.SourcePrice, T1: 100, T2: 0}, 4)
	if len(w.Points) != 3 || w.Points[0].Timestamp != 2 {
		t.Errorf("expected oldest evicted, got %v", w.Points)
	}
}

func TestLatestTimestampAcrossSources(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("X", DefaultTimeframe, quote(100, 1))
	st.RecordDeal("X", DefaultTimeframe, model.DealPoint{Timestamp: 140, Price: 1, Volume: 2})
	st.RecordBook("X", DefaultTimeframe, model.OrderbookSnapshot{Timestamp: 120, BestBid: 1, BestAsk: 2})

	now, ok := st.LatestTimestamp("X", DefaultTimeframe)
	if !ok || now != 140 {
		t.Errorf("expected latest=140, got %v ok=%v", now, ok)
	}
	if _, ok := st.LatestTimestamp("Y", DefaultTimeframe); ok {
		t.Error("expected no timestamp for unknown symbol")
	}
}

func TestOrderbookProjections(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordBook("X", DefaultTimeframe, model.OrderbookSnapshot{
		Timestamp: 10, BestBid: 99, BestAsk: 101, BidQty: 3, AskQty: 1,
	})

	mid := st.Window("X", DefaultTimeframe, algo.WindowSpec{Source: algo.SourceOrderbookMid, T1: 20, T2: 0}, 10)
	if len(mid.Points) != 1 || mid.Points[0].Value != 100 {
		t.Errorf("mid projection: %v", mid.Points)
	}
	if mid.Points[0].Volume != 4 {
		t.Errorf("depth should ride along as volume, got %v", mid.Points[0].Volume)
	}

	spread := st.Window("X", DefaultTimeframe, algo.WindowSpec{Source: algo.SourceOrderbookSpread, T1: 20, T2: 0}, 10)
	if len(spread.Points) != 1 || spread.Points[0].Value != 2 {
		t.Errorf("spread projection: %v", spread.Points)
	}

	imb := st.Window("X", DefaultTimeframe, algo.WindowSpec{Source: algo.SourceOrderbookImbalance, T1: 20, T2: 0}, 10)
	if len(imb.Points) != 1 || imb.Points[0].Value != 0.75 {
		t.Errorf("imbalance projection: %v", imb.Points)
	}
}

func TestCheckpointRollback(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("X", DefaultTimeframe, quote(1, 1))
	st.RecordDeal("X", DefaultTimeframe, model.DealPoint{Timestamp: 1, Price: 1, Volume: 1})
	st.RecordBook("X", DefaultTimeframe, model.OrderbookSnapshot{Timestamp: 1})

	cp := st.CheckpointSymbol("X")

	// A partially applied event touches all three buffers plus a brand-new
	// timeframe buffer before failing.
	st.RecordPrice("X", DefaultTimeframe, quote(2, 2))
	st.RecordDeal("X", DefaultTimeframe, model.DealPoint{Timestamp: 2, Price: 2, Volume: 2})
	st.RecordBook("X", DefaultTimeframe, model.OrderbookSnapshot{Timestamp: 2})
	st.RecordPrice("X", "1m", quote(2, 2))

	st.Rollback("X", cp)

	if n := st.PriceLen("X", DefaultTimeframe); n != 1 {
		t.Errorf("price buffer: got %d, want 1", n)
	}
	if n := st.DealLen("X", DefaultTimeframe); n != 1 {
		t.Errorf("deal buffer: got %d, want 1", n)
	}
	if n := st.BookLen("X", DefaultTimeframe); n != 1 {
		t.Errorf("book buffer: got %d, want 1", n)
	}
	if n := st.PriceLen("X", "1m"); n != 0 {
		t.Errorf("buffer created mid-event should be dropped, got %d points", n)
	}
}

func TestRollbackLeavesOtherSymbolsAlone(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("X", DefaultTimeframe, quote(1, 1))
	st.RecordPrice("Y", DefaultTimeframe, quote(1, 1))
	cp := st.CheckpointSymbol("X")
	st.RecordPrice("X", DefaultTimeframe, quote(2, 2))
	st.RecordPrice("Y", DefaultTimeframe, quote(2, 2))
	st.Rollback("X", cp)

	if n := st.PriceLen("Y", DefaultTimeframe); n != 2 {
		t.Errorf("symbol Y must be untouched, got %d", n)
	}
}

func TestSweepExpired(t *testing.T) {
	st := NewStore(0, 10*time.Minute)
	now := time.Unix(1_000_000, 0)
	st.SetClock(func() time.Time { return now })

	st.RecordPrice("OLD", DefaultTimeframe, quote(1, 1))
	now = now.Add(11 * time.Minute)
	st.RecordPrice("NEW", DefaultTimeframe, quote(2, 2))

	dropped := st.SweepExpired()
	if dropped != 1 {
		t.Fatalf("expected 1 buffer dropped, got %d", dropped)
	}
	if st.PriceLen("OLD", DefaultTimeframe) != 0 {
		t.Error("expired buffer should be gone")
	}
	if st.PriceLen("NEW", DefaultTimeframe) != 1 {
		t.Error("active buffer must survive the sweep")
	}
}

func TestSweepCountsReadAccess(t *testing.T) {
	st := NewStore(0, 10*time.Minute)
	now := time.Unix(1_000_000, 0)
	st.SetClock(func() time.Time { return now })

	st.RecordPrice("X", DefaultTimeframe, quote(1, 1))
	now = now.Add(9 * time.Minute)
	// A window read refreshes the access time.
	st.Window("X", DefaultTimeframe, algo.WindowSpec{Source: algo.SourcePrice, T1: 10, T2: 0}, 1)
	now = now.Add(9 * time.Minute)

	if dropped := st.SweepExpired(); dropped != 0 {
		t.Errorf("recently read buffer must not be swept, dropped=%d", dropped)
	}
}

func TestClearAndLen(t *testing.T) {
	st := NewStore(0, 0)
	st.RecordPrice("X", DefaultTimeframe, quote(1, 1))
	st.RecordDeal("X", DefaultTimeframe, model.DealPoint{Timestamp: 1, Price: 1, Volume: 1})
	bufs, points := st.Len()
	if bufs != 2 || points != 2 {
		t.Errorf("Len: got (%d, %d), want (2, 2)", bufs, points)
	}
	st.Clear()
	bufs, points = st.Len()
	if bufs != 0 || points != 0 {
		t.Errorf("after Clear: got (%d, %d), want (0, 0)", bufs, points)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	if got := model.NormalizeTimestamp(1_700_000_000_000); got != 1_700_000_000 {
		t.Errorf("millisecond input: got %v", got)
	}
	if got := model.NormalizeTimestamp(1_700_000_000); got != 1_700_000_000 {
		t.Errorf("second input must pass through: got %v", got)
	}
}
