package engine

import (
	"encoding/json"
	"log"
	"time"
)

// Engine state checkpoints. The snapshot captures every instance's
// subscription plus its current value and fast-path state, so a restart
// resumes with warm averages instead of waiting out a full window.

// InstanceState serializes one instance for checkpoint persistence.
type InstanceState struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Type      string         `json:"type"`
	VariantID string         `json:"variant_id,omitempty"`
	Params    map[string]any `json:"parameters"`

	Value    float64 `json:"value"`
	HasValue bool    `json:"has_value"`
	ValueAt  float64 `json:"value_at"`

	Fast *fastState `json:"fast,omitempty"`

	SessionOwned bool     `json:"session_owned,omitempty"`
	Sessions     []string `json:"sessions,omitempty"`
}

// EngineSnapshot is the full serialized engine state.
type EngineSnapshot struct {
	Version   int             `json:"version"`
	TakenAt   time.Time       `json:"taken_at"`
	Instances []InstanceState `json:"instances"`

	// Sessions holds session → symbol → subscription records.
	Sessions map[string]map[string][]sessionEntry `json:"sessions,omitempty"`
}

const snapshotVersion = 1

// Snapshot captures the engine state under the lock.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := EngineSnapshot{
		Version:  snapshotVersion,
		TakenAt:  e.clock(),
		Sessions: make(map[string]map[string][]sessionEntry, len(e.sessions)),
	}
	for _, in := range e.sortedInstances() {
		params := make(map[string]any, len(in.params))
		for k, v := range in.params {
			params[k] = v
		}
		st := InstanceState{
			Symbol:       in.symbol,
			Timeframe:    in.timeframe,
			Type:         in.typ,
			VariantID:    in.variantID,
			Params:       params,
			Value:        in.value,
			HasValue:     in.hasValue,
			ValueAt:      in.valueAt,
			SessionOwned: in.sessionOwned,
		}
		if in.fast != nil {
			fs := in.fast.State()
			st.Fast = &fs
		}
		for sess := range in.sessions {
			st.Sessions = append(st.Sessions, sess)
		}
		snap.Instances = append(snap.Instances, st)
	}
	for sess, bySymbol := range e.sessions {
		cp := make(map[string][]sessionEntry, len(bySymbol))
		for sym, entries := range bySymbol {
			cp[sym] = append([]sessionEntry(nil), entries...)
		}
		snap.Sessions[sess] = cp
	}
	return snap
}

// SnapshotJSON returns the JSON-encoded snapshot.
func (e *Engine) SnapshotJSON() ([]byte, error) {
	snap := e.Snapshot()
	return json.Marshal(&snap)
}

// Restore rebuilds instances from a snapshot. Tolerant of algorithm set
// changes: instances whose type is no longer registered or whose
// parameters fail today's validation are skipped cold, never fatal.
// Returns the number of instances restored.
func (e *Engine) Restore(snap EngineSnapshot) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	restored, cold := 0, 0
	for _, st := range snap.Instances {
		req := AddRequest{
			Symbol:    st.Symbol,
			Type:      st.Type,
			Timeframe: st.Timeframe,
			Params:    st.Params,
			VariantID: st.VariantID,
		}
		if st.SessionOwned && len(st.Sessions) > 0 {
			req.session = st.Sessions[0]
		}
		id, _, err := e.addLocked(req)
		if err != nil {
			cold++
			log.Printf("[engine] snapshot: skipping %s %s/%s: %v", st.Type, st.Symbol, st.Timeframe, err)
			continue
		}
		in := e.instances[id]
		for _, sess := range st.Sessions {
			in.sessions[sess] = struct{}{}
		}

		if st.Fast != nil {
			if fc, err := restoreFastCalc(*st.Fast); err == nil {
				in.fast = fc
			} else {
				log.Printf("[engine] snapshot: cold fast path for %s: %v", id, err)
			}
		}
		if st.HasValue {
			in.value = st.Value
			in.hasValue = true
			in.valueAt = st.ValueAt
		}
		restored++
	}

	for sess, bySymbol := range snap.Sessions {
		for sym, entries := range bySymbol {
			for _, en := range entries {
				if _, ok := e.instances[en.InstanceID]; !ok {
					continue // instance was skipped cold
				}
				e.attachToSession(sess, sym, en)
			}
		}
	}

	if cold > 0 {
		log.Printf("[engine] snapshot restore: %d restored, %d cold-started", restored, cold)
	}
	return restored
}

// RestoreJSON rebuilds engine state from a JSON snapshot.
func (e *Engine) RestoreJSON(data []byte) (int, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, err
	}
	return e.Restore(snap), nil
}
