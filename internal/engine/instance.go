package engine

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"time"

	"indicator-enginev1/internal/algo"
)

// instance is one live indicator subscription: an algorithm bound to a
// symbol, timeframe and validated parameter set, plus its current value.
// All fields are guarded by the engine lock.
type instance struct {
	id          string
	symbol      string
	timeframe   string
	typ         string
	variantID   string
	params      algo.Params
	fingerprint string // canonical params, cache key component

	alg        algo.Algorithm
	timeDriven bool
	refresh    time.Duration
	fast       fastCalc // nil unless the type has an incremental form

	value    float64
	hasValue bool
	valueAt  float64 // event time (seconds) of the current value

	createdAt  time.Time
	lastCalcAt time.Time
	lastAccess time.Time
	calcCount  uint64
	errCount   uint64

	// sessionOwned instances are removed once no session references them.
	sessionOwned bool
	sessions     map[string]struct{}
}

func (in *instance) setValue(v float64, at float64, now time.Time) {
	in.value = v
	in.hasValue = true
	in.valueAt = at
	in.lastCalcAt = now
	in.lastAccess = now
	in.calcCount++
}

// paramsFingerprint canonicalizes a parameter set: sorted keys, %v values.
// Two semantically equal parameter maps always fingerprint identically.
func paramsFingerprint(p algo.Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s=%v", k, p[k])
	}
	return out
}

// instanceID derives the stable instance identity from everything that
// makes two subscriptions interchangeable. Adding the same indicator
// twice yields the same ID, which is what makes AddIndicator idempotent.
func instanceID(typ, symbol, timeframe, fingerprint string) string {
	h := fnv.New64a()
	h.Write([]byte(typ))
	h.Write([]byte{0})
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(timeframe))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return strconv.FormatUint(h.Sum64(), 16)
}

// InstanceInfo is the externally visible view of one instance.
type InstanceInfo struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	Type           string         `json:"type"`
	VariantID      string         `json:"variant_id,omitempty"`
	Params         map[string]any `json:"parameters"`
	TimeDriven     bool           `json:"time_driven"`
	RefreshSeconds float64        `json:"refresh_seconds"`
	Value          float64        `json:"value"`
	HasValue       bool           `json:"has_value"`
	ValueAt        float64        `json:"value_at"`
	CreatedAt      time.Time      `json:"created_at"`
	LastCalcAt     time.Time      `json:"last_calc_at"`
	CalcCount      uint64         `json:"calc_count"`
	ErrCount       uint64         `json:"err_count"`
}

func (in *instance) info() InstanceInfo {
	params := make(map[string]any, len(in.params))
	for k, v := range in.params {
		params[k] = v
	}
	return InstanceInfo{
		ID:             in.id,
		Symbol:         in.symbol,
		Timeframe:      in.timeframe,
		Type:           in.typ,
		VariantID:      in.variantID,
		Params:         params,
		TimeDriven:     in.timeDriven,
		RefreshSeconds: in.refresh.Seconds(),
		Value:          in.value,
		HasValue:       in.hasValue,
		ValueAt:        in.valueAt,
		CreatedAt:      in.createdAt,
		LastCalcAt:     in.lastCalcAt,
		CalcCount:      in.calcCount,
		ErrCount:       in.errCount,
	}
}
