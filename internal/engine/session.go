package engine

import (
	"fmt"
	"log"
	"sort"
	"time"

	"indicator-enginev1/internal/algo"
)

// Session indicator tracking. Trading sessions subscribe to indicators by
// variant ID; the engine records which instance backs each subscription
// so sessions can be enumerated, torn down and repaired independently of
// the shared instance store.

// sessionEntry is one session-level subscription record.
type sessionEntry struct {
	InstanceID  string    `json:"instance_id"`
	VariantID   string    `json:"variant_id"`
	Fingerprint string    `json:"fingerprint"`
	AddedAt     time.Time `json:"added_at"`
}

// AddSessionIndicator subscribes a session to a variant on a symbol.
// Overrides are merged over the variant's stored parameters and validated
// against the base algorithm's schema. Subscribing the same (variant,
// params) twice in one session returns the existing subscription.
func (e *Engine) AddSessionIndicator(session, symbol, variantID string, overrides map[string]any) (string, error) {
	if session == "" || symbol == "" {
		return "", fmt.Errorf("%w: session and symbol are required", ErrInvalidParams)
	}
	if e.variants == nil {
		return "", fmt.Errorf("%w: %q", ErrVariantNotFound, variantID)
	}
	v, ok := e.variants.Variant(variantID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrVariantNotFound, variantID)
	}

	merged := make(map[string]any, len(v.Parameters)+len(overrides))
	for k, val := range v.Parameters {
		merged[k] = val
	}
	timeframe := ""
	for k, val := range overrides {
		if k == "timeframe" {
			if s, ok := val.(string); ok {
				timeframe = s
				continue
			}
		}
		merged[k] = val
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, created, err := e.addLocked(AddRequest{
		Symbol:    symbol,
		Type:      v.BaseType,
		Timeframe: timeframe,
		Params:    merged,
		VariantID: variantID,
		session:   session,
	})
	if err != nil {
		return "", err
	}

	in := e.instances[id]
	entries := e.sessions[session][symbol]
	for _, en := range entries {
		if en.InstanceID == id {
			return id, nil // already tracked
		}
	}
	e.attachToSession(session, symbol, sessionEntry{
		InstanceID:  id,
		VariantID:   variantID,
		Fingerprint: in.fingerprint,
		AddedAt:     e.clock(),
	})
	if created {
		log.Printf("[engine] session %s subscribed %s on %s (instance %s)", session, variantID, symbol, id)
	}
	return id, nil
}

// SessionIndicators lists a session's subscriptions on one symbol,
// oldest first. An empty symbol lists every symbol of the session.
func (e *Engine) SessionIndicators(session, symbol string) []InstanceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := []string{symbol}
	if symbol == "" {
		symbols = e.sessionSymbolsLocked(session)
	}

	var out []InstanceInfo
	for _, sym := range symbols {
		for _, en := range e.sessions[session][sym] {
			if in, ok := e.instances[en.InstanceID]; ok {
				out = append(out, in.info())
			}
		}
	}
	if out == nil {
		out = []InstanceInfo{}
	}
	return out
}

// sessionSymbolsLocked returns the session's symbols in sorted order so
// all-symbol listings are deterministic.
func (e *Engine) sessionSymbolsLocked(session string) []string {
	bySymbol := e.sessions[session]
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// RemoveSessionIndicator drops one subscription. The backing instance is
// removed only when it was session-created and no session still holds it.
func (e *Engine) RemoveSessionIndicator(session, symbol, instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.sessions[session][symbol]
	idx := -1
	for i, en := range entries {
		if en.InstanceID == instanceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	e.sessions[session][symbol] = append(entries[:idx], entries[idx+1:]...)
	e.releaseInstanceRef(session, instanceID)
	return true
}

// ClearSession tears down every subscription of a session across all
// symbols. Called when a trading session ends.
func (e *Engine) ClearSession(session string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	removed := 0
	for _, entries := range e.sessions[session] {
		for _, en := range entries {
			ids = append(ids, en.InstanceID)
			removed++
		}
	}
	delete(e.sessions, session)
	for _, id := range ids {
		e.releaseInstanceRef(session, id)
	}
	return removed
}

// CleanupDuplicateIndicators repairs a session that accumulated multiple
// subscriptions for the same (variant, params) pair, keeping the most
// recently added of each group. An empty symbol sweeps every symbol of
// the session. Duplicates can appear after a snapshot restore races new
// subscriptions.
func (e *Engine) CleanupDuplicateIndicators(session, symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if symbol == "" {
		removed := 0
		for _, sym := range e.sessionSymbolsLocked(session) {
			removed += e.cleanupDuplicatesLocked(session, sym)
		}
		return removed
	}
	return e.cleanupDuplicatesLocked(session, symbol)
}

func (e *Engine) cleanupDuplicatesLocked(session, symbol string) int {
	entries := e.sessions[session][symbol]
	if len(entries) < 2 {
		return 0
	}

	type groupKey struct{ variant, fp string }
	newest := make(map[groupKey]int, len(entries))
	for i, en := range entries {
		k := groupKey{en.VariantID, en.Fingerprint}
		if j, ok := newest[k]; !ok || en.AddedAt.After(entries[j].AddedAt) {
			newest[k] = i
		}
	}

	var kept []sessionEntry
	var dropped []string
	for i, en := range entries {
		if newest[groupKey{en.VariantID, en.Fingerprint}] == i {
			kept = append(kept, en)
			continue
		}
		dropped = append(dropped, en.InstanceID)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].AddedAt.Before(kept[j].AddedAt) })
	e.sessions[session][symbol] = kept
	for _, id := range dropped {
		e.releaseInstanceRef(session, id)
	}
	removed := len(dropped)

	if removed > 0 {
		log.Printf("[engine] session %s: removed %d duplicate indicators on %s", session, removed, symbol)
	}
	return removed
}

func (e *Engine) attachToSession(session, symbol string, en sessionEntry) {
	bySymbol := e.sessions[session]
	if bySymbol == nil {
		bySymbol = make(map[string][]sessionEntry, 4)
		e.sessions[session] = bySymbol
	}
	bySymbol[symbol] = append(bySymbol[symbol], en)
}

// detachFromSession removes every entry of an instance from one session's
// records. Called when the instance itself is being removed.
func (e *Engine) detachFromSession(session, instanceID string) {
	bySymbol := e.sessions[session]
	for symbol, entries := range bySymbol {
		kept := entries[:0]
		for _, en := range entries {
			if en.InstanceID != instanceID {
				kept = append(kept, en)
			}
		}
		if len(kept) == 0 {
			delete(bySymbol, symbol)
		} else {
			bySymbol[symbol] = kept
		}
	}
	if len(bySymbol) == 0 {
		delete(e.sessions, session)
	}
}

// releaseInstanceRef drops a session's hold on an instance and removes
// the instance once it is session-owned and unreferenced. Callers must
// update the tracking entries first: the hold survives while any entry of
// the session still points at the instance.
func (e *Engine) releaseInstanceRef(session, instanceID string) {
	in, ok := e.instances[instanceID]
	if !ok {
		return
	}
	for _, entries := range e.sessions[session] {
		for _, en := range entries {
			if en.InstanceID == instanceID {
				return
			}
		}
	}
	delete(in.sessions, session)
	if in.sessionOwned && len(in.sessions) == 0 {
		delete(e.instances, instanceID)
		delete(e.schedules, instanceID)
		if e.met != nil {
			e.met.Instances.Set(float64(len(e.instances)))
		}
	}
}

// NormalizeParams validates raw parameters against a base algorithm's
// schema without creating anything. Used by the variant CRUD boundary.
func (e *Engine) NormalizeParams(baseType string, raw map[string]any) (algo.Params, error) {
	alg := e.reg.Get(baseType)
	if alg == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, baseType)
	}
	p, err := algo.ValidateParams(alg.Parameters(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return p, nil
}
