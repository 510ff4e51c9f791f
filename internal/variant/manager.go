// Package variant manages named indicator parameterizations. The external
// repository is the source of truth; the manager mirrors it into an
// in-memory index for lock-free lookup on the calculation path and keeps
// the mirror consistent by writing through the repository first.
package variant

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/model"
)

// loadMaxElapsed bounds the startup bulk-load retries. Past it the engine
// starts degraded with an empty variant set rather than not at all.
const loadMaxElapsed = 30 * time.Second

// Manager owns the in-memory variant index.
type Manager struct {
	mu   sync.RWMutex
	repo model.VariantRepository
	reg  *algo.Registry
	val  *validator.Validate

	byID   map[string]model.IndicatorVariant
	byType map[string][]string // base type → variant IDs

	degraded bool
}

// New creates a manager over a repository and the algorithm registry.
func New(repo model.VariantRepository, reg *algo.Registry) *Manager {
	return &Manager{
		repo:   repo,
		reg:    reg,
		val:    validator.New(),
		byID:   make(map[string]model.IndicatorVariant, 64),
		byType: make(map[string][]string, 16),
	}
}

// Load bulk-loads every variant from the repository with exponential
// backoff. On persistent failure the manager stays usable with an empty
// index and reports degraded; the returned error is for logging only.
func (m *Manager) Load(ctx context.Context) error {
	var variants []model.IndicatorVariant

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = loadMaxElapsed
	err := backoff.Retry(func() error {
		var err error
		variants, err = m.repo.LoadAllVariants(ctx)
		if err != nil {
			log.Printf("[variant] load attempt failed: %v", err)
		}
		return err
	}, backoff.WithContext(bo, ctx))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.degraded = true
		m.byID = make(map[string]model.IndicatorVariant, 64)
		m.byType = make(map[string][]string, 16)
		log.Printf("[variant] starting DEGRADED with empty variant set: %v", err)
		return fmt.Errorf("variant load: %w", err)
	}

	m.degraded = false
	m.rebuildIndexLocked(variants)
	log.Printf("[variant] loaded %d variants", len(variants))
	return nil
}

// Reload re-fetches the repository once, swapping the index atomically.
func (m *Manager) Reload(ctx context.Context) error {
	variants, err := m.repo.LoadAllVariants(ctx)
	if err != nil {
		return fmt.Errorf("variant reload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = false
	m.rebuildIndexLocked(variants)
	return nil
}

func (m *Manager) rebuildIndexLocked(variants []model.IndicatorVariant) {
	m.byID = make(map[string]model.IndicatorVariant, len(variants))
	m.byType = make(map[string][]string, 16)
	for _, v := range variants {
		m.byID[v.ID] = v
		m.byType[v.BaseType] = append(m.byType[v.BaseType], v.ID)
	}
}

// Create validates and persists a new variant, then mirrors it. Nothing
// enters the index unless the repository write succeeded.
func (m *Manager) Create(ctx context.Context, v model.IndicatorVariant) (string, error) {
	if err := m.validate(v); err != nil {
		return "", err
	}
	params, err := m.normalizedParams(v.BaseType, v.Parameters)
	if err != nil {
		return "", err
	}
	v.Parameters = params
	v.CreatedAt = time.Now().UTC()

	id, err := m.repo.CreateVariant(ctx, v)
	if err != nil {
		return "", fmt.Errorf("variant create: %w", err)
	}
	v.ID = id

	m.mu.Lock()
	m.byID[id] = v
	m.byType[v.BaseType] = append(m.byType[v.BaseType], id)
	m.mu.Unlock()
	return id, nil
}

// Update replaces a variant's parameters after validating them against
// the base algorithm's schema.
func (m *Manager) Update(ctx context.Context, id string, params map[string]any) (bool, error) {
	m.mu.RLock()
	v, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}

	normalized, err := m.normalizedParams(v.BaseType, params)
	if err != nil {
		return false, err
	}

	updated, err := m.repo.UpdateVariant(ctx, id, normalized)
	if err != nil || !updated {
		return updated, err
	}

	m.mu.Lock()
	v.Parameters = normalized
	m.byID[id] = v
	m.mu.Unlock()
	return true, nil
}

// Delete soft-deletes a variant and drops it from the index.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := m.repo.DeleteVariant(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}

	m.mu.Lock()
	if v, ok := m.byID[id]; ok {
		delete(m.byID, id)
		ids := m.byType[v.BaseType]
		for i, vid := range ids {
			if vid == id {
				m.byType[v.BaseType] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	return true, nil
}

// Variant returns a variant by ID. Satisfies the engine's lookup port.
func (m *Manager) Variant(id string) (*model.IndicatorVariant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	cp := v
	cp.Parameters = copyParams(v.Parameters)
	return &cp, true
}

// All returns every indexed variant, oldest first.
func (m *Manager) All() []model.IndicatorVariant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.IndicatorVariant, 0, len(m.byID))
	for _, v := range m.byID {
		v.Parameters = copyParams(v.Parameters)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ByType returns the variants of one base algorithm type.
func (m *Manager) ByType(baseType string) []model.IndicatorVariant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byType[baseType]
	out := make([]model.IndicatorVariant, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.byID[id]; ok {
			v.Parameters = copyParams(v.Parameters)
			out = append(out, v)
		}
	}
	return out
}

// Degraded reports whether the startup bulk load failed.
func (m *Manager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// Count returns the number of indexed variants.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// validate runs structural validation plus the domain rules: a known
// category and a registered base algorithm.
func (m *Manager) validate(v model.IndicatorVariant) error {
	if err := m.val.Struct(v); err != nil {
		return fmt.Errorf("invalid variant: %w", err)
	}
	if !model.ValidCategory(v.Category) {
		return fmt.Errorf("invalid variant: unknown category %q (allowed: %v)", v.Category, model.VariantCategories)
	}
	if m.reg.Get(v.BaseType) == nil {
		return fmt.Errorf("invalid variant: unknown base indicator type %q", v.BaseType)
	}
	return nil
}

// normalizedParams validates raw parameters against the base algorithm
// schema and returns the coerced set that will be stored.
func (m *Manager) normalizedParams(baseType string, raw map[string]any) (map[string]any, error) {
	alg := m.reg.Get(baseType)
	if alg == nil {
		return nil, fmt.Errorf("unknown base indicator type %q", baseType)
	}
	p, err := algo.ValidateParams(alg.Parameters(), raw)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters for %s: %w", baseType, err)
	}
	return map[string]any(p), nil
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
