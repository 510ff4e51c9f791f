package model

import "context"

// ── Ports ──
// Narrow interfaces to the surrounding system. The engine depends only on
// these; concrete adapters (SQLite, Redis, Kafka, WebSocket) live in their
// own packages and satisfy one interface each.

// VariantRepository persists indicator variants. The engine treats it as
// the source of truth and keeps only an in-memory mirror.
type VariantRepository interface {
	// LoadAllVariants returns every non-deleted variant.
	LoadAllVariants(ctx context.Context) ([]IndicatorVariant, error)

	// CreateVariant persists a new variant and returns its assigned ID.
	CreateVariant(ctx context.Context, v IndicatorVariant) (string, error)

	// GetVariant returns a variant by ID. Returns nil, nil if not found.
	GetVariant(ctx context.Context, id string) (*IndicatorVariant, error)

	// UpdateVariant replaces the stored parameters of a variant.
	UpdateVariant(ctx context.Context, id string, params map[string]any) (bool, error)

	// DeleteVariant soft-deletes a variant.
	DeleteVariant(ctx context.Context, id string) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// UpdatePublisher delivers indicator updates to the external event bus.
// Publish is called outside the engine lock, after a full event batch.
type UpdatePublisher interface {
	// PublishBatch delivers a batch of updates. Order among sibling
	// indicators of the same event is not guaranteed.
	PublishBatch(ctx context.Context, updates []IndicatorUpdate) error

	// Close flushes and releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes engine state checkpoints as raw JSON.
// Using []byte avoids an import cycle with the engine package.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(ctx context.Context, data []byte) error

	// ReadSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadSnapshotJSON(ctx context.Context) ([]byte, error)
}

// EventSource streams inbound market events into the engine.
type EventSource interface {
	// Run pushes events to out until ctx is cancelled.
	Run(ctx context.Context, out chan<- MarketEvent) error

	// Close releases underlying resources.
	Close() error
}
