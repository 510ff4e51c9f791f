package engine

import "errors"

// Engine error taxonomy. Configuration errors are the caller's fault and
// reject the request; calculation errors are contained per instance;
// resource errors mean the engine is protecting itself.
var (
	// ErrUnknownType is returned when no registered algorithm matches the
	// requested indicator type.
	ErrUnknownType = errors.New("unknown indicator type")

	// ErrInvalidParams wraps parameter validation failures.
	ErrInvalidParams = errors.New("invalid indicator parameters")

	// ErrInstanceNotFound is returned for lookups of unknown instance IDs.
	ErrInstanceNotFound = errors.New("indicator instance not found")

	// ErrVariantNotFound is returned when a session subscription names an
	// unknown variant.
	ErrVariantNotFound = errors.New("indicator variant not found")

	// ErrTooManyInstances is returned when the per-symbol or global
	// instance limit would be exceeded.
	ErrTooManyInstances = errors.New("indicator instance limit reached")

	// ErrResourceExhausted rejects new subscriptions while emergency
	// memory cleanup has failed to relieve pressure.
	ErrResourceExhausted = errors.New("engine resources exhausted")
)
