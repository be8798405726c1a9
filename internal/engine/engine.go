// Package engine implements the coordination protocol on top of the
// storage layer: dependency-aware claiming with leases, the checklist
// ledger, the completion gate, lease reclamation, and drift handling.
//
// Every mutating operation runs inside one storage transaction; the
// engine holds no authoritative state in memory between calls. Multiple
// orchestrator processes may drive the same store concurrently.
package engine

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/loomworks/loom/internal/storage"
)

// ErrNotClaimed is returned when an operation requires the caller to
// hold the step and it does not (unclaimed, or claimed by someone else).
var ErrNotClaimed = errors.New("step not claimed by caller")

// ErrAlreadyCompleted is returned when mutating a completed step.
var ErrAlreadyCompleted = errors.New("step already completed")

// ErrReasonRequired is returned when a force or reconcile operation is
// missing its mandatory justification.
var ErrReasonRequired = errors.New("reason is required")

// Engine is the shared arbiter all orchestrators call into.
type Engine struct {
	store   storage.Storage
	log     *logrus.Logger
	metrics *metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine over the given store.
func New(store storage.Storage, opts ...Option) *Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	e := &Engine{store: store, log: log}
	for _, opt := range opts {
		opt(e)
	}
	e.metrics = newMetrics()
	return e
}
