// Package saga turns fire-and-forget command messages into synchronous-
// looking calls. A caller registers a correlation entry, publishes the
// command, and blocks on the returned handle until a matching outcome event
// arrives or the entry times out.
package saga

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/learning-platform/internal/observability"
	apperrors "github.com/spec-kit/learning-platform/pkg/util/errorutil"
)

// State is the terminal disposition of a correlation entry. An entry is
// PENDING from creation until exactly one of the terminal states is entered.
type State int

const (
	StatePending State = iota
	StateSettledOK
	StateSettledFail
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSettledOK:
		return "settled_ok"
	case StateSettledFail:
		return "settled_fail"
	case StateTimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// Outcome is what a pending handle settles with.
type Outcome struct {
	State  State
	Reason string
}

// Pending is the caller's handle on an in-flight saga.
type Pending struct {
	done chan Outcome
}

// Wait blocks until the saga settles or ctx is cancelled. Abandoning a wait
// does not remove the registry entry; the timeout path reclaims it.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-p.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type entry struct {
	id        string
	done      chan Outcome
	timer     *time.Timer
	createdAt time.Time
}

// Correlator owns the registry of pending operations keyed by correlation
// id. The registry is the only shared mutable state in this subsystem; every
// transition on an entry happens under the correlator's lock, so a given id
// settles exactly once. When a timeout and a late outcome race, whichever
// acts on the registry first wins and the other finds no entry.
type Correlator struct {
	logger     *zap.Logger
	metrics    *observability.Metrics
	maxPending int

	mu       sync.Mutex
	pending  map[string]*entry
	shutdown bool
}

// NewCorrelator builds a correlator bounded to maxPending concurrent
// entries.
func NewCorrelator(maxPending int, logger *zap.Logger, metrics *observability.Metrics) *Correlator {
	if maxPending <= 0 {
		maxPending = 1024
	}
	return &Correlator{
		logger:     logger,
		metrics:    metrics,
		maxPending: maxPending,
		pending:    make(map[string]*entry),
	}
}

// Initiate registers a correlation entry, publishes the command via publish,
// and returns the pending handle. A second initiation for an id that is
// still pending fails immediately with DUPLICATE_IN_FLIGHT rather than
// queuing, so concurrent commands against the same subject never race. A
// publish failure unregisters the entry and surfaces as BROKER_UNAVAILABLE.
func (c *Correlator) Initiate(id string, timeout time.Duration, publish func() error) (*Pending, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, apperrors.NewDomainError("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable, nil)
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, apperrors.NewDuplicateInFlight("operation already in progress")
	}
	if len(c.pending) >= c.maxPending {
		c.mu.Unlock()
		return nil, apperrors.NewDomainError("REGISTRY_FULL", "too many operations in progress", http.StatusServiceUnavailable, nil)
	}

	e := &entry{
		id:        id,
		done:      make(chan Outcome, 1),
		createdAt: time.Now(),
	}
	e.timer = time.AfterFunc(timeout, func() { c.onTimeout(id) })
	c.pending[id] = e
	c.mu.Unlock()

	if err := publish(); err != nil {
		c.remove(id)
		return nil, apperrors.NewBrokerUnavailable(err)
	}

	return &Pending{done: e.done}, nil
}

// Resolve settles the entry for id successfully. Unknown ids are logged and
// discarded; outcome delivery is at-least-once, so a duplicate or late event
// must be inert.
func (c *Correlator) Resolve(id, reason string) {
	c.settle(id, Outcome{State: StateSettledOK, Reason: reason})
}

// Reject settles the entry for id with the failure reason. Unknown ids are
// logged and discarded.
func (c *Correlator) Reject(id, reason string) {
	c.settle(id, Outcome{State: StateSettledFail, Reason: reason})
}

// Len reports the number of pending entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown rejects every pending entry with a shutting-down failure and
// refuses new initiations. Idempotent.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	entries := make([]*entry, 0, len(c.pending))
	for _, e := range c.pending {
		entries = append(entries, e)
	}
	c.pending = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.done <- Outcome{State: StateSettledFail, Reason: "service shutting down"}
	}
	if len(entries) > 0 {
		c.logger.Warn("correlator shutdown rejected pending operations", zap.Int("count", len(entries)))
	}
}

func (c *Correlator) settle(id string, out Outcome) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		c.logger.Info("discarding outcome for unknown correlation id",
			zap.String("correlation_id", id),
			zap.String("state", out.State.String()),
		)
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	e.timer.Stop()
	e.done <- out
	c.metrics.RecordSagaOutcome(out.State.String())
	c.logger.Info("saga settled",
		zap.String("correlation_id", id),
		zap.String("state", out.State.String()),
		zap.Duration("elapsed", time.Since(e.createdAt)),
	)
}

func (c *Correlator) onTimeout(id string) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok {
		// already settled; the outcome won the race
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	e.done <- Outcome{State: StateTimedOut, Reason: "operation timed out"}
	c.metrics.RecordSagaOutcome(StateTimedOut.String())
	c.logger.Warn("saga timed out",
		zap.String("correlation_id", id),
		zap.Duration("elapsed", time.Since(e.createdAt)),
	)
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		e.timer.Stop()
	}
}
