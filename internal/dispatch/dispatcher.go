// Package dispatch selects and invokes the reply handler for a stream and
// keeps aggregate dispatch statistics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/stream"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

// ErrRateLimited means the global dispatch limiter had no token; the cycle
// is skipped, not failed, and the scheduler simply tries again next timer.
var ErrRateLimited = errors.New("dispatch rate limit exceeded")

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Dispatches     uint64
	Successes      uint64
	Failures       uint64
	ActiveHandlers int
}

// Dispatcher runs one reply-generation cycle per call. Handler errors and
// panics are contained here: a failed dispatch never reaches the
// scheduler loop as anything other than a counted, logged failure.
type Dispatcher struct {
	registry *Registry
	marks    store.ReadStore // nil = no persistence collaborator
	limiter  *rate.Limiter   // nil = unlimited

	dispatches atomic.Uint64
	successes  atomic.Uint64
	failures   atomic.Uint64
}

// NewDispatcher creates a dispatcher. marks may be nil; rpm <= 0 disables
// rate limiting.
func NewDispatcher(registry *Registry, marks store.ReadStore, rpm int) *Dispatcher {
	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	return &Dispatcher{
		registry: registry,
		marks:    marks,
		limiter:  limiter,
	}
}

// Dispatch runs the stream's handler against the current unread snapshot.
// On success the processed messages move to history and the mark-read
// batch goes to the persistence collaborator. Returns an error only for
// infrastructure conditions (no handler, rate limited); handler failure is
// counted and logged but reported as a completed cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, st *stream.State) error {
	if d.limiter != nil && !d.limiter.Allow() {
		slog.Debug("dispatch skipped by rate limit", "stream", st.ID())
		return ErrRateLimited
	}

	handler, err := d.registry.HandlerFor(st.ID(), st.Kind())
	if err != nil {
		d.failures.Add(1)
		slog.Error("dispatch aborted", "stream", st.ID(), "error", err)
		return err
	}

	runID := uuid.NewString()[:8]
	d.dispatches.Add(1)

	ctx, span := tracing.Tracer().Start(ctx, "dispatch")
	span.SetAttributes(
		attribute.String("stream.id", st.ID()),
		attribute.String("stream.kind", string(st.Kind())),
		attribute.String("run.id", runID),
	)
	defer span.End()

	// Snapshot before executing: messages arriving mid-dispatch land in
	// the stream's inbound buffer, so unread stays stable underneath the
	// handler.
	unread := st.UnreadSnapshot()
	ids := make([]string, len(unread))
	for i, m := range unread {
		ids[i] = m.ID
	}

	out, err := d.execute(ctx, handler, st)
	if err != nil {
		d.failures.Add(1)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("dispatch failed", "stream", st.ID(), "run", runID, "error", err)
		return nil
	}
	if !out.Success {
		d.failures.Add(1)
		span.SetStatus(codes.Error, out.ErrorMessage)
		slog.Warn("handler reported failure",
			"stream", st.ID(), "run", runID, "error", out.ErrorMessage)
		return nil
	}

	d.successes.Add(1)
	span.SetAttributes(attribute.Int("dispatch.actions", out.ActionCount))

	moved := st.MarkRead(ids)
	if d.marks != nil {
		if err := d.marks.MarkRead(ctx, st.ID(), ids); err != nil {
			slog.Warn("mark-read persistence failed", "stream", st.ID(), "error", err)
		} else if err := d.marks.CleanupUnread(ctx, st.ID()); err != nil {
			slog.Warn("unread cleanup failed", "stream", st.ID(), "error", err)
		}
	}

	slog.Info("dispatch completed",
		"stream", st.ID(),
		"run", runID,
		"actions", out.ActionCount,
		"read", moved,
	)
	return nil
}

// execute invokes the handler with panic containment.
func (d *Dispatcher) execute(ctx context.Context, h Handler, st *stream.State) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			slog.Error("handler panicked",
				"stream", st.ID(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return h.Execute(ctx, st)
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatches:     d.dispatches.Load(),
		Successes:      d.successes.Load(),
		Failures:       d.failures.Load(),
		ActiveHandlers: d.registry.ActiveHandlers(),
	}
}
