// Package flowctx carries per-invocation flow identifiers through nested
// agent calls. A Flow is created once at a pipeline entry point, inherited by
// every callee (including concurrently spawned branch goroutines), and torn
// down when the invocation completes on any exit path.
package flowctx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Flow is one frame of a flow: the run identity plus the agent occupying it.
// Frames are read-only to callees; WithAgent derives a child frame instead of
// mutating the parent.
type Flow struct {
	FlowType  string
	RunID     string
	AgentName string
	Order     int64

	counter  *int64
	finished *atomic.Bool
	started  time.Time
}

// Start opens a new flow and attaches it to the context. The returned Flow
// must be finished exactly once, typically via defer.
func Start(ctx context.Context, flowType string) (context.Context, *Flow) {
	f := &Flow{
		FlowType:  flowType,
		RunID:     uuid.NewString(),
		AgentName: flowType,
		Order:     0,
		counter:   new(int64),
		finished:  new(atomic.Bool),
		started:   time.Now(),
	}
	return context.WithValue(ctx, ctxKey{}, f), f
}

// From returns the flow attached to ctx, if any.
func From(ctx context.Context) (*Flow, bool) {
	f, ok := ctx.Value(ctxKey{}).(*Flow)
	return f, ok
}

// WithAgent derives a child frame for a nested agent call. The trace order
// increments monotonically across all frames of the run, including frames
// created from concurrent goroutines. Calling WithAgent without an active
// flow starts a fresh one so sub-agents stay traceable in isolation.
func WithAgent(ctx context.Context, agent string) (context.Context, *Flow) {
	parent, ok := From(ctx)
	if !ok || parent.Done() {
		ctx, parent = Start(ctx, agent)
		return ctx, parent
	}
	child := &Flow{
		FlowType:  parent.FlowType,
		RunID:     parent.RunID,
		AgentName: agent,
		Order:     atomic.AddInt64(parent.counter, 1),
		counter:   parent.counter,
		finished:  parent.finished,
		started:   parent.started,
	}
	return context.WithValue(ctx, ctxKey{}, child), child
}

// Finish tears the flow down. It is idempotent and shared by all frames of
// the run, so a deferred Finish at the entry point closes everything.
func (f *Flow) Finish() {
	if f == nil || f.finished == nil {
		return
	}
	f.finished.Store(true)
}

// Done reports whether the flow has been torn down.
func (f *Flow) Done() bool {
	if f == nil || f.finished == nil {
		return true
	}
	return f.finished.Load()
}

// Elapsed returns time since the flow entry point.
func (f *Flow) Elapsed() time.Duration {
	if f == nil {
		return 0
	}
	return time.Since(f.started)
}
