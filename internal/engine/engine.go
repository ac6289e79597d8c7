// Package engine wires the store, router, deriver, and supervisor into
// one observable unit and fans the derived snapshot out to consumers.
// Each engine is a self-contained instance; nothing here is process
// global, so tests can run several side by side.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/overlook-dev/overlook/internal/derive"
	"github.com/overlook-dev/overlook/internal/router"
	"github.com/overlook-dev/overlook/internal/source"
	"github.com/overlook-dev/overlook/internal/store"
	"github.com/overlook-dev/overlook/internal/supervisor"
	"github.com/overlook-dev/overlook/internal/types"
)

// Options configures an Engine.
type Options struct {
	// Supervisor, when set, is started as the "servers" event source
	// and drives the aggregate connection status.
	Supervisor *supervisor.Supervisor
	// Sources are additional pluggable event sources merged with the
	// supervisor's stream.
	Sources []source.Source
	Logger  *slog.Logger
}

// Engine is the public observation surface. No error ever crosses it:
// connection trouble shows up only as ConnectionStatus transitions and
// snapshot content changes.
type Engine struct {
	store  *store.Store
	router *router.Router
	sup    *supervisor.Supervisor
	srcs   []source.Source
	log    *slog.Logger

	// mu serializes mutation, derivation, and fan-out; a subscriber
	// can never observe a torn intermediate state.
	mu       sync.Mutex
	snapshot *derive.Snapshot
	subs     []*subscription

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

type subscription struct {
	id string
	fn func(*derive.Snapshot)
}

// New creates an engine. Call Start to begin ingesting events; the
// snapshot surface works (empty) before that.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	st := store.New()
	e := &Engine{
		store:  st,
		router: router.New(st, opts.Logger),
		sup:    opts.Supervisor,
		srcs:   opts.Sources,
		log:    opts.Logger.With("component", "engine"),
		done:   make(chan struct{}),
	}
	e.snapshot = derive.Derive(st.Snapshot(), e.connectionStatus())
	return e
}

// Start launches the merged stream consumer. It is a no-op the second
// time and after Close.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	sources := e.srcs
	if e.sup != nil {
		sources = append([]source.Source{e.sup}, sources...)
	}

	go func() {
		defer close(e.done)
		merged := source.Merge(runCtx, sources, e.log)
		for ev := range merged.Events {
			e.apply(ev)
		}
		if err := merged.Err(); err != nil && runCtx.Err() == nil {
			e.log.Error("event stream ended", "error", err)
		}
	}()
}

// apply is the single mutation entry point: route, re-derive, fan out.
func (e *Engine) apply(ev types.SourceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.router.Apply(ev) {
		return
	}

	e.snapshot = derive.Derive(e.store.Snapshot(), e.connectionStatus())
	for _, sub := range e.subs {
		sub.fn(e.snapshot)
	}
}

func (e *Engine) connectionStatus() derive.ConnectionStatus {
	if e.sup == nil {
		return derive.StatusDisconnected
	}
	return e.sup.Status()
}

// Snapshot returns the current world snapshot without subscribing.
func (e *Engine) Snapshot() *derive.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Subscribe registers fn and invokes it immediately with the current
// snapshot, so a new subscriber is never blind until the next change.
// Afterwards fn runs synchronously on every mutation, in registration
// order. The returned unsubscribe function is idempotent.
func (e *Engine) Subscribe(fn func(*derive.Snapshot)) func() {
	e.mu.Lock()
	sub := &subscription{id: uuid.NewString(), fn: fn}
	e.subs = append(e.subs, sub)
	fn(e.snapshot)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.unsubscribe(sub.id) })
	}
}

func (e *Engine) unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Close tears down the supervisor and every connection. Idempotent;
// safe to call concurrently with subscribers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	started := e.started
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-e.done
	}
}
