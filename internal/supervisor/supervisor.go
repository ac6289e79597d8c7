// Package supervisor owns the per-server connection lifecycle: a
// discovery loop finds session servers, and each accepted server gets
// its own connect/bootstrap/stream/backoff state machine. The
// supervisor is itself an event source; everything it learns flows into
// the merged stream as events, never as direct store writes.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/overlook-dev/overlook/internal/client"
	"github.com/overlook-dev/overlook/internal/derive"
	"github.com/overlook-dev/overlook/internal/discovery"
	"github.com/overlook-dev/overlook/internal/types"
)

// DefaultDiscoveryInterval is how often the port range is rescanned.
const DefaultDiscoveryInterval = 5 * time.Second

// Options configures a Supervisor. Zero values take defaults.
type Options struct {
	FirstPort         int
	LastPort          int
	DiscoveryInterval time.Duration
	HandshakeTimeout  time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
	Logger            *slog.Logger
}

// Supervisor discovers servers and supervises one connection per live
// server. It implements source.Source under the name "servers".
type Supervisor struct {
	scanner     *discovery.Scanner
	interval    time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int
	log         *slog.Logger

	mu      sync.Mutex
	conns   map[int]*connection
	states  map[int]connState
	dirs    map[int]string
	stopped map[int]bool
	status  derive.ConnectionStatus
	wg      sync.WaitGroup
}

// New creates a supervisor for the configured port range.
func New(opts Options) *Supervisor {
	if opts.DiscoveryInterval == 0 {
		opts.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap == 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	scanner := discovery.NewScanner(opts.FirstPort, opts.LastPort, opts.Logger)
	if opts.HandshakeTimeout > 0 {
		scanner.SetTimeout(opts.HandshakeTimeout)
	}

	return &Supervisor{
		scanner:     scanner,
		interval:    opts.DiscoveryInterval,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger.With("component", "supervisor"),
		conns:       make(map[int]*connection),
		states:      make(map[int]connState),
		dirs:        make(map[int]string),
		stopped:     make(map[int]bool),
		status:      derive.StatusDisconnected,
	}
}

// Name implements source.Source.
func (s *Supervisor) Name() string { return "servers" }

// Available implements source.Source. The supervisor is always
// available; an empty port range just produces no events.
func (s *Supervisor) Available(ctx context.Context) bool { return true }

// Status returns the aggregate connection status, recomputed after
// every discovery tick and connection state transition.
func (s *Supervisor) Status() derive.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Events implements source.Source: it runs the discovery loop until ctx
// is canceled, then waits for every connection to release its socket.
func (s *Supervisor) Events(ctx context.Context, out chan<- types.SourceEvent) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scan(ctx, out)

	for {
		select {
		case <-ticker.C:
			s.scan(ctx, out)
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		}
	}
}

// shutdown cancels every connection and waits for their goroutines so
// no half-finished bootstrap can emit after Events returns.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	for _, c := range s.conns {
		c.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// scan runs one discovery pass: start connections for new servers,
// refresh known ones, drop everything that vanished from the range.
func (s *Supervisor) scan(ctx context.Context, out chan<- types.SourceEvent) {
	candidates := s.scanner.Scan(ctx)
	if ctx.Err() != nil {
		return
	}

	live := make(map[int]bool, len(candidates))
	livePorts := make([]int, 0, len(candidates))
	for _, cand := range candidates {
		live[cand.Port] = true
		livePorts = append(livePorts, cand.Port)
	}

	s.mu.Lock()
	var started []*connection
	for _, cand := range candidates {
		s.dirs[cand.Port] = cand.Directory
		if s.stopped[cand.Port] {
			continue
		}
		if _, ok := s.conns[cand.Port]; ok {
			continue
		}

		connCtx, cancel := context.WithCancel(ctx)
		c := &connection{
			port:      cand.Port,
			directory: cand.Directory,
			client:    client.New(cand.Port),
			cancel:    cancel,
			sup:       s,
		}
		s.conns[cand.Port] = c
		s.states[cand.Port] = stateConnecting
		s.wg.Add(1)
		started = append(started, c)
		go func() {
			defer s.wg.Done()
			c.run(connCtx, out)
		}()
	}

	// Servers gone from the scan lose their connection, their state,
	// and their stopped marker, so a later rediscovery starts fresh.
	for port, c := range s.conns {
		if !live[port] {
			c.cancel()
			delete(s.conns, port)
			delete(s.states, port)
			delete(s.dirs, port)
		}
	}
	for port := range s.stopped {
		if !live[port] {
			delete(s.stopped, port)
			delete(s.states, port)
			delete(s.dirs, port)
		}
	}
	s.recomputeStatusLocked()
	s.mu.Unlock()

	if len(started) > 0 {
		s.log.Info("discovery found new servers", "count", len(started), "total", len(candidates))
	}

	// Tell the store which instances survived this scan.
	data, err := json.Marshal(map[string][]int{"livePorts": livePorts})
	if err == nil {
		select {
		case out <- s.newEvent(0, "instance.pruned", data):
		case <-ctx.Done():
		}
	}

	// Refresh last-seen for every live server.
	for _, cand := range candidates {
		s.emitInstance(ctx, cand.Port, out)
	}
}

// setState records a connection transition, refreshes the aggregate
// status, and announces the instance change downstream.
func (s *Supervisor) setState(ctx context.Context, port int, st connState, out chan<- types.SourceEvent) {
	s.mu.Lock()
	s.states[port] = st
	if st == stateStopped {
		s.stopped[port] = true
		delete(s.conns, port)
	}
	s.recomputeStatusLocked()
	s.mu.Unlock()

	s.log.Debug("connection state changed", "port", port, "state", st.String())
	s.emitInstance(ctx, port, out)
}

// connDone clears the bookkeeping for a finished connection goroutine.
func (s *Supervisor) connDone(port int) {
	s.mu.Lock()
	if !s.stopped[port] {
		delete(s.conns, port)
	}
	s.recomputeStatusLocked()
	s.mu.Unlock()
}

// emitInstance sends an instance.updated event reflecting the server's
// current connection state.
func (s *Supervisor) emitInstance(ctx context.Context, port int, out chan<- types.SourceEvent) {
	s.mu.Lock()
	st, ok := s.states[port]
	dir := s.dirs[port]
	s.mu.Unlock()
	if !ok {
		return
	}

	inst := types.Instance{
		Port:      port,
		Directory: dir,
		Status:    instanceStatus(st),
		LastSeen:  time.Now(),
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return
	}
	select {
	case out <- s.newEvent(port, "instance.updated", data):
	case <-ctx.Done():
	}
}

// instanceStatus maps a connection state to the instance liveness shown
// to consumers.
func instanceStatus(st connState) types.InstanceStatus {
	switch st {
	case stateStreaming:
		return types.InstanceConnected
	case stateBackoff:
		return types.InstanceDisconnected
	case stateStopped:
		return types.InstanceStopped
	default:
		return types.InstanceConnecting
	}
}

// recomputeStatusLocked derives the aggregate status from the ratio of
// live to discovered connections. Callers hold s.mu.
func (s *Supervisor) recomputeStatusLocked() {
	if len(s.states) == 0 {
		s.status = derive.StatusDisconnected
		return
	}

	streaming, pending := 0, 0
	for _, st := range s.states {
		switch st {
		case stateStreaming:
			streaming++
		case stateStopped:
		default:
			pending++
		}
	}

	switch {
	case streaming > 0:
		s.status = derive.StatusConnected
	case pending > 0:
		s.status = derive.StatusConnecting
	default:
		// Everything discovered has exhausted its retries.
		s.status = derive.StatusError
	}
}

// newEvent stamps a synthetic supervisor event. Port 0 marks events
// about the fleet rather than one server.
func (s *Supervisor) newEvent(port int, typ string, data json.RawMessage) types.SourceEvent {
	source := "servers"
	if port > 0 {
		source = "server:" + strconv.Itoa(port)
	}
	return types.SourceEvent{
		EventID:   ulid.Make().String(),
		Source:    source,
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
	}
}
