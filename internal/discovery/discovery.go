// Package discovery finds candidate session servers by scanning a local
// port range and verifying each candidate with a bounded handshake.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/overlook-dev/overlook/internal/client"
)

// DefaultHandshakeTimeout bounds the per-port verification read.
const DefaultHandshakeTimeout = 500 * time.Millisecond

// Candidate is a verified server: the port answered the handshake and
// reported a usable working directory.
type Candidate struct {
	Port      int
	Directory string
}

// Scanner probes a fixed port range on the loopback interface.
type Scanner struct {
	firstPort int
	lastPort  int
	timeout   time.Duration
	log       *slog.Logger
}

// NewScanner creates a scanner over [firstPort, lastPort].
func NewScanner(firstPort, lastPort int, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		firstPort: firstPort,
		lastPort:  lastPort,
		timeout:   DefaultHandshakeTimeout,
		log:       log.With("component", "discovery"),
	}
}

// SetTimeout overrides the handshake timeout, mainly for tests.
func (s *Scanner) SetTimeout(d time.Duration) { s.timeout = d }

// Scan probes every port in the range concurrently and returns the
// verified candidates sorted by port. Handshake failures are expected
// (most ports have nothing listening) and are not errors.
func (s *Scanner) Scan(ctx context.Context) []Candidate {
	var (
		mu         sync.Mutex
		candidates []Candidate
		wg         sync.WaitGroup
	)

	for port := s.firstPort; port <= s.lastPort; port++ {
		port := port
		wg.Add(1)
		go func() {
			defer wg.Done()
			cand, ok := s.probe(ctx, port)
			if !ok {
				return
			}
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Port < candidates[j].Port })
	return candidates
}

// probe runs the handshake against one port. Acceptance requires a
// current-project descriptor with a non-root working directory; bare
// "/" answers come from processes that merely happen to speak the
// protocol shape and are rejected.
func (s *Scanner) probe(ctx context.Context, port int) (Candidate, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	project, err := client.New(port).FetchProject(probeCtx)
	if err != nil {
		return Candidate{}, false
	}
	if !acceptableWorktree(project.Worktree) {
		s.log.Debug("rejected candidate with root worktree", "port", port)
		return Candidate{}, false
	}
	return Candidate{Port: port, Directory: project.Worktree}, true
}

// acceptableWorktree reports whether a handshake directory identifies a
// real project checkout.
func acceptableWorktree(dir string) bool {
	return dir != "" && dir != "/"
}
