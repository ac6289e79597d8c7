package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overlook-dev/overlook/internal/types"
)

// Merged is the combined stream of every available source. Events is
// closed when all sources finish or when one of them hits a hard
// failure; Err reports that failure afterwards. Ordering is preserved
// within a source and unspecified across sources.
type Merged struct {
	Events <-chan types.SourceEvent

	mu  sync.Mutex
	err error
}

// Err returns the hard failure that ended the stream, if any. Only
// meaningful after Events is closed.
func (m *Merged) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Merge probes all sources concurrently, then combines the streams of
// the available ones. Zero available sources yields an empty,
// already-closed stream rather than an error.
//
// A hard failure from any one source cancels the whole merged stream:
// callers restart the merge rather than run on a partial set.
func Merge(ctx context.Context, sources []Source, log *slog.Logger) *Merged {
	if log == nil {
		log = slog.Default()
	}

	active := probe(ctx, sources, log)

	out := make(chan types.SourceEvent)
	m := &Merged{Events: out}

	if len(active) == 0 {
		close(out)
		return m
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range active {
		src := src
		g.Go(func() error {
			return src.Events(gctx, out)
		})
	}

	go func() {
		err := g.Wait()
		if err != nil && ctx.Err() == nil {
			log.Error("merged stream failed", "error", err)
		}
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(out)
	}()

	return m
}

// probe checks every source's availability in parallel and returns the
// available subset, preserving input order.
func probe(ctx context.Context, sources []Source, log *slog.Logger) []Source {
	results := make([]bool, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = available(ctx, src, DefaultAvailabilityTimeout, log)
		}()
	}
	wg.Wait()

	var active []Source
	for i, src := range sources {
		if results[i] {
			active = append(active, src)
		} else {
			log.Debug("source unavailable, excluded from merge", "source", src.Name())
		}
	}
	return active
}

// Static is a fixed in-memory source, mainly for tests and replay.
type Static struct {
	SourceName string
	Items      []types.SourceEvent
	Unready    bool
	Delay      time.Duration
}

// Name implements Source.
func (s *Static) Name() string { return s.SourceName }

// Available implements Source.
func (s *Static) Available(ctx context.Context) bool { return !s.Unready }

// Events implements Source, emitting the fixed items in order.
func (s *Static) Events(ctx context.Context, out chan<- types.SourceEvent) error {
	for _, ev := range s.Items {
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
