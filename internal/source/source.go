// Package source defines the pluggable event source capability and the
// concurrent merge that combines every available source into one stream.
package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/overlook-dev/overlook/internal/types"
)

// DefaultAvailabilityTimeout bounds each source's availability probe.
const DefaultAvailabilityTimeout = 2 * time.Second

// Source is one producer of normalized events. Available may block on
// I/O and is always called with a bounded context; a false result (or a
// panic, or a timeout) excludes the source from the merge without
// failing it. Events pushes into the shared channel until ctx is done
// or the source hits a hard failure.
type Source interface {
	Name() string
	Available(ctx context.Context) bool
	Events(ctx context.Context, out chan<- types.SourceEvent) error
}

// available probes one source, converting panics into "unavailable".
// A defect in a plugin source must never take down the merge.
func available(ctx context.Context, src Source, timeout time.Duration, log *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("source availability check panicked", "source", src.Name(), "panic", r)
			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return src.Available(probeCtx)
}
