package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/overlook-dev/overlook/internal/client"
	"github.com/overlook-dev/overlook/internal/types"
)

// connState is one server connection's position in the reconnect loop.
type connState int

const (
	stateConnecting connState = iota
	stateBootstrapping
	stateStreaming
	stateBackoff
	stateStopped
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateBootstrapping:
		return "bootstrapping"
	case stateStreaming:
		return "streaming"
	case stateBackoff:
		return "backoff"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// connection supervises one discovered server: bootstrap, stream,
// backoff, retry, until attempts are exhausted or the owner cancels.
type connection struct {
	port      int
	directory string
	client    *client.Client
	cancel    context.CancelFunc
	sup       *Supervisor
}

// run drives the connecting -> bootstrapping -> streaming -> backoff
// loop. All store effects travel as synthetic events through out, so
// cancellation cleanly stops mutation mid-bootstrap: aborted sends
// simply never reach the router.
func (c *connection) run(ctx context.Context, out chan<- types.SourceEvent) {
	defer c.sup.connDone(c.port)

	attempts := 0
	for {
		c.sup.setState(ctx, c.port, stateConnecting, out)

		err := c.connectOnce(ctx, out)
		if ctx.Err() != nil {
			return
		}

		c.sup.log.Warn("server connection lost", "port", c.port, "attempts", attempts, "error", err)

		attempts++
		if attempts >= c.sup.maxAttempts {
			c.sup.log.Error("reconnect attempts exhausted, stopping connection", "port", c.port)
			c.sup.setState(ctx, c.port, stateStopped, out)
			return
		}

		c.sup.setState(ctx, c.port, stateBackoff, out)
		delay := Delay(attempts, c.sup.backoffBase, c.sup.backoffCap)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectOnce performs one bootstrap + stream cycle and returns the
// error that ended it.
func (c *connection) connectOnce(ctx context.Context, out chan<- types.SourceEvent) error {
	c.sup.setState(ctx, c.port, stateBootstrapping, out)
	if err := c.bootstrap(ctx, out); err != nil {
		return err
	}

	stream, err := c.client.DialEvents(ctx)
	if err != nil {
		return err
	}

	c.sup.setState(ctx, c.port, stateStreaming, out)
	return stream.Run(ctx, out)
}

// bootstrap runs the three initial reads concurrently and replays the
// results as synthetic events so they arrive in the store through the
// same routing path as live traffic.
func (c *connection) bootstrap(ctx context.Context, out chan<- types.SourceEvent) error {
	var (
		sessions []types.Session
		statuses map[string]string
		project  types.Project
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sessions, err = c.client.FetchSessions(gctx)
		return err
	})
	g.Go(func() (err error) {
		statuses, err = c.client.FetchSessionStatuses(gctx)
		return err
	})
	g.Go(func() (err error) {
		project, err = c.client.FetchProject(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if project.Worktree != "" {
		c.directory = project.Worktree
	}

	for _, sess := range sessions {
		if !c.emit(ctx, out, "session.created", sess) {
			return ctx.Err()
		}
	}
	for sessionID, status := range statuses {
		payload := map[string]string{"sessionID": sessionID, "status": status}
		if !c.emit(ctx, out, "session.status", payload) {
			return ctx.Err()
		}
	}
	return nil
}

// emit sends one synthetic event, reporting false when ctx ended first.
func (c *connection) emit(ctx context.Context, out chan<- types.SourceEvent, typ string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	select {
	case out <- c.sup.newEvent(c.port, typ, data):
		return true
	case <-ctx.Done():
		return false
	}
}
