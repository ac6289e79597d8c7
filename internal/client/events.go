package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/overlook-dev/overlook/internal/types"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// EventStream is one live WebSocket connection to a server's /event
// endpoint. Frames arrive as {type, properties} envelopes and are
// normalized to SourceEvents with a per-connection sequence.
type EventStream struct {
	conn   *websocket.Conn
	source string
	seq    int64
}

// DialEvents opens the live event connection.
func (c *Client) DialEvents(ctx context.Context) (*EventStream, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/event", c.port)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	return &EventStream{
		conn:   conn,
		source: fmt.Sprintf("server:%d", c.port),
	}, nil
}

// Source returns the identifier stamped onto every normalized event.
func (s *EventStream) Source() string { return s.source }

// Run reads envelopes and pushes normalized events into out until ctx
// is canceled or the connection breaks. The connection is closed on
// return; a ping ticker keeps it alive while the server is quiet.
func (s *EventStream) Run(ctx context.Context, out chan<- types.SourceEvent) error {
	defer func() { _ = s.conn.Close() }()

	// Unblock the read loop when the caller cancels.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		for {
			select {
			case <-pings.C:
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			}
		}
	}()

	for {
		var env types.EventEnvelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))

		ev := s.normalize(env)

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// normalize converts a wire envelope into the internal event shape.
// Sequence numbers are per-connection and restart from zero after a
// reconnect; they are never compared across sources.
func (s *EventStream) normalize(env types.EventEnvelope) types.SourceEvent {
	seq := s.seq
	s.seq++

	now := time.Now()
	return types.SourceEvent{
		EventID:   ulid.Make().String(),
		Source:    s.source,
		Type:      env.Type,
		Data:      env.Properties,
		Timestamp: now,
		Sequence:  &seq,
	}
}
