package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overlook-dev/overlook/internal/derive"
	"github.com/overlook-dev/overlook/internal/source"
	"github.com/overlook-dev/overlook/internal/types"
)

func sessionEvent(id, title string) types.SourceEvent {
	data, _ := json.Marshal(types.Session{ID: id, Directory: "/work/app", Title: title})
	return types.SourceEvent{Source: "server:4096", Type: "session.created", Data: data, Timestamp: time.Now()}
}

func TestSubscribe_ImmediateSnapshot(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	var got *derive.Snapshot
	unsub := e.Subscribe(func(s *derive.Snapshot) { got = s })
	defer unsub()

	require.NotNil(t, got, "subscriber must see the current snapshot immediately")
	assert.Empty(t, got.Sessions)
	assert.Equal(t, derive.StatusDisconnected, got.ConnectionStatus)
}

func TestSubscribe_NotifiedOnEveryMutation(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	calls := 0
	unsub := e.Subscribe(func(s *derive.Snapshot) { calls++ })
	defer unsub()
	require.Equal(t, 1, calls)

	e.apply(sessionEvent("ses_1", "one"))
	e.apply(sessionEvent("ses_2", "two"))
	assert.Equal(t, 3, calls)

	// Ignored events cause no fan-out.
	e.apply(types.SourceEvent{Type: "lsp.diagnostics", Source: "server:4096"})
	assert.Equal(t, 3, calls)
}

func TestSubscribe_RegistrationOrder(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	var order []string
	u1 := e.Subscribe(func(*derive.Snapshot) { order = append(order, "first") })
	defer u1()
	u2 := e.Subscribe(func(*derive.Snapshot) { order = append(order, "second") })
	defer u2()

	order = nil
	e.apply(sessionEvent("ses_1", "t"))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	calls := 0
	unsub := e.Subscribe(func(*derive.Snapshot) { calls++ })
	unsub()
	unsub()

	e.apply(sessionEvent("ses_1", "t"))
	assert.Equal(t, 1, calls, "no notifications after unsubscribe")
}

func TestSnapshot_PullWithoutSubscribing(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	e.apply(sessionEvent("ses_1", "t"))

	snap := e.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "ses_1", snap.Sessions[0].ID)
}

func TestUpdates_FirstYieldIsCurrentSnapshot(t *testing.T) {
	e := New(Options{})
	defer e.Close()
	e.apply(sessionEvent("ses_1", "t"))

	it := e.Updates(context.Background())
	defer it.Close()

	snap, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
}

func TestUpdates_BuffersFasterThanDrain(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	it := e.Updates(context.Background())
	defer it.Close()

	// Three mutations before the consumer drains anything.
	e.apply(sessionEvent("ses_1", "a"))
	e.apply(sessionEvent("ses_2", "b"))
	e.apply(sessionEvent("ses_3", "c"))

	// First yield: the snapshot at subscribe time. Then one snapshot
	// per mutation, FIFO, lossless.
	counts := []int{0, 1, 2, 3}
	for _, want := range counts {
		snap, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Len(t, snap.Sessions, want)
	}
}

func TestUpdates_CancellationUnsubscribes(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	it := e.Updates(ctx)

	_, err := it.Next(context.Background())
	require.NoError(t, err)

	cancel()

	// The subscription must be released: further mutations don't queue.
	deadline := time.Now().Add(time.Second)
	for {
		e.mu.Lock()
		n := len(e.subs)
		e.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cancelled iterator still subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.apply(sessionEvent("ses_1", "t"))
	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrIteratorClosed)
}

func TestUpdates_NextBlocksUntilMutation(t *testing.T) {
	e := New(Options{})
	defer e.Close()

	it := e.Updates(context.Background())
	defer it.Close()
	_, err := it.Next(context.Background())
	require.NoError(t, err)

	got := make(chan *derive.Snapshot, 1)
	go func() {
		snap, err := it.Next(context.Background())
		if err == nil {
			got <- snap
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any mutation")
	case <-time.After(50 * time.Millisecond):
	}

	e.apply(sessionEvent("ses_1", "t"))
	select {
	case snap := <-got:
		assert.Len(t, snap.Sessions, 1)
	case <-time.After(time.Second):
		t.Fatal("Next didn't wake on mutation")
	}
}

func TestClose_Idempotent(t *testing.T) {
	e := New(Options{})
	e.Start(context.Background())
	e.Close()
	e.Close()
}

func TestStart_ConsumesMergedSources(t *testing.T) {
	src := &source.Static{
		SourceName: "replay",
		Items: []types.SourceEvent{
			sessionEvent("ses_1", "a"),
			sessionEvent("ses_2", "b"),
		},
	}
	e := New(Options{Sources: []source.Source{src}})
	defer e.Close()

	seen := make(chan int, 8)
	unsub := e.Subscribe(func(s *derive.Snapshot) { seen <- len(s.Sessions) })
	defer unsub()
	<-seen // immediate empty snapshot

	e.Start(context.Background())

	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-seen:
			if n == 2 {
				return
			}
		case <-timeout:
			t.Fatal("engine never ingested the replay source")
		}
	}
}
