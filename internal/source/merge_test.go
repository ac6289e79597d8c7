package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/overlook-dev/overlook/internal/types"
)

func collect(t *testing.T, m *Merged) []types.SourceEvent {
	t.Helper()
	var got []types.SourceEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("merged stream didn't close; collected %d events", len(got))
		}
	}
}

func ev(source, typ string) types.SourceEvent {
	return types.SourceEvent{Source: source, Type: typ, Timestamp: time.Now()}
}

func TestMerge_SkipsUnavailableSource(t *testing.T) {
	a := &Static{SourceName: "a", Items: []types.SourceEvent{ev("a", "session.created"), ev("a", "session.updated")}}
	b := &Static{SourceName: "b", Unready: true, Items: []types.SourceEvent{ev("b", "session.created")}}

	m := Merge(context.Background(), []Source{a, b}, nil)
	got := collect(t, m)

	if len(got) != 2 {
		t.Fatalf("expected only a's 2 events, got %d", len(got))
	}
	for _, e := range got {
		if e.Source != "a" {
			t.Errorf("event from excluded source %q leaked through", e.Source)
		}
	}
	if m.Err() != nil {
		t.Errorf("unexpected stream error: %v", m.Err())
	}
}

func TestMerge_ZeroAvailableSourcesIsEmptyNotError(t *testing.T) {
	a := &Static{SourceName: "a", Unready: true}

	m := Merge(context.Background(), []Source{a}, nil)
	got := collect(t, m)

	if len(got) != 0 {
		t.Fatalf("expected empty stream, got %d events", len(got))
	}
	if m.Err() != nil {
		t.Errorf("empty merge must not error: %v", m.Err())
	}
}

func TestMerge_PanickingAvailabilityIsUnavailable(t *testing.T) {
	a := &Static{SourceName: "a", Items: []types.SourceEvent{ev("a", "session.created")}}
	p := panicSource{}

	m := Merge(context.Background(), []Source{a, p}, nil)
	got := collect(t, m)

	if len(got) != 1 || got[0].Source != "a" {
		t.Fatalf("expected only a's event, got %+v", got)
	}
}

func TestMerge_PreservesPerSourceOrder(t *testing.T) {
	items := []types.SourceEvent{ev("a", "1"), ev("a", "2"), ev("a", "3")}
	a := &Static{SourceName: "a", Items: items}

	m := Merge(context.Background(), []Source{a}, nil)
	got := collect(t, m)

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, e := range got {
		if e.Type != items[i].Type {
			t.Errorf("order broken at %d: got %s want %s", i, e.Type, items[i].Type)
		}
	}
}

func TestMerge_HardFailureEndsWholeStream(t *testing.T) {
	slow := &Static{SourceName: "slow", Delay: 50 * time.Millisecond,
		Items: make([]types.SourceEvent, 100)}
	bad := failingSource{err: errors.New("socket reset")}

	m := Merge(context.Background(), []Source{slow, bad}, nil)
	collect(t, m)

	if m.Err() == nil {
		t.Fatal("expected merged stream to surface the hard failure")
	}
}

type panicSource struct{}

func (panicSource) Name() string                       { return "panics" }
func (panicSource) Available(ctx context.Context) bool { panic("defective plugin") }
func (panicSource) Events(ctx context.Context, out chan<- types.SourceEvent) error {
	return nil
}

type failingSource struct{ err error }

func (f failingSource) Name() string                       { return "failing" }
func (f failingSource) Available(ctx context.Context) bool { return true }
func (f failingSource) Events(ctx context.Context, out chan<- types.SourceEvent) error {
	return f.err
}
