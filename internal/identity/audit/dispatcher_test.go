package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 16)

	d.Emit(context.Background(), Event{Action: "login", UserID: "u1", Success: true})
	d.Emit(context.Background(), Event{Action: "logout", UserID: "u1", Success: true})
	d.Close()

	events := sink.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, "login", events[0].Action)
	require.Equal(t, "logout", events[1].Action)
	require.Zero(t, d.Dropped())
}

func TestDispatcherCloseDrainsBuffer(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 64)

	for range 50 {
		d.Emit(context.Background(), Event{Action: "token_rotated", Success: true})
	}
	d.Close()

	require.Len(t, sink.snapshot(), 50)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := NewDispatcher(sink, 1)

	// First event occupies the consumer, second fills the buffer, the rest
	// must be dropped rather than block the caller.
	for range 10 {
		d.Emit(context.Background(), Event{Action: "login_failed"})
	}

	require.Eventually(t, func() bool {
		return d.Dropped() > 0
	}, time.Second, 10*time.Millisecond)

	close(block)
	d.Close()
}

func TestDispatcherEmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 4)
	d.Close()

	d.Emit(context.Background(), Event{Action: "login"})
	require.Empty(t, sink.snapshot())
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{Action: "login"})
	d.Close()
	require.Zero(t, d.Dropped())
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) { <-s.release }
