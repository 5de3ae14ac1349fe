package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 256

// Dispatcher decouples event producers from the sink with a buffered
// channel and a single consumer goroutine. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the consumer goroutine. A nil sink disables auditing.
func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if sink == nil {
		sink = NoopSink{}
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.ch:
			d.sink.Emit(context.Background(), e)
		case <-d.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case e := <-d.ch:
					d.sink.Emit(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues an event. It is safe to call on a nil dispatcher and after
// Close; both are no-ops.
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- e:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops the consumer after draining buffered events. Idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
