package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior. With DropIfFull set, a full
// buffer sheds the newest event and counts it in Dropped; otherwise Emit
// blocks until there is room or the caller's context ends.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher moves audit events from the request path to a sink through a
// single worker goroutine. The zero-value is not usable; a nil *Dispatcher
// is, and every method treats it as a disabled pipeline.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker. A disabled config yields nil, which keeps
// the engine's emit path to one pointer check.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
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
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain flushes whatever Emit managed to enqueue before Close flipped the
// closed flag. No new events arrive at this point.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues an event for the worker.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}

	if d.cfg.DropIfFull {
		if !d.offer(event) {
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// offer is the non-blocking enqueue used under DropIfFull.
func (d *Dispatcher) offer(event Event) bool {
	select {
	case d.ch <- event:
		return true
	case <-d.done:
		return true
	default:
		return false
	}
}

// Close stops the worker after flushing buffered events. Idempotent.
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

// Dropped reports events shed under DropIfFull backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
