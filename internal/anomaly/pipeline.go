package anomaly

import (
	"context"
	"sync"
	"sync/atomic"
)

// HistoryFunc loads a subject's recent session events, newest first, bounded
// by depth.
type HistoryFunc func(ctx context.Context, subjectID string, depth int) ([]SessionEvent, error)

// CountFunc increments the subject's high-severity alert counter.
type CountFunc func(ctx context.Context, subjectID string) error

// PipelineConfig controls pipeline buffering behavior.
type PipelineConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Pipeline runs detection out-of-band: session events are enqueued by the
// request path and evaluated by a single worker, so the historical scan never
// adds latency to authentication. Detection failures are counted and
// swallowed; the pipeline is advisory and never propagates an error to the
// triggering operation.
type Pipeline struct {
	cfg      PipelineConfig
	detector *Detector
	history  HistoryFunc
	count    CountFunc
	sink     Sink

	ch        chan SessionEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failures  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewPipeline(cfg PipelineConfig, detector *Detector, history HistoryFunc, count CountFunc, sink Sink) *Pipeline {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	p := &Pipeline{
		cfg:      cfg,
		detector: detector,
		history:  history,
		count:    count,
		sink:     sink,
		ch:       make(chan SessionEvent, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.ch:
			p.process(event)
		case <-p.done:
			for {
				select {
				case event := <-p.ch:
					p.process(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) process(event SessionEvent) {
	ctx := context.Background()

	history, err := p.history(ctx, event.SubjectID, p.detector.cfg.HistoryDepth)
	if err != nil {
		p.failures.Add(1)
		return
	}

	// The triggering session may already be in the store; it is not part
	// of its own history.
	filtered := history[:0]
	for _, h := range history {
		if h.SessionID == event.SessionID {
			continue
		}
		filtered = append(filtered, h)
	}

	for _, alert := range p.detector.Detect(event, filtered) {
		p.sink.Emit(ctx, alert)
		if alert.Severity == SeverityHigh && p.count != nil {
			if err := p.count(ctx, event.SubjectID); err != nil {
				p.failures.Add(1)
			}
		}
	}
}

// Observe enqueues a session event. A nil pipeline is a no-op.
func (p *Pipeline) Observe(event SessionEvent) {
	if p == nil || p.closed.Load() {
		return
	}

	if p.cfg.DropIfFull {
		select {
		case p.ch <- event:
		case <-p.done:
		default:
			p.dropped.Add(1)
		}
		return
	}

	select {
	case p.ch <- event:
	case <-p.done:
	}
}

// Close drains queued events and stops the worker.
func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}

// Dropped reports events discarded under DropIfFull backpressure.
func (p *Pipeline) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Failures reports swallowed detection errors.
func (p *Pipeline) Failures() uint64 {
	if p == nil {
		return 0
	}
	return p.failures.Load()
}
