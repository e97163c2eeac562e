package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink receives dispatched audit events. Implementations may block; the
// dispatcher runs them off the request path.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event. It backs a nil sink in NewDispatcher.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer over a buffered channel. When the
// buffer is full Emit blocks until the consumer catches up or the context is
// canceled.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink's channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink encodes each event as one JSON line. A mutex serializes
// writers, so the sink is safe to share.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Encode buffers the full record before writing, so a marshal failure
	// leaves no partial line behind.
	_ = s.enc.Encode(event)
}
