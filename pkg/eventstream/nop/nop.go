// Package nop provides the default event publisher that discards everything.
package nop

import (
	"context"
	"sync"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// Publisher discards events. It records them when created with NewRecording,
// which tests use to observe pipeline behavior.
type Publisher struct {
	mu     sync.Mutex
	record bool
	events []eventstream.Event
}

// New creates a discarding publisher.
func New() *Publisher {
	return &Publisher{}
}

// NewRecording creates a publisher that retains published events in memory.
func NewRecording() *Publisher {
	return &Publisher{record: true}
}

// Publish implements eventstream.Publisher.
func (p *Publisher) Publish(_ context.Context, event eventstream.Event) error {
	if !p.record {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []eventstream.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]eventstream.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close implements eventstream.Publisher.
func (p *Publisher) Close() error { return nil }
