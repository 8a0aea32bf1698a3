package testfixtures

import (
	"context"
	"sync"

	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// RecordingPublisher keeps every event it receives.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []scheduler.Event
}

// Publish implements scheduler.Publisher.
func (p *RecordingPublisher) Publish(_ context.Context, event scheduler.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (p *RecordingPublisher) Events() []scheduler.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scheduler.Event(nil), p.events...)
}

// Types lists recorded event types in order.
func (p *RecordingPublisher) Types() []scheduler.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]scheduler.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
