package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/memlayer/pkg/eventstream"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.Event

	// Fail makes Publish return an error without recording.
	Fail bool
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(_ context.Context, event *eventstream.Event) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return errors.New("mock publish failure")
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *RecordingPublisher) Events() []*eventstream.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.Event(nil), p.events...)
}

// OfType returns the recorded events with the given type.
func (p *RecordingPublisher) OfType(eventType string) []*eventstream.Event {
	var out []*eventstream.Event
	for _, e := range p.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *RecordingPublisher) Close() error {
	return nil
}
