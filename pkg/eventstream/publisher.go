package eventstream

import "context"

// Publisher publishes events to an event stream backend. Publishing is best
// effort from the caller's point of view: a failed publish never undoes the
// write that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
