package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeDeltaApplied is emitted after a delta commits a new document version.
	EventTypeDeltaApplied = "memlayer.state.delta_applied"

	// EventTypeLifecycleTransitioned is emitted when a record changes lifecycle state.
	EventTypeLifecycleTransitioned = "memlayer.memory.lifecycle_transitioned"

	// EventTypeRecordChanged is emitted when a record is created, updated, linked or purged.
	EventTypeRecordChanged = "memlayer.memory.record_changed"
)

// Event is a transport-neutral event payload. Exactly one of the detail
// fields is set, matching EventType.
type Event struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`

	Delta     *DeltaApplied          `json:"delta,omitempty"`
	Lifecycle *LifecycleTransitioned `json:"lifecycle,omitempty"`
	Record    *RecordChanged         `json:"record,omitempty"`
}

// Key returns the partitioning key for the event: the stream for document
// events and the record ID for memory events.
func (e *Event) Key() string {
	switch {
	case e.Delta != nil:
		return e.Source.Tenant + "/" + e.Source.Stream
	case e.Lifecycle != nil:
		return e.Lifecycle.RecordID
	case e.Record != nil:
		return e.Record.RecordID
	default:
		return e.EventID
	}
}

// EventSource identifies where the event originated.
type EventSource struct {
	Tenant    string `json:"tenant,omitempty"`
	Stream    string `json:"stream,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// DeltaApplied describes a committed document version.
type DeltaApplied struct {
	Version       int64  `json:"version"`
	ParentVersion *int64 `json:"parent_version,omitempty"`
	LineageID     string `json:"lineage_id,omitempty"`
	Ops           int    `json:"ops"`
}

// LifecycleTransitioned describes one lifecycle edge taken by a record.
type LifecycleTransitioned struct {
	RecordID string `json:"record_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason"`
}

// RecordChanged describes a write to a memory record.
type RecordChanged struct {
	RecordID string `json:"record_id"`
	Action   string `json:"action"`
	Version  int    `json:"version"`
}

func newEvent(eventType string, src EventSource, now time.Time) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     now.UTC(),
		Source:        src,
	}
}

// NewDeltaApplied builds a delta event.
func NewDeltaApplied(src EventSource, detail DeltaApplied, now time.Time) *Event {
	e := newEvent(EventTypeDeltaApplied, src, now)
	e.Delta = &detail
	return e
}

// NewLifecycleTransitioned builds a lifecycle event.
func NewLifecycleTransitioned(src EventSource, detail LifecycleTransitioned, now time.Time) *Event {
	e := newEvent(EventTypeLifecycleTransitioned, src, now)
	e.Lifecycle = &detail
	return e
}

// NewRecordChanged builds a record event.
func NewRecordChanged(src EventSource, detail RecordChanged, now time.Time) *Event {
	e := newEvent(EventTypeRecordChanged, src, now)
	e.Record = &detail
	return e
}
