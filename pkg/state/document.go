package state

import (
	"time"
)

// StreamKey identifies one logical document.
type StreamKey struct {
	Tenant string `json:"tenant"`
	Stream string `json:"stream"`
}

func (k StreamKey) String() string {
	return k.Tenant + "/" + k.Stream
}

// Document is one immutable version of a stream's state.
type Document struct {
	Tenant        string    `json:"tenant"`
	StreamID      string    `json:"stream_id"`
	Version       int64     `json:"version"`
	ParentVersion *int64    `json:"parent_version,omitempty"`
	State         Value     `json:"state"`
	Actor         string    `json:"actor,omitempty"`
	LineageID     string    `json:"lineage_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Key returns the stream the document belongs to.
func (d *Document) Key() StreamKey {
	return StreamKey{Tenant: d.Tenant, Stream: d.StreamID}
}

// Header returns the document without its state, used for history listings.
func (d *Document) Header() Header {
	return Header{
		Version:       d.Version,
		ParentVersion: d.ParentVersion,
		Actor:         d.Actor,
		LineageID:     d.LineageID,
		CreatedAt:     d.CreatedAt,
	}
}

// Header is the state-less part of a Document.
type Header struct {
	Version       int64     `json:"version"`
	ParentVersion *int64    `json:"parent_version,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	LineageID     string    `json:"lineage_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Next derives the document that results from applying ops on top of d. The
// receiver is left untouched. A nil receiver starts a new stream at version 1.
func (d *Document) Next(key StreamKey, ops []Delta, actor, lineageID string, now time.Time) (*Document, error) {
	var (
		base    Value
		version int64 = 1
		parent  *int64
	)
	if d != nil {
		base = d.State
		version = d.Version + 1
		pv := d.Version
		parent = &pv
	}

	next, err := Apply(base, ops)
	if err != nil {
		return nil, err
	}

	return &Document{
		Tenant:        key.Tenant,
		StreamID:      key.Stream,
		Version:       version,
		ParentVersion: parent,
		State:         next,
		Actor:         actor,
		LineageID:     lineageID,
		CreatedAt:     now.UTC(),
	}, nil
}
