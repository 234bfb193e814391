package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// PatternSeparator splits a slice pattern into per-level segments.
const PatternSeparator = ":"

// ErrBadPattern is returned for malformed slice patterns.
var ErrBadPattern = errors.New("bad slice pattern")

// Entry is one flattened leaf of a document, keyed by its dot-joined path.
type Entry struct {
	Key   string
	Value Value
}

// Slice is a read-only, ordered view over the leaves of a document whose
// path matches a pattern.
type Slice struct {
	Tenant   string  `json:"tenant"`
	StreamID string  `json:"stream_id"`
	Version  int64   `json:"version"`
	Pattern  string  `json:"pattern"`
	Limit    int     `json:"limit,omitempty"`
	Entries  Entries `json:"entries"`
}

// Entries marshals as a JSON object whose key order is the entry order.
type Entries []Entry

func (es Entries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range es {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (es *Entries) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind() != KindMap {
		return fmt.Errorf("entries must be an object, got %s", v.Kind())
	}
	out := make(Entries, 0, v.Len())
	for _, k := range v.Keys() {
		f, _ := v.Field(k)
		out = append(out, Entry{Key: k, Value: f})
	}
	*es = out
	return nil
}

// Lookup returns the value of the entry with the given key.
func (es Entries) Lookup(key string) (Value, bool) {
	for _, e := range es {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// CompilePattern splits and validates a pattern such as "tasks:*:status".
func CompilePattern(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}
	segs := strings.Split(pattern, PatternSeparator)
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrBadPattern, pattern)
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, s, err)
		}
	}
	return segs, nil
}

// ExtractSlice returns the leaves of doc matching pattern, in document order,
// truncated to limit entries when limit > 0. Each pattern segment matches one
// level of map keys; once the pattern is exhausted every leaf under the
// matched node is included. The function is pure.
func ExtractSlice(doc *Document, pattern string, limit int) (*Slice, error) {
	segs, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	s := &Slice{
		Tenant:   doc.Tenant,
		StreamID: doc.StreamID,
		Version:  doc.Version,
		Pattern:  pattern,
		Limit:    limit,
		Entries:  Entries{},
	}

	w := &sliceWalker{limit: limit}
	w.match(doc.State, segs, nil)
	s.Entries = w.out
	return s, nil
}

type sliceWalker struct {
	limit int
	out   Entries
}

func (w *sliceWalker) full() bool {
	return w.limit > 0 && len(w.out) >= w.limit
}

func (w *sliceWalker) match(node Value, segs []string, prefix []string) {
	if w.full() {
		return
	}
	if len(segs) == 0 {
		w.leaves(node, prefix)
		return
	}
	if node.Kind() != KindMap {
		return
	}
	for _, k := range node.Keys() {
		ok, _ := path.Match(segs[0], k)
		if !ok {
			continue
		}
		child, _ := node.Field(k)
		w.match(child, segs[1:], append(prefix[:len(prefix):len(prefix)], k))
		if w.full() {
			return
		}
	}
}

func (w *sliceWalker) leaves(node Value, prefix []string) {
	if w.full() {
		return
	}
	if node.Kind() != KindMap || node.Len() == 0 {
		w.out = append(w.out, Entry{Key: strings.Join(prefix, "."), Value: node})
		return
	}
	for _, k := range node.Keys() {
		child, _ := node.Field(k)
		w.leaves(child, append(prefix[:len(prefix):len(prefix)], k))
		if w.full() {
			return
		}
	}
}
