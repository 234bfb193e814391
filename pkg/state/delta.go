package state

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Op names a delta operation.
type Op string

const (
	// OpSet overwrites the value at path (last writer wins).
	OpSet Op = "set"

	// OpInc adds a number to the numeric value at path, treating a missing
	// value as 0.
	OpInc Op = "inc"

	// OpPush appends a value to the list at path, creating the list if absent.
	OpPush Op = "push"

	// OpUnset deletes path. Unsetting a missing path is a no-op.
	OpUnset Op = "unset"
)

// ErrInvalidDelta is matched by every InvalidDeltaError.
var ErrInvalidDelta = errors.New("invalid delta")

// InvalidDeltaError describes an operation that cannot be applied.
type InvalidDeltaError struct {
	Index  int
	Op     Op
	Path   []string
	Reason string
}

func (e InvalidDeltaError) Error() string {
	return fmt.Sprintf("invalid delta #%d (%s %s): %s", e.Index, e.Op, strings.Join(e.Path, "."), e.Reason)
}

func (e InvalidDeltaError) Is(target error) bool {
	return target == ErrInvalidDelta
}

// Delta is one atomic mutation instruction.
type Delta struct {
	Op    Op       `json:"op"`
	Path  []string `json:"path"`
	Value Value    `json:"value"`
}

// Set, Inc, Push and Unset are constructors for deltas.
func Set(path []string, v Value) Delta { return Delta{Op: OpSet, Path: path, Value: v} }

func Inc(path []string, by float64) Delta { return Delta{Op: OpInc, Path: path, Value: Number(by)} }

func Push(path []string, v Value) Delta { return Delta{Op: OpPush, Path: path, Value: v} }

func Unset(path []string) Delta { return Delta{Op: OpUnset, Path: path} }

// Validate checks the shape of ops without looking at any state.
func Validate(ops []Delta) error {
	for i, d := range ops {
		if len(d.Path) == 0 {
			return InvalidDeltaError{Index: i, Op: d.Op, Path: d.Path, Reason: "empty path"}
		}
		for _, seg := range d.Path {
			if seg == "" {
				return InvalidDeltaError{Index: i, Op: d.Op, Path: d.Path, Reason: "empty path segment"}
			}
		}
		switch d.Op {
		case OpSet, OpPush, OpUnset:
		case OpInc:
			if d.Value.Kind() != KindNumber {
				return InvalidDeltaError{Index: i, Op: d.Op, Path: d.Path, Reason: "inc value must be a number"}
			}
			if n := d.Value.AsNumber(); math.IsInf(n, 0) || math.IsNaN(n) {
				return InvalidDeltaError{Index: i, Op: d.Op, Path: d.Path, Reason: "inc value must be finite"}
			}
		default:
			return InvalidDeltaError{Index: i, Op: d.Op, Path: d.Path, Reason: "unknown op"}
		}
	}
	return nil
}

// Apply applies ops in order to root and returns the resulting state. root is
// never modified; on error the returned Value is the zero Value and root is
// still the authoritative state.
func Apply(root Value, ops []Delta) (Value, error) {
	if err := Validate(ops); err != nil {
		return Value{}, err
	}
	if root.Kind() == KindNull {
		root = EmptyMap()
	}
	if root.Kind() != KindMap {
		return Value{}, fmt.Errorf("%w: document root must be a map, got %s", ErrInvalidDelta, root.Kind())
	}

	cur := root
	for i, d := range ops {
		next, err := applyOne(cur, d)
		if err != nil {
			var ide InvalidDeltaError
			if errors.As(err, &ide) {
				ide.Index = i
				return Value{}, ide
			}
			return Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func applyOne(root Value, d Delta) (Value, error) {
	switch d.Op {
	case OpSet:
		return update(root, d, d.Path, func(_ Value, _ bool) (Value, error) {
			return d.Value, nil
		})

	case OpInc:
		return update(root, d, d.Path, func(old Value, exists bool) (Value, error) {
			if !exists || old.IsNull() {
				return Number(d.Value.AsNumber()), nil
			}
			if old.Kind() != KindNumber {
				return Value{}, InvalidDeltaError{Op: d.Op, Path: d.Path, Reason: "target is " + old.Kind().String() + ", not a number"}
			}
			sum := old.AsNumber() + d.Value.AsNumber()
			if math.IsInf(sum, 0) || math.IsNaN(sum) {
				return Value{}, InvalidDeltaError{Op: d.Op, Path: d.Path, Reason: "result is not a finite number"}
			}
			return Number(sum), nil
		})

	case OpPush:
		return update(root, d, d.Path, func(old Value, exists bool) (Value, error) {
			if !exists || old.IsNull() {
				return List(d.Value), nil
			}
			if old.Kind() != KindList {
				return Value{}, InvalidDeltaError{Op: d.Op, Path: d.Path, Reason: "target is " + old.Kind().String() + ", not a list"}
			}
			return old.appendItem(d.Value), nil
		})

	case OpUnset:
		out, _ := remove(root, d.Path)
		return out, nil
	}

	return Value{}, InvalidDeltaError{Op: d.Op, Path: d.Path, Reason: "unknown op"}
}

// update rebuilds the spine of maps along path, calling fn with the current
// leaf. Missing intermediate maps are created; traversing through a non-map
// value is an error.
func update(node Value, d Delta, path []string, fn func(old Value, exists bool) (Value, error)) (Value, error) {
	key := path[0]
	child, exists := node.Field(key)

	if len(path) == 1 {
		nv, err := fn(child, exists)
		if err != nil {
			return Value{}, err
		}
		return node.withField(key, nv), nil
	}

	if !exists || child.IsNull() {
		child = EmptyMap()
	}
	if child.Kind() != KindMap {
		return Value{}, InvalidDeltaError{Op: d.Op, Path: d.Path, Reason: fmt.Sprintf("cannot traverse %s at %q", child.Kind(), key)}
	}

	nc, err := update(child, d, path[1:], fn)
	if err != nil {
		return Value{}, err
	}
	return node.withField(key, nc), nil
}

// remove deletes path, returning the original node untouched when any
// segment is missing.
func remove(node Value, path []string) (Value, bool) {
	child, ok := node.Field(path[0])
	if !ok {
		return node, false
	}
	if len(path) == 1 {
		return node.withoutField(path[0]), true
	}
	nc, changed := remove(child, path[1:])
	if !changed {
		return node, false
	}
	return node.withField(path[0], nc), true
}
