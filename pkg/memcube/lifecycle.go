package memcube

import (
	"fmt"
	"time"
)

// Lifecycle is the position of a record in its state machine:
//
//	new -> active -> stale -> archived -> expired
//	         ^---------'
//
// stale -> active is the only backwards edge (reactivation on access).
type Lifecycle string

const (
	LifecycleNew      Lifecycle = "new"
	LifecycleActive   Lifecycle = "active"
	LifecycleStale    Lifecycle = "stale"
	LifecycleArchived Lifecycle = "archived"
	LifecycleExpired  Lifecycle = "expired"
)

func (l Lifecycle) rank() int {
	switch l {
	case LifecycleNew:
		return 0
	case LifecycleActive:
		return 1
	case LifecycleStale:
		return 2
	case LifecycleArchived:
		return 3
	case LifecycleExpired:
		return 4
	default:
		return -1
	}
}

// Valid reports whether l is a known lifecycle state.
func (l Lifecycle) Valid() bool { return l.rank() >= 0 }

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Lifecycle) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from == LifecycleExpired {
		return false
	}
	if from == LifecycleStale && to == LifecycleActive {
		return true
	}
	if to == LifecycleExpired {
		return from == LifecycleArchived
	}
	return to.rank() > from.rank()
}

// TransitionError reports an illegal lifecycle edge.
type TransitionError struct {
	From, To Lifecycle
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("illegal lifecycle transition %s -> %s", e.From, e.To)
}

func (e TransitionError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// Policy holds the time windows that drive automatic transitions.
type Policy struct {
	// FreshWindow is how recent an access must be to promote new -> active.
	FreshWindow time.Duration

	// StaleAfter is the idle time after which new/active records go stale.
	StaleAfter time.Duration

	// RetentionGrace is how long an archived record is kept before it expires.
	RetentionGrace time.Duration
}

// DefaultPolicy matches the documented windows.
func DefaultPolicy() Policy {
	return Policy{
		FreshWindow:    24 * time.Hour,
		StaleAfter:     30 * 24 * time.Hour,
		RetentionGrace: 30 * 24 * time.Hour,
	}
}

// NextLifecycle computes the single transition a sweep at now should apply to
// r, returning (r.Lifecycle, false) when nothing changes. Re-evaluating a
// record after applying the result never yields the same edge twice.
func (p Policy) NextLifecycle(r *Record, now time.Time) (Lifecycle, bool) {
	switch r.Lifecycle {
	case LifecycleExpired:
		return r.Lifecycle, false

	case LifecycleArchived:
		since := r.UpdatedAt
		if r.ArchivedAt != nil {
			since = *r.ArchivedAt
		}
		if now.Sub(since) >= p.RetentionGrace {
			return LifecycleExpired, true
		}
		return r.Lifecycle, false
	}

	if r.Governance.TTLExceeded(r.CreatedAt, now) {
		return LifecycleArchived, true
	}

	lastTouch := r.CreatedAt
	if r.LastUsed != nil {
		lastTouch = *r.LastUsed
	}
	idle := now.Sub(lastTouch)

	switch r.Lifecycle {
	case LifecycleNew:
		if r.LastUsed != nil && idle <= p.FreshWindow {
			return LifecycleActive, true
		}
		if idle >= p.StaleAfter {
			return LifecycleStale, true
		}
	case LifecycleActive:
		if idle >= p.StaleAfter {
			return LifecycleStale, true
		}
	}

	return r.Lifecycle, false
}

// Transition moves r to the given state, stamping bookkeeping timestamps.
func Transition(r *Record, to Lifecycle, now time.Time) error {
	if !CanTransition(r.Lifecycle, to) {
		return TransitionError{From: r.Lifecycle, To: to}
	}
	r.Lifecycle = to
	r.UpdatedAt = now
	switch to {
	case LifecycleArchived:
		t := now
		r.ArchivedAt = &t
	case LifecycleExpired:
		t := now
		r.ExpiredAt = &t
	}
	return nil
}
