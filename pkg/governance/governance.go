// Package governance carries the calling principal through a context and
// checks it against a record's role lists.
package governance

import (
	"context"
	"strings"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// Caller is the principal behind a request, as established by the outer
// authentication layer.
type Caller struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`

	// System marks internal callers such as the lifecycle sweep. They pass
	// every check.
	System bool `json:"-"`
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller carried by ctx. Requests without one act
// as an anonymous caller with no roles, which only passes open role lists.
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Caller{ID: "anonymous"}
}

// System returns a context carrying the internal caller named id.
func System(ctx context.Context, id string) context.Context {
	return WithCaller(ctx, Caller{ID: id, System: true})
}

// ParseRoles splits a comma separated role header, dropping blanks.
func ParseRoles(header string) []string {
	var roles []string
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// CanRead reports whether the caller in ctx may read r.
func CanRead(ctx context.Context, r *memcube.Record) bool {
	c := FromContext(ctx)
	return c.System || r.Governance.CanRead(c.Roles)
}

// CheckRead returns an AccessDeniedError unless the caller may read r.
func CheckRead(ctx context.Context, r *memcube.Record) error {
	c := FromContext(ctx)
	if c.System || r.Governance.CanRead(c.Roles) {
		return nil
	}
	return storage.AccessDeniedError{Caller: c.ID, Action: "read", Resource: r.ID}
}

// CheckWrite returns an AccessDeniedError unless the caller may write r.
func CheckWrite(ctx context.Context, r *memcube.Record) error {
	c := FromContext(ctx)
	if c.System || r.Governance.CanWrite(c.Roles) {
		return nil
	}
	return storage.AccessDeniedError{Caller: c.ID, Action: "write", Resource: r.ID}
}
