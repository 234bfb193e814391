package testutils

import (
	"context"
	"errors"
	"time"

	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// ErrCacheDown is returned by every FailingCache method.
var ErrCacheDown = errors.New("cache unavailable")

// FailingCache is a slicecache.Cache whose backend is always down.
type FailingCache struct{}

func (FailingCache) Get(context.Context, slicecache.Key) (*slicecache.Entry, bool, error) {
	return nil, false, ErrCacheDown
}

func (FailingCache) Put(context.Context, slicecache.Key, *state.Slice, time.Duration) error {
	return ErrCacheDown
}

func (FailingCache) InvalidateBefore(context.Context, string, string, int64) (int, error) {
	return 0, ErrCacheDown
}

func (FailingCache) Sweep(context.Context) (int, error) { return 0, ErrCacheDown }

func (FailingCache) Stats(context.Context) (slicecache.Stats, error) {
	return slicecache.Stats{}, ErrCacheDown
}

func (FailingCache) Close() error { return nil }

var _ slicecache.Cache = FailingCache{}
