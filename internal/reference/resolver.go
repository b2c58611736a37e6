// Package reference resolves a human-readable ContentReference (a name
// plus optional path) down to the hash43 a gateway binds it to, and caches
// that binding.
package reference

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/arverify/internal/wire"
)

// DefaultCacheSize bounds the number of name->hash bindings held in memory.
const DefaultCacheSize = 1024

// DefaultTTL bounds how long a resolved binding is trusted before the
// resolver asks the gateway again. Name bindings can change (a label can be
// repointed to new content), so this is deliberately much shorter than the
// classifier cache's TTL.
const DefaultTTL = 5 * time.Minute

// LookupFunc performs the gateway-side name -> hash43 binding lookup for a
// label.
type LookupFunc func(ctx context.Context, label string) (wire.Hash43, error)

// Resolver memoizes LookupFunc results in a bounded, TTL'd LRU. Concurrent
// misses for the same label are collapsed into one in-flight lookup.
type Resolver struct {
	lookup LookupFunc
	cache  *lru.LRU[string, wire.Hash43]
	flight singleflight.Group
}

// NewResolver wraps lookup with an LRU of size entries and ttl expiry.
// size<=0 and ttl<=0 fall back to DefaultCacheSize/DefaultTTL.
func NewResolver(lookup LookupFunc, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		lookup: lookup,
		cache:  lru.NewLRU[string, wire.Hash43](size, nil, ttl),
	}
}

// Resolve returns the hash43 ref.Label is currently bound to, consulting
// the cache before invoking the underlying LookupFunc. Only Name
// references are resolved; an Id reference's hash is returned unchanged.
// A lookup that finds no binding surfaces the LookupFunc's NoBinding
// error wrapped with the label (reachable through errors.Unwrap), so the
// request fails rather than fetching unbound bytes.
func (r *Resolver) Resolve(ctx context.Context, ref wire.ContentReference) (wire.Hash43, error) {
	if ref.Kind == wire.KindID {
		return ref.ID, nil
	}
	if h, ok := r.cache.Get(ref.Label); ok {
		return h, nil
	}

	// singleflight collapses concurrent misses for the same label into a
	// single gateway round trip; the cache is re-checked inside so losers
	// of the initial Get race still reuse a just-stored binding.
	v, err, _ := r.flight.Do(ref.Label, func() (any, error) {
		if h, ok := r.cache.Get(ref.Label); ok {
			return h, nil
		}
		h, err := r.lookup(ctx, ref.Label)
		if err != nil {
			return nil, err
		}
		r.cache.Add(ref.Label, h)
		return h, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve name %q: %w", ref.Label, err)
	}
	return v.(wire.Hash43), nil
}

// Invalidate drops any cached binding for label, forcing the next Resolve
// to consult the gateway again. Used when a name's manifest is known to
// have changed (e.g. a caller explicitly refreshes).
func (r *Resolver) Invalidate(label string) {
	r.cache.Remove(label)
}
