package verifier

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wudi/arverify/internal/wire"
)

// ContentKind distinguishes the two verification modes a reference might
// need.
type ContentKind string

const (
	KindBundledItem ContentKind = "bundled-item"
	KindTransaction ContentKind = "transaction"
)

// ClassifyFunc implements classify(hash43) -> {bundled | transaction}. It
// must be deterministic for a given hash43.
type ClassifyFunc func(h wire.Hash43) ContentKind

// CachingClassifier wraps a ClassifyFunc with a bounded LRU memoizing past
// classifications. Classification results never change for a given hash43,
// but the underlying check (typically a HEAD request probing for
// X-Root-Tx-Id) is not free.
type CachingClassifier struct {
	underlying ClassifyFunc
	cache      *lru.LRU[wire.Hash43, ContentKind]
}

// NewCachingClassifier wraps underlying with an LRU of the given size and
// entry TTL.
func NewCachingClassifier(underlying ClassifyFunc, size int, ttl time.Duration) *CachingClassifier {
	return &CachingClassifier{
		underlying: underlying,
		cache:      lru.NewLRU[wire.Hash43, ContentKind](size, nil, ttl),
	}
}

// Classify returns the cached classification for h, computing and storing
// it on first request.
func (c *CachingClassifier) Classify(h wire.Hash43) ContentKind {
	if kind, ok := c.cache.Get(h); ok {
		return kind
	}
	kind := c.underlying(h)
	c.cache.Add(h, kind)
	return kind
}
