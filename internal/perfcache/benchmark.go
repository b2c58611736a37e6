package perfcache

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ProbeTimeout bounds a single benchmark probe.
const ProbeTimeout = 2 * time.Second

// FastestThreshold is the latency below which a probe result marks its
// gateway as the cached "fastest candidate".
const FastestThreshold = 2 * time.Second

// Candidate is a probe target: a gateway's fqdn and the URL to HEAD.
type Candidate struct {
	FQDN string
	URL  string
}

// Prober issues the probe request. *http.Client satisfies this directly;
// tests substitute a stub.
type Prober interface {
	Do(req *http.Request) (*http.Response, error)
}

// Benchmark issues a HEAD-equivalent probe to every candidate in parallel,
// each bounded by ProbeTimeout, and records the outcome into the cache. It
// returns the fqdn of the fastest candidate observed with latency under
// FastestThreshold, or "" if none qualified. Benchmark never returns an
// error; individual probe failures only feed the cache.
func (c *Cache) Benchmark(ctx context.Context, client Prober, candidates []Candidate) string {
	var (
		mu      sync.Mutex
		fastest string
		best    = FastestThreshold
	)

	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, cand.URL, nil)
			if err != nil {
				c.RecordOutcome(cand.FQDN, 0, false)
				return
			}

			start := time.Now()
			resp, err := client.Do(req)
			elapsed := time.Since(start)
			if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.RecordOutcome(cand.FQDN, 0, false)
				return
			}
			resp.Body.Close()

			c.RecordOutcome(cand.FQDN, elapsed, true)
			if c.OnProbe != nil {
				c.OnProbe(cand.FQDN, elapsed)
			}

			if elapsed < best {
				mu.Lock()
				if elapsed < best {
					best = elapsed
					fastest = cand.FQDN
				}
				mu.Unlock()
			}
		}(cand)
	}
	wg.Wait()

	return fastest
}
