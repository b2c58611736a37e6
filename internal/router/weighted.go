package router

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
)

// pickStakeWeighted picks with probability proportional to
// operatorStake + totalDelegatedStake via a cumulative weighted roll.
func pickStakeWeighted(gws []*gateway.Gateway) *gateway.Gateway {
	total := uint64(0)
	for _, g := range gws {
		total += g.TotalStake()
	}
	if total == 0 {
		return pickRandom(gws)
	}
	roll := uint64(rand.Float64() * float64(total))
	var cumulative uint64
	for _, g := range gws {
		cumulative += g.TotalStake()
		if roll < cumulative {
			return g
		}
	}
	return gws[len(gws)-1]
}

// pickWeightedOnchain selects weighted by score^1.5, biasing toward
// higher-scored gateways without starving the rest of the pool.
func pickWeightedOnchain(gws []*gateway.Gateway) *gateway.Gateway {
	pool := scorePool(gws)
	total := 0.0
	for _, p := range pool {
		total += math.Pow(p.score, 1.5)
	}
	if total <= 0 {
		return pickRandom(gws)
	}
	roll := rand.Float64() * total
	var cumulative float64
	for _, p := range pool {
		cumulative += math.Pow(p.score, 1.5)
		if roll < cumulative {
			return p.gw
		}
	}
	return pool[len(pool)-1].gw
}

// avgCandidate pairs a gateway with its cached average response time.
type avgCandidate struct {
	gw  *gateway.Gateway
	avg float64
}

// pickOptimal is the hybrid rule: score and take the top 25, prefer the
// best cached average under 5s, failing that live-probe the top 3 by score
// with a 2s HEAD and take the first to answer under that bound, otherwise
// fall back to weighted-onchain. prober may be nil (e.g. in tests
// exercising only the cached-average path), in which case the live probe
// is skipped.
func pickOptimal(ctx context.Context, gws []*gateway.Gateway, perf *perfcache.Cache, prober perfcache.Prober) (*gateway.Gateway, error) {
	pool := scorePool(gws)
	sortByScoreDesc(pool)
	if len(pool) > 25 {
		pool = pool[:25]
	}

	var candidates []avgCandidate
	for _, p := range pool {
		snap := perf.Get(p.gw.FQDN).Snapshot()
		if snap.Failures >= 10 {
			continue
		}
		avg := snap.AvgResponseTime
		if math.IsNaN(avg) {
			continue
		}
		candidates = append(candidates, avgCandidate{gw: p.gw, avg: avg})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].avg < candidates[j].avg })
	for _, c := range candidates {
		if c.avg < 5000 {
			return c.gw, nil
		}
	}

	if prober != nil {
		if chosen := probeTopCandidates(ctx, pool, perf, prober, 3); chosen != nil {
			return chosen, nil
		}
	}

	return pickWeightedOnchain(gws), nil
}

// probeTopCandidates live-HEADs the top n candidates by score, via the
// same perfcache.Cache.Benchmark the background benchmark loop uses, and
// returns whichever one it reports as fastest (nil if none answers within
// perfcache.FastestThreshold).
func probeTopCandidates(ctx context.Context, pool []scoredGateway, perf *perfcache.Cache, prober perfcache.Prober, n int) *gateway.Gateway {
	if len(pool) > n {
		pool = pool[:n]
	}
	byFQDN := make(map[string]*gateway.Gateway, len(pool))
	probes := make([]perfcache.Candidate, 0, len(pool))
	for _, p := range pool {
		byFQDN[p.gw.FQDN] = p.gw
		probes = append(probes, perfcache.Candidate{
			FQDN: p.gw.FQDN,
			URL:  fmt.Sprintf("%s://%s", p.gw.Protocol, p.gw.FQDN),
		})
	}
	fastest := perf.Benchmark(ctx, prober, probes)
	return byFQDN[fastest]
}

// pickFastestPing returns the lowest cached-latency gateway among the
// top-scored pool, falling back to weighted-onchain when nothing is under
// the 2s bar. It reads cached averages only; the live top-K benchmark that
// refreshes them is perfcache.Cache.Benchmark, run periodically by
// cmd/arverify's benchmark loop through pipeline.Context.Benchmark.
func pickFastestPing(gws []*gateway.Gateway, perf *perfcache.Cache) (*gateway.Gateway, error) {
	pool := scorePool(gws)
	sortByScoreDesc(pool)
	const topK = 25
	if len(pool) > topK {
		pool = pool[:topK]
	}

	var best *gateway.Gateway
	bestAvg := math.Inf(1)
	for _, p := range pool {
		avg := avgResponseTimeMs(perf, p.gw)
		if avg < bestAvg {
			bestAvg = avg
			best = p.gw
		}
	}
	if best != nil && bestAvg < 2000 {
		return best, nil
	}
	return pickWeightedOnchain(gws), nil
}

// sortByScoreDesc orders best-score-first with a lexicographic address
// tiebreak, so equal-score gateways at a top-K cut land on the same side
// of it every call (the same tiebreak pickHighestStake applies to stake).
func sortByScoreDesc(pool []scoredGateway) {
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].gw.Address < pool[j].gw.Address
	})
}
