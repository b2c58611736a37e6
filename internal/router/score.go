package router

import (
	"math"

	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
)

// CompositeScore ranks a gateway by its on-chain weights and epoch record:
//
//	score = 0.50*stakeWeight + 0.10*tenureWeight + 0.15*gatewayPerfWeight
//	      + 0.05*observerPerfWeight + 0.15*ln(1+passedConsecutiveEpochs)
//	      + max(-0.20*ln(1+failedConsecutiveEpochs), -0.8)
func CompositeScore(g *gateway.Gateway) float64 {
	w := g.Weights
	penalty := -0.20 * math.Log1p(float64(g.Stats.FailedConsecutiveEpochs))
	if penalty < -0.8 {
		penalty = -0.8
	}
	return 0.50*w.Stake +
		0.10*w.Tenure +
		0.15*w.GatewayPerf +
		0.05*w.ObserverPerf +
		0.15*math.Log1p(float64(g.Stats.PassedConsecutiveEpochs)) +
		penalty
}

// scoredGateway pairs a gateway with its precomputed composite score.
type scoredGateway struct {
	gw    *gateway.Gateway
	score float64
}

// scorePool computes scores for every gateway, excluding non-positive
// scores; if that exclusion would empty the pool, it falls back to all
// gateways at equal weight (score 1).
func scorePool(gateways []*gateway.Gateway) []scoredGateway {
	pool := make([]scoredGateway, 0, len(gateways))
	for _, g := range gateways {
		s := CompositeScore(g)
		if s > 0 {
			pool = append(pool, scoredGateway{gw: g, score: s})
		}
	}
	if len(pool) == 0 {
		for _, g := range gateways {
			pool = append(pool, scoredGateway{gw: g, score: 1})
		}
	}
	return pool
}

// avgResponseTimeMs reads the cached EMA for a gateway's fqdn, returning
// +Inf if no observation has ever been recorded.
func avgResponseTimeMs(cache *perfcache.Cache, g *gateway.Gateway) float64 {
	v := cache.Get(g.FQDN).AvgResponseTimeMs()
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}
