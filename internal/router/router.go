// Package router selects a single gateway URL for a ContentReference
// according to a configurable strategy: uniform or stake-weighted random
// picks, composite-score weighting, a latency-aware hybrid, and a static
// override.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/wudi/arverify/internal/breaker"
	"github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
	"github.com/wudi/arverify/internal/wire"
)

// Strategy names one of the selection policies.
type Strategy string

const (
	StrategyRandom              Strategy = "random"
	StrategyStakeWeightedRandom Strategy = "stake-weighted-random"
	StrategyHighestStake        Strategy = "highest-stake"
	StrategyTopFiveStakeRandom  Strategy = "top-five-stake-random"
	StrategyWeightedOnchain     Strategy = "weighted-onchain"
	StrategyOptimal             Strategy = "optimal"
	StrategyStatic              Strategy = "static"
	StrategyFastestPing         Strategy = "fastest-ping"
)

// Router selects a gateway and constructs the request URL for a reference.
type Router struct {
	Registry    *gateway.Registry
	Perf        *perfcache.Cache
	Strategy    Strategy
	StaticURL   string
	Prober      perfcache.Prober
	Breakers    *breaker.Manager // nil disables breaker gating (e.g. in tests)
	DefaultFQDN string           // bootstrap/default gateway, used when Eligible() is empty
}

// Selection is the outcome of Select: the chosen gateway (nil for static)
// and the fully constructed URL to request.
type Selection struct {
	Gateway *gateway.Gateway
	URL     string
}

// Select runs the configured strategy and builds the request URL for ref.
// If StaticURL is set it always wins, bypassing eligibility entirely. ctx
// bounds the optimal strategy's live-probe of its top candidates, when
// cached performance data alone isn't enough to pick one (see pickOptimal).
func (r *Router) Select(ctx context.Context, ref wire.ContentReference) (*Selection, error) {
	if r.StaticURL != "" {
		u, err := buildURL(r.StaticURL, ref)
		if err != nil {
			return nil, err
		}
		return &Selection{URL: u}, nil
	}

	eligible := r.Registry.Eligible()
	if len(eligible) == 0 {
		if r.DefaultFQDN == "" {
			return nil, errors.ErrNoEligibleGateways.WithReference(ref.String())
		}
		u, err := buildURL(fmt.Sprintf("https://%s", r.DefaultFQDN), ref)
		if err != nil {
			return nil, err
		}
		return &Selection{URL: u}, nil
	}

	var chosen *gateway.Gateway
	var err error
	switch r.Strategy {
	case StrategyRandom:
		chosen = pickRandom(eligible)
	case StrategyStakeWeightedRandom:
		chosen = pickStakeWeighted(eligible)
	case StrategyHighestStake:
		chosen = pickHighestStake(eligible)
	case StrategyTopFiveStakeRandom:
		chosen = pickTopFiveStakeRandom(eligible)
	case StrategyWeightedOnchain:
		chosen = pickWeightedOnchain(eligible)
	case StrategyOptimal:
		chosen, err = pickOptimal(ctx, eligible, r.Perf, r.Prober)
	case StrategyFastestPing:
		chosen, err = pickFastestPing(eligible, r.Perf)
	default:
		chosen = pickWeightedOnchain(eligible)
	}
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		return nil, errors.ErrNoEligibleGateways.WithReference(ref.String())
	}

	base := fmt.Sprintf("%s://%s", chosen.Protocol, chosen.FQDN)
	if chosen.Port != 0 && chosen.Port != 80 && chosen.Port != 443 {
		base = fmt.Sprintf("%s:%d", base, chosen.Port)
	}
	u, err := buildURL(base, ref)
	if err != nil {
		return nil, err
	}
	return &Selection{Gateway: chosen, URL: u}, nil
}

// buildURL constructs the request URL: the path form for id references,
// the subdomain form for DNS-safe names.
func buildURL(base string, ref wire.ContentReference) (string, error) {
	if ref.Kind == wire.KindID {
		return fmt.Sprintf("%s/%s", base, ref.ID), nil
	}
	if isDNSLabel(ref.Label) {
		scheme, host, ok := splitScheme(base)
		if !ok {
			return "", fmt.Errorf("malformed gateway base url %q", base)
		}
		if ref.Path == "" {
			return fmt.Sprintf("%s://%s.%s", scheme, ref.Label, host), nil
		}
		return fmt.Sprintf("%s://%s.%s/%s", scheme, ref.Label, host, ref.Path), nil
	}
	// Not a valid DNS label: treat as a hashed name, resolved gateway-side
	// via the path form.
	if ref.Path == "" {
		return fmt.Sprintf("%s/%s", base, ref.Label), nil
	}
	return fmt.Sprintf("%s/%s/%s", base, ref.Label, ref.Path), nil
}

func splitScheme(base string) (scheme, host string, ok bool) {
	for _, s := range []string{"https://", "http://"} {
		if len(base) > len(s) && base[:len(s)] == s {
			return s[:len(s)-3], base[len(s):], true
		}
	}
	return "", "", false
}

// isDNSLabel reports whether label is usable as a single DNS subdomain
// label: 1-63 characters, alphanumeric and hyphen, not starting/ending with
// a hyphen.
func isDNSLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if isAlnum || c == '-' {
			continue
		}
		return false
	}
	return label[0] != '-' && label[len(label)-1] != '-'
}

func pickRandom(gws []*gateway.Gateway) *gateway.Gateway {
	return gws[rand.Intn(len(gws))]
}

func pickHighestStake(gws []*gateway.Gateway) *gateway.Gateway {
	best := gws[0]
	for _, g := range gws[1:] {
		if g.TotalStake() > best.TotalStake() ||
			(g.TotalStake() == best.TotalStake() && g.Address < best.Address) {
			best = g
		}
	}
	return best
}

func pickTopFiveStakeRandom(gws []*gateway.Gateway) *gateway.Gateway {
	sorted := make([]*gateway.Gateway, len(gws))
	copy(sorted, gws)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalStake() != sorted[j].TotalStake() {
			return sorted[i].TotalStake() > sorted[j].TotalStake()
		}
		return sorted[i].Address < sorted[j].Address
	})
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}
	return pickRandom(sorted)
}
