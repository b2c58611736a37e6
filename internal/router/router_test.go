package router

import (
	"context"
	"math"
	"testing"

	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
	"github.com/wudi/arverify/internal/wire"
)

func makeGateway(address string, stake uint64, composite float64) *gateway.Gateway {
	return &gateway.Gateway{
		Address:             address,
		FQDN:                address + ".example",
		Protocol:            gateway.ProtocolHTTPS,
		Status:              gateway.StatusJoined,
		OperatorStake:       stake,
		TotalDelegatedStake: 0,
		Weights:             gateway.Weights{Composite: composite},
	}
}

func newTestRegistry(t *testing.T, gws ...*gateway.Gateway) *gateway.Registry {
	t.Helper()
	reg := gateway.NewRegistry()
	if err := reg.RefreshRegistry(gws); err != nil {
		t.Fatalf("RefreshRegistry: %v", err)
	}
	return reg
}

func TestSelect_EmptyRegistryUsesDefault(t *testing.T) {
	reg := gateway.NewRegistry()
	r := &Router{Registry: reg, Perf: perfcache.NewCache(), Strategy: StrategyRandom, DefaultFQDN: "bootstrap.example"}

	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	sel, err := r.Select(context.Background(), wire.NewIDReference(id))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := "https://bootstrap.example/AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg"
	if sel.URL != want {
		t.Errorf("URL = %q, want %q", sel.URL, want)
	}
}

func TestSelect_NoDefaultNoEligibleFails(t *testing.T) {
	reg := gateway.NewRegistry()
	r := &Router{Registry: reg, Perf: perfcache.NewCache(), Strategy: StrategyRandom}
	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	_, err := r.Select(context.Background(), wire.NewIDReference(id))
	if err == nil {
		t.Fatal("expected NoEligibleGateways error")
	}
}

func TestSelect_HighestStakeTieBreak(t *testing.T) {
	a := makeGateway("b-gateway", 500, 0.5)
	b := makeGateway("a-gateway", 500, 0.5)
	reg := newTestRegistry(t, a, b)
	r := &Router{Registry: reg, Perf: perfcache.NewCache(), Strategy: StrategyHighestStake}

	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	sel, err := r.Select(context.Background(), wire.NewIDReference(id))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Gateway.Address != "a-gateway" {
		t.Errorf("expected lexicographic tiebreak to pick a-gateway, got %s", sel.Gateway.Address)
	}
}

func TestSelect_NeverReturnsIneligible(t *testing.T) {
	eligible := makeGateway("ok-gateway", 100, 0.5)
	blacklisted := makeGateway("bad-gateway", 1_000_000, 0.9)
	leaving := makeGateway("leaving-gateway", 1_000_000, 0.9)
	leaving.Status = gateway.StatusLeaving

	reg := newTestRegistry(t, eligible, blacklisted, leaving)
	reg.SetBlacklist([]string{"bad-gateway"})

	r := &Router{Registry: reg, Perf: perfcache.NewCache(), Strategy: StrategyHighestStake}
	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")

	for i := 0; i < 20; i++ {
		sel, err := r.Select(context.Background(), wire.NewIDReference(id))
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if sel.Gateway.Address != "ok-gateway" {
			t.Fatalf("Select returned ineligible gateway %s", sel.Gateway.Address)
		}
	}
}

func TestCompositeScore_Deterministic(t *testing.T) {
	g := makeGateway("gw", 100, 0)
	g.Weights = gateway.Weights{Stake: 0.8, Tenure: 0.5, GatewayPerf: 0.9, ObserverPerf: 0.3}
	g.Stats = gateway.EpochStats{PassedConsecutiveEpochs: 5, FailedConsecutiveEpochs: 1}

	s1 := CompositeScore(g)
	s2 := CompositeScore(g)
	if s1 != s2 {
		t.Errorf("CompositeScore not deterministic: %v != %v", s1, s2)
	}
}

func TestStakeWeightedRandom_EmpiricalRatio(t *testing.T) {
	a := makeGateway("a-gateway", 100, 0)
	b := makeGateway("b-gateway", 300, 0)
	gws := []*gateway.Gateway{a, b}

	const trials = 10000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		g := pickStakeWeighted(gws)
		counts[g.Address]++
	}

	ratio := float64(counts["a-gateway"]) / float64(counts["b-gateway"])
	want := 1.0 / 3.0
	if math.Abs(ratio-want) > 0.03*3 {
		t.Errorf("stake-weighted ratio = %v, want ~%v (±3%%)", ratio, want)
	}
}

func TestURLConstruction_IDForm(t *testing.T) {
	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	u, err := buildURL("https://gw.example", wire.NewIDReference(id))
	if err != nil {
		t.Fatal(err)
	}
	want := "https://gw.example/AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg"
	if u != want {
		t.Errorf("buildURL = %q, want %q", u, want)
	}
}

func TestURLConstruction_NameSubdomainForm(t *testing.T) {
	u, err := buildURL("https://gw.example", wire.NewNameReference("myapp", "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	want := "https://myapp.gw.example/index.html"
	if u != want {
		t.Errorf("buildURL = %q, want %q", u, want)
	}
}

func TestIsDNSLabel(t *testing.T) {
	cases := map[string]bool{
		"myapp":  true,
		"my-app": true,
		"-myapp": false,
		"myapp-": false,
		"my_app": false,
		"":       false,
	}
	for label, want := range cases {
		if got := isDNSLabel(label); got != want {
			t.Errorf("isDNSLabel(%q) = %v, want %v", label, got, want)
		}
	}
}
