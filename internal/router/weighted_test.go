package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
)

func gatewayAt(t *testing.T, srv *httptest.Server, address string, composite float64) *gateway.Gateway {
	t.Helper()
	u := strings.TrimPrefix(srv.URL, "http://")
	return &gateway.Gateway{
		Address:  address,
		FQDN:     u,
		Protocol: gateway.ProtocolHTTP,
		Status:   gateway.StatusJoined,
		Weights:  gateway.Weights{Composite: composite},
	}
}

func TestPickOptimal_LiveProbesWhenCacheHasNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := gatewayAt(t, srv, "gw-a", 0.5)
	got, err := pickOptimal(context.Background(), []*gateway.Gateway{gw}, perfcache.NewCache(), http.DefaultClient)
	if err != nil {
		t.Fatalf("pickOptimal: %v", err)
	}
	if got != gw {
		t.Errorf("expected the live-probed gateway, got %+v", got)
	}
}

func TestPickOptimal_NilProberSkipsStepFourAndFallsBack(t *testing.T) {
	gw := gatewayAt(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})), "gw-b", 0.5)
	got, err := pickOptimal(context.Background(), []*gateway.Gateway{gw}, perfcache.NewCache(), nil)
	if err != nil {
		t.Fatalf("pickOptimal: %v", err)
	}
	if got == nil {
		t.Fatal("expected a weighted-onchain fallback pick, got nil")
	}
}

func TestPickOptimal_PrefersGoodCachedAverageOverProbing(t *testing.T) {
	gw := &gateway.Gateway{Address: "gw-c", FQDN: "cached.example", Protocol: gateway.ProtocolHTTPS, Status: gateway.StatusJoined, Weights: gateway.Weights{Composite: 0.5}}
	perf := perfcache.NewCache()
	perf.RecordOutcome(gw.FQDN, 0, true) // 0ms sample, well under the 5s bound

	got, err := pickOptimal(context.Background(), []*gateway.Gateway{gw}, perf, nil)
	if err != nil {
		t.Fatalf("pickOptimal: %v", err)
	}
	if got != gw {
		t.Errorf("expected the cached-fast gateway without needing a prober, got %+v", got)
	}
}
