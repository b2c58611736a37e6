package breaker

import (
	"testing"

	arrgateway "github.com/wudi/arverify/internal/gateway"
)

func TestForGateway_SameAddressReturnsSameBreaker(t *testing.T) {
	m := NewManager(nil)
	gw := &arrgateway.Gateway{Address: "gw-a"}

	b1 := m.ForGateway(gw)
	b2 := m.ForGateway(gw)
	if b1 != b2 {
		t.Fatal("expected the same *Breaker for repeated calls with the same gateway")
	}
}

func TestAllow_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(nil)
	gw := &arrgateway.Gateway{Address: "gw-b"}
	b := m.ForGateway(gw)

	for i := 0; i <= FailureThreshold; i++ {
		done, allowed := b.Allow()
		if !allowed {
			t.Fatalf("request %d: expected allowed before trip", i)
		}
		done(false)
	}

	_, allowed := b.Allow()
	if allowed {
		t.Fatal("expected breaker to be open (not allowed) after exceeding FailureThreshold")
	}
	if !gw.Penalized() {
		t.Fatal("expected gateway to be penalized once the breaker opens")
	}
}

func TestAllow_SuccessesNeverPenalize(t *testing.T) {
	m := NewManager(nil)
	gw := &arrgateway.Gateway{Address: "gw-c"}
	b := m.ForGateway(gw)

	for i := 0; i < 5; i++ {
		done, allowed := b.Allow()
		if !allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		done(true)
	}

	if gw.Penalized() {
		t.Fatal("gateway should not be penalized after consecutive successes")
	}
}
