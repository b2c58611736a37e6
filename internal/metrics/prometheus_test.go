package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSelection(t *testing.T) {
	r := New()
	r.RecordSelection("optimal", "success")
	r.RecordSelection("optimal", "success")
	r.RecordSelection("optimal", "failure")

	if got := testutil.ToFloat64(r.selections.WithLabelValues("optimal", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.selections.WithLabelValues("optimal", "failure")); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestSetCircuitBreaker_CountsTransitionsOnce(t *testing.T) {
	r := New()
	r.SetCircuitBreaker("arweave.net", 1)
	r.SetCircuitBreaker("arweave.net", 1)
	r.SetCircuitBreaker("arweave.net", 0)

	if got := testutil.ToFloat64(r.circuitBreakerState.WithLabelValues("arweave.net")); got != 0 {
		t.Errorf("state gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("arweave.net", "1")); got != 1 {
		t.Errorf("transitions to 1 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("arweave.net", "0")); got != 1 {
		t.Errorf("transitions to 0 = %v, want 1", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	r := New()
	r.RecordManifestLeaf("verified")

	if r.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
