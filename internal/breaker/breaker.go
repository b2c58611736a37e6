// Package breaker implements the per-gateway penalized/eligible state
// machine on top of github.com/sony/gobreaker/v2's TwoStepCircuitBreaker:
// a run of consecutive failures opens the breaker and penalizes the
// gateway, a successful trial request closes it and pardons.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	arrgateway "github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/metrics"
)

// FailureThreshold is the consecutive-failure count past which a gateway
// transitions joined -> penalized.
const FailureThreshold = 10

// RecoveryTimeout bounds how long a penalized gateway stays excluded from
// benchmarking-driven recovery attempts before gobreaker allows a trial
// request through again.
const RecoveryTimeout = 30 * time.Second

// Breaker wraps a TwoStepCircuitBreaker bound to a single gateway address,
// and mirrors its observed state onto the gateway's penalized flag so the
// router's eligible() check (internal/gateway) needs no breaker awareness.
type Breaker struct {
	address string
	cb      *gobreaker.TwoStepCircuitBreaker[struct{}]
	gw      *arrgateway.Gateway
}

func newBreaker(address string, gw *arrgateway.Gateway, m *metrics.Registry) *Breaker {
	b := &Breaker{address: address, gw: gw}
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        address,
		MaxRequests: 1,
		Interval:    0, // never reset Counts on a timer; only OnStateChange events matter
		Timeout:     RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				gw.Penalize()
			case gobreaker.StateClosed:
				gw.Pardon()
			}
			if m != nil {
				m.SetCircuitBreaker(address, int64(to))
			}
		},
	})
	return b
}

// Allow reports whether a request to this gateway should proceed, and
// returns a done callback the caller must invoke with the outcome.
func (b *Breaker) Allow() (done func(success bool), allowed bool) {
	step, err := b.cb.Allow()
	if err != nil {
		return func(bool) {}, false
	}
	return step, true
}

// Manager holds one Breaker per gateway address.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	metrics  *metrics.Registry
}

// NewManager returns an empty breaker manager. metrics may be nil, in which
// case breaker state transitions are tracked but not exported.
func NewManager(m *metrics.Registry) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), metrics: m}
}

// ForGateway returns the Breaker for gw, creating it on first access.
func (m *Manager) ForGateway(gw *arrgateway.Gateway) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[gw.Address]; ok {
		return b
	}
	b := newBreaker(gw.Address, gw, m.metrics)
	m.breakers[gw.Address] = b
	return b
}
