// Package gateway holds the Gateway record and the registry: the
// client-side view of the network's on-chain gateway set. Writers hold an
// exclusive lock for the critical section only; readers work off an atomic
// snapshot pointer.
package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/wudi/arverify/internal/errors"
)

// Status is the gateway's on-chain lifecycle state.
type Status string

const (
	StatusJoined  Status = "joined"
	StatusLeaving Status = "leaving"
	StatusLeft    Status = "left"
)

// Protocol is the scheme a gateway serves over.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Weights are the normalized [0,1] scoring inputs for a Gateway.
type Weights struct {
	Stake        float64
	Tenure       float64
	GatewayPerf  float64
	ObserverPerf float64
	Composite    float64
}

// EpochStats are the on-chain epoch participation counters used by the
// composite score and the optimal-hybrid routing rule.
type EpochStats struct {
	PassedEpochs            int64
	FailedConsecutiveEpochs int64
	PassedConsecutiveEpochs int64
	ObservedEpochs          int64
	PrescribedEpochs        int64
}

// Gateway is a single entry in the registry snapshot.
type Gateway struct {
	Address             string
	FQDN                string
	Protocol            Protocol
	Port                int
	Status              Status
	OperatorStake       uint64
	TotalDelegatedStake uint64
	Weights             Weights
	Stats               EpochStats

	// penalized is set when this gateway's circuit breaker (internal/breaker)
	// opens after more than 10 consecutive failed attempts, and cleared when
	// that breaker closes again. Penalized gateways are routing-ineligible
	// but remain benchmark-eligible.
	penalized atomic.Bool
}

// TotalStake is the sum of operator and delegated stake, the quantity used
// by stake-weighted strategies.
func (g *Gateway) TotalStake() uint64 {
	return g.OperatorStake + g.TotalDelegatedStake
}

// Penalized reports whether this gateway is currently excluded from routing
// due to a consecutive-failure run, independent of blacklist/status.
func (g *Gateway) Penalized() bool {
	return g.penalized.Load()
}

// Registry is the mutable, shared gateway set. Readers take a lock-free
// snapshot of the current slice; writers (refresh, blacklist mutation,
// penalty transitions) hold the exclusive lock only for the critical
// section.
type Registry struct {
	mu         sync.RWMutex
	byAddress  map[string]*Gateway
	blacklist  map[string]bool
	snapshot   atomic.Pointer[[]*Gateway]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		byAddress: make(map[string]*Gateway),
		blacklist: make(map[string]bool),
	}
	empty := []*Gateway{}
	r.snapshot.Store(&empty)
	return r
}

// RefreshRegistry replaces the registry wholesale with snapshot. On an
// empty or malformed snapshot, the prior registry is retained and
// RegistryFetchFailed is returned.
func (r *Registry) RefreshRegistry(snapshot []*Gateway) error {
	if len(snapshot) == 0 {
		return errors.ErrRegistryFetchFailed
	}
	byAddress := make(map[string]*Gateway, len(snapshot))
	for _, g := range snapshot {
		if g == nil || g.Address == "" {
			return errors.Wrap(errors.KindRegistryFetchFailed, "snapshot entry missing address", nil)
		}
		byAddress[g.Address] = g
	}

	r.mu.Lock()
	r.byAddress = byAddress
	cp := make([]*Gateway, 0, len(snapshot))
	cp = append(cp, snapshot...)
	r.mu.Unlock()

	r.snapshot.Store(&cp)
	return nil
}

// SetBlacklist replaces the blacklist set wholesale.
func (r *Registry) SetBlacklist(addresses []string) {
	bl := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		bl[a] = true
	}
	r.mu.Lock()
	r.blacklist = bl
	r.mu.Unlock()
}

// ToggleBlacklist flips the blacklist membership of a single address.
func (r *Registry) ToggleBlacklist(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blacklist[address] {
		delete(r.blacklist, address)
	} else {
		r.blacklist[address] = true
	}
}

// IsBlacklisted reports whether address is currently excluded.
func (r *Registry) IsBlacklisted(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklist[address]
}

// Eligible returns the lock-free snapshot of gateways that are joined,
// unpenalized, and not blacklisted.
func (r *Registry) Eligible() []*Gateway {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil
	}
	r.mu.RLock()
	bl := r.blacklist
	r.mu.RUnlock()

	out := make([]*Gateway, 0, len(*snap))
	for _, g := range *snap {
		if g.Status != StatusJoined {
			continue
		}
		if bl[g.Address] {
			continue
		}
		if g.Penalized() {
			continue
		}
		out = append(out, g)
	}
	return out
}

// All returns every gateway in the current snapshot, including penalized
// and blacklisted ones; used by the benchmark loop, which probes penalized
// gateways outside the routing-eligible set.
func (r *Registry) All() []*Gateway {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := make([]*Gateway, len(*snap))
	copy(out, *snap)
	return out
}

// ByFQDN finds a gateway by its fqdn within the current snapshot.
func (r *Registry) ByFQDN(fqdn string) (*Gateway, bool) {
	for _, g := range r.All() {
		if g.FQDN == fqdn {
			return g, true
		}
	}
	return nil, false
}

// Penalize marks g penalized, excluding it from Eligible() until a success
// is recorded for its fqdn.
func (g *Gateway) Penalize() { g.penalized.Store(true) }

// Pardon clears g's penalized state.
func (g *Gateway) Pardon() { g.penalized.Store(false) }
