package gateway

import (
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulSource is an optional snapshot source that discovers gateways
// through a Consul service catalog instead of the default static/HTTP
// snapshot. Gateway-specific fields that Consul's service model has no
// room for (stake, tenure, epoch stats) travel in the service's tagged
// metadata.
type ConsulSource struct {
	client      *consulapi.Client
	datacenter  string
	serviceName string
}

// ConsulSourceConfig configures a ConsulSource.
type ConsulSourceConfig struct {
	Address     string
	Scheme      string
	Datacenter  string
	Token       string
	ServiceName string
}

// NewConsulSource connects to Consul and verifies the agent is reachable.
func NewConsulSource(cfg ConsulSourceConfig) (*ConsulSource, error) {
	consulCfg := consulapi.DefaultConfig()
	if cfg.Address != "" {
		consulCfg.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		consulCfg.Scheme = cfg.Scheme
	}
	consulCfg.Datacenter = cfg.Datacenter
	if cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}

	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("connect to consul: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ar-gateway"
	}

	return &ConsulSource{client: client, datacenter: cfg.Datacenter, serviceName: serviceName}, nil
}

// FetchGateways implements the registry snapshot source contract by
// listing healthy instances of the configured service and decoding each
// instance's on-chain fields from its service metadata.
func (s *ConsulSource) FetchGateways() ([]*Gateway, error) {
	entries, _, err := s.client.Health().Service(s.serviceName, "", true, &consulapi.QueryOptions{
		Datacenter: s.datacenter,
	})
	if err != nil {
		return nil, fmt.Errorf("discover gateways: %w", err)
	}

	out := make([]*Gateway, 0, len(entries))
	for _, entry := range entries {
		meta := entry.Service.Meta
		g := &Gateway{
			Address:  meta["address"],
			FQDN:     entry.Service.Address,
			Protocol: Protocol(stringOr(meta["protocol"], string(ProtocolHTTPS))),
			Port:     entry.Service.Port,
			Status:   Status(stringOr(meta["status"], string(StatusJoined))),
		}
		if g.FQDN == "" {
			g.FQDN = entry.Node.Address
		}
		g.OperatorStake = parseUint(meta["operatorStake"])
		g.TotalDelegatedStake = parseUint(meta["totalDelegatedStake"])
		g.Weights = Weights{
			Stake:        parseFloat(meta["weightStake"]),
			Tenure:       parseFloat(meta["weightTenure"]),
			GatewayPerf:  parseFloat(meta["weightGatewayPerf"]),
			ObserverPerf: parseFloat(meta["weightObserverPerf"]),
			Composite:    parseFloat(meta["weightComposite"]),
		}
		g.Stats = EpochStats{
			PassedEpochs:            parseInt(meta["passedEpochs"]),
			FailedConsecutiveEpochs: parseInt(meta["failedConsecutiveEpochs"]),
			PassedConsecutiveEpochs: parseInt(meta["passedConsecutiveEpochs"]),
			ObservedEpochs:          parseInt(meta["observedEpochs"]),
			PrescribedEpochs:        parseInt(meta["prescribedEpochs"]),
		}
		if g.Address == "" {
			g.Address = entry.Service.ID
		}
		out = append(out, g)
	}
	return out, nil
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
