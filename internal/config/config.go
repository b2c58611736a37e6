// Package config loads and hot-reloads the router's configuration from a
// YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/wudi/arverify/internal/router"
)

// DefaultBootstrapFQDN is the hard-coded bootstrap gateway, used for the
// initial registry fetch and as the worst-case fallback when the registry
// is empty.
const DefaultBootstrapFQDN = "arweave.net"

// Config is the top-level configuration document: the routing options plus
// the logging/metrics/persistence/consul sections.
type Config struct {
	RoutingStrategy     router.Strategy `yaml:"routingStrategy"`
	StaticGateway       string          `yaml:"staticGateway"`
	BenchmarkIntervalMs int             `yaml:"benchmarkIntervalMs"`
	VerificationEnabled bool            `yaml:"verificationEnabled"`
	StrictMode          bool            `yaml:"strictMode"`
	DefaultGatewayFQDN  string          `yaml:"defaultGatewayFqdn"`

	Consul      ConsulConfig      `yaml:"consul"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ConsulConfig configures the gateway registry's Consul-backed snapshot
// source (internal/gateway.ConsulSource).
type ConsulConfig struct {
	Address    string `yaml:"address"`
	Datacenter string `yaml:"datacenter"`
	Service    string `yaml:"service"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// MetricsConfig configures internal/metrics's Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures internal/tracing's OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// PersistenceConfig configures the on-disk state store.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// BenchmarkInterval returns BenchmarkIntervalMs as a Duration, defaulting
// to 10 minutes when unset.
func (c *Config) BenchmarkInterval() time.Duration {
	if c.BenchmarkIntervalMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.BenchmarkIntervalMs) * time.Millisecond
}

// DefaultConfig returns a Config populated with every default.
func DefaultConfig() *Config {
	return &Config{
		RoutingStrategy:     router.StrategyOptimal,
		BenchmarkIntervalMs: int((10 * time.Minute).Milliseconds()),
		VerificationEnabled: true,
		StrictMode:          false,
		DefaultGatewayFQDN:  DefaultBootstrapFQDN,
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "arverify",
			SampleRate:  1.0,
		},
		Persistence: PersistenceConfig{
			Path: "arverify.db",
		},
	}
}

// Validate rejects configurations that cannot be run: an unknown routing
// strategy, a static strategy with no static gateway, or a missing default
// gateway.
func (c *Config) Validate() error {
	switch c.RoutingStrategy {
	case router.StrategyRandom, router.StrategyStakeWeightedRandom, router.StrategyHighestStake,
		router.StrategyTopFiveStakeRandom, router.StrategyWeightedOnchain, router.StrategyOptimal,
		router.StrategyStatic, router.StrategyFastestPing:
	default:
		return fmt.Errorf("config: unknown routingStrategy %q", c.RoutingStrategy)
	}
	if c.RoutingStrategy == router.StrategyStatic && c.StaticGateway == "" {
		return fmt.Errorf("config: routingStrategy static requires staticGateway")
	}
	if c.DefaultGatewayFQDN == "" {
		return fmt.Errorf("config: defaultGatewayFqdn must not be empty")
	}
	return nil
}
