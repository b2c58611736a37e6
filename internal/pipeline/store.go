package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wudi/arverify/internal/gateway"
	"github.com/wudi/arverify/internal/perfcache"
	"github.com/wudi/arverify/internal/router"
)

// Store persists the restart-recovery layout to a single JSON document on
// disk: the registry snapshot, the performance cache, the blacklist, the
// active routing strategy, and the static-gateway override. Manifest JSON
// handed to CacheManifest is kept alongside it, zstd-compressed, since it
// can be considerably larger than the bookkeeping keys above; the pipeline's
// fetch path does not call CacheManifest itself.
type Store struct {
	path string

	mu        sync.Mutex
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	manifests map[string][]byte // hash43 -> zstd-compressed manifest JSON
}

// document is the on-disk shape of the persistence layout's five keys plus
// the manifest cache.
type document struct {
	GatewayRegistry     []*gateway.Gateway         `json:"gateway-registry"`
	GatewayPerformance  map[string]perfSnapshotDoc `json:"gateway-performance"`
	BlacklistedGateways []string                   `json:"blacklisted-gateways"`
	RoutingStrategy     router.Strategy            `json:"routing-strategy"`
	StaticGateway       string                     `json:"static-gateway"`
	Manifests           map[string][]byte          `json:"manifests,omitempty"`
}

// perfSnapshotDoc is the JSON-serializable form of perfcache.Snapshot: the
// live type stores time.Duration and time.Time, which need explicit
// encodings to round-trip predictably across a restart.
type perfSnapshotDoc struct {
	ResponseTimesMs []int64   `json:"responseTimesMs"`
	AvgResponseTime float64   `json:"avgResponseTime"`
	Failures        int       `json:"failures"`
	SuccessCount    int64     `json:"successCount"`
	LastProbeAt     time.Time `json:"lastProbeAt"`
}

// NewStore opens (without yet reading) a Store backed by path.
func NewStore(path string) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: init zstd decoder: %w", err)
	}
	return &Store{path: path, encoder: enc, decoder: dec, manifests: make(map[string][]byte)}, nil
}

// Close releases the store's zstd codec resources.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Load reads the persisted document, if any, into registry, perf and the
// blacklist, and returns the persisted routing strategy and static gateway
// (empty if never saved). A missing file is not an error: the pipeline
// starts from an empty state rather than requiring a prior run to exist.
func (s *Store) Load(reg *gateway.Registry, perf *perfcache.Cache) (strategy router.Strategy, staticGateway string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("pipeline: read store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", "", fmt.Errorf("pipeline: decode store: %w", err)
	}

	if len(doc.GatewayRegistry) > 0 {
		if rerr := reg.RefreshRegistry(doc.GatewayRegistry); rerr != nil {
			return "", "", fmt.Errorf("pipeline: restore registry: %w", rerr)
		}
	}
	reg.SetBlacklist(doc.BlacklistedGateways)

	for fqdn, snap := range doc.GatewayPerformance {
		rec := perf.Get(fqdn)
		for _, ms := range snap.ResponseTimesMs {
			rec.RecordSuccess(time.Duration(ms) * time.Millisecond)
		}
		for i := 0; i < snap.Failures; i++ {
			rec.RecordFailure()
		}
	}

	s.manifests = doc.Manifests
	if s.manifests == nil {
		s.manifests = make(map[string][]byte)
	}

	return doc.RoutingStrategy, doc.StaticGateway, nil
}

// Save writes the full persistence layout to disk, replacing any prior
// content. The write is atomic with respect to process crashes: it writes
// to a temp file in the same directory and renames over the target.
func (s *Store) Save(reg *gateway.Registry, perf *perfcache.Cache, strategy router.Strategy, staticGateway string) error {
	doc := document{
		GatewayRegistry:     reg.All(),
		GatewayPerformance:  make(map[string]perfSnapshotDoc),
		BlacklistedGateways: blacklistedAddresses(reg),
		RoutingStrategy:     strategy,
		StaticGateway:       staticGateway,
	}

	for fqdn, snap := range perf.All() {
		ms := make([]int64, len(snap.ResponseTimes))
		for i, d := range snap.ResponseTimes {
			ms[i] = d.Milliseconds()
		}
		doc.GatewayPerformance[fqdn] = perfSnapshotDoc{
			ResponseTimesMs: ms,
			AvgResponseTime: snap.AvgResponseTime,
			Failures:        snap.Failures,
			SuccessCount:    snap.SuccessCount,
			LastProbeAt:     snap.LastProbeAt,
		}
	}

	s.mu.Lock()
	doc.Manifests = s.manifests
	s.mu.Unlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: encode store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("pipeline: prepare store dir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("pipeline: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("pipeline: commit store: %w", err)
	}
	return nil
}

// CacheManifest stores a verified manifest's raw JSON bytes, zstd-compressed,
// keyed by its own hash43 so a later fetch of the same manifest hash can
// skip re-parsing (not re-verifying; verification always re-runs per
// request, this only avoids redundant decode work).
func (s *Store) CacheManifest(hash string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	compressed := s.encoder.EncodeAll(raw, nil)
	s.manifests[hash] = compressed
	return nil
}

// CachedManifest returns the decompressed manifest JSON previously stored
// under hash, if present.
func (s *Store) CachedManifest(hash string) ([]byte, bool, error) {
	s.mu.Lock()
	compressed, ok := s.manifests[hash]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("pipeline: decompress cached manifest: %w", err)
	}
	return raw, true, nil
}

func blacklistedAddresses(reg *gateway.Registry) []string {
	var out []string
	for _, g := range reg.All() {
		if reg.IsBlacklisted(g.Address) {
			out = append(out, g.Address)
		}
	}
	return out
}
