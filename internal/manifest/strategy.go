package manifest

import (
	"sort"

	"github.com/wudi/arverify/internal/wire"
)

// LoadingStrategy is the choice of how leaves are batched for verification.
type LoadingStrategy string

const (
	StrategyFullPrefetch  LoadingStrategy = "full-prefetch"
	StrategyCriticalFirst LoadingStrategy = "critical-first"
	StrategyProgressive   LoadingStrategy = "progressive"
)

// fullPrefetchMax and criticalFirstMax are the leaf-count thresholds that
// separate the three strategies.
const (
	fullPrefetchMax  = 20
	criticalFirstMax = 100
)

// ChooseStrategy picks a loading strategy from the unique leaf count.
func ChooseStrategy(leafCount int) LoadingStrategy {
	switch {
	case leafCount <= fullPrefetchMax:
		return StrategyFullPrefetch
	case leafCount <= criticalFirstMax:
		return StrategyCriticalFirst
	default:
		return StrategyProgressive
	}
}

// orderedPaths returns the manifest's path keys in declared document order
// (wire.Manifest.PathOrder, captured by the parser). For manifests built in
// code without one, it falls back to lexicographic order; ranging over the
// Paths map here would make the result differ between identical calls.
func orderedPaths(m *wire.Manifest) []string {
	if len(m.PathOrder) == len(m.Paths) {
		return m.PathOrder
	}
	keys := make([]string, 0, len(m.Paths))
	for p := range m.Paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	return keys
}

// UniqueLeaves returns the deduplicated set of hash43 leaves referenced by
// a manifest's paths, in the manifest's declared path order.
func UniqueLeaves(m *wire.Manifest) []wire.Hash43 {
	seen := make(map[wire.Hash43]bool, len(m.Paths))
	var out []wire.Hash43
	for _, p := range orderedPaths(m) {
		binding := m.Paths[p]
		if !seen[binding.ID] {
			seen[binding.ID] = true
			out = append(out, binding.ID)
		}
	}
	return out
}

// CriticalPaths returns the critical set for critical-first/progressive
// strategies: the index path plus the literal first three paths by the
// manifest's declared order. Deterministic for a fixed manifest.
func CriticalPaths(m *wire.Manifest) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if m.Index != nil {
		add(m.Index.Path)
	}
	ordered := orderedPaths(m)
	for i := 0; i < len(ordered) && i < 3; i++ {
		add(ordered[i])
	}
	return out
}
