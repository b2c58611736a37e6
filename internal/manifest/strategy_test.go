package manifest

import (
	"testing"

	"github.com/wudi/arverify/internal/wire"
)

func TestChooseStrategy_Thresholds(t *testing.T) {
	cases := []struct {
		n    int
		want LoadingStrategy
	}{
		{0, StrategyFullPrefetch},
		{20, StrategyFullPrefetch},
		{21, StrategyCriticalFirst},
		{100, StrategyCriticalFirst},
		{101, StrategyProgressive},
	}
	for _, c := range cases {
		if got := ChooseStrategy(c.n); got != c.want {
			t.Errorf("ChooseStrategy(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestUniqueLeaves_Deduplicates(t *testing.T) {
	id1, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	id2, _ := wire.ParseHash43("BBocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	m := &wire.Manifest{
		Paths: map[string]wire.PathBinding{
			"a.html": {ID: id1},
			"b.html": {ID: id1},
			"c.css":  {ID: id2},
		},
	}
	leaves := UniqueLeaves(m)
	if len(leaves) != 2 {
		t.Fatalf("len(UniqueLeaves) = %d, want 2", len(leaves))
	}
}

func TestCriticalPaths_DeterministicDeclaredOrder(t *testing.T) {
	doc := `{
		"schema": "arweave/paths",
		"version": "0.2.0",
		"index": {"path": "index.html"},
		"paths": {
			"zeta.css": {"id": "` + validHash1 + `"},
			"index.html": {"id": "` + validHash2 + `"},
			"alpha.js": {"id": "` + validHash1 + `"},
			"beta.png": {"id": "` + validHash2 + `"},
			"gamma.svg": {"id": "` + validHash1 + `"}
		}
	}`

	want := []string{"index.html", "zeta.css", "alpha.js"}
	for i := 0; i < 10; i++ {
		m, _, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		got := CriticalPaths(m)
		if len(got) != len(want) {
			t.Fatalf("run %d: CriticalPaths = %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: CriticalPaths = %v, want %v", i, got, want)
			}
		}
	}
}

func TestUniqueLeaves_DeclaredOrder(t *testing.T) {
	doc := `{
		"schema": "arweave/paths",
		"version": "0.1.0",
		"paths": {
			"b.bin": {"id": "` + validHash2 + `"},
			"a.bin": {"id": "` + validHash1 + `"}
		}
	}`
	m, _, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	leaves := UniqueLeaves(m)
	if len(leaves) != 2 || string(leaves[0]) != validHash2 || string(leaves[1]) != validHash1 {
		t.Fatalf("UniqueLeaves = %v, want declared order [%s %s]", leaves, validHash2, validHash1)
	}
}

func TestCriticalPaths_IncludesIndex(t *testing.T) {
	id, _ := wire.ParseHash43("AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg")
	m := &wire.Manifest{
		Index: &wire.ManifestIndex{Path: "index.html"},
		Paths: map[string]wire.PathBinding{
			"index.html": {ID: id},
			"a.css":      {ID: id},
			"b.js":       {ID: id},
			"c.png":      {ID: id},
		},
	}
	critical := CriticalPaths(m)
	found := false
	for _, p := range critical {
		if p == "index.html" {
			found = true
		}
	}
	if !found {
		t.Error("expected index.html in critical set")
	}
	if len(critical) > 4 {
		t.Errorf("len(critical) = %d, want at most 4 (index + 3)", len(critical))
	}
}
