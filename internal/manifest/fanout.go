package manifest

import (
	"context"

	"github.com/wudi/arverify/internal/wire"
)

// ProgressEvent is emitted per leaf as the fan-out proceeds. Events across
// leaves may be interleaved arbitrarily; this package only guarantees
// ordering within the events for a single leaf (trivially true, since each
// leaf emits exactly one).
type ProgressEvent struct {
	Reference string
	Status    LeafStatus
}

// RenderOptions configures a single Render call.
type RenderOptions struct {
	// OnProgress, if set, receives one ProgressEvent per completed leaf.
	OnProgress func(ProgressEvent)
	// ContinueProgressive answers the progressive strategy's "continue?"
	// choice point after the critical set completes. If nil, progressive
	// manifests stop after the critical set and mark the remainder skipped.
	ContinueProgressive func() bool
}

// Render chooses a loading strategy from the already-parsed manifest, fans
// out verification accordingly, and assembles a TrustReport. recoveryNote,
// if non-nil, is Parse's recovery note and is threaded straight into the
// report.
func (rd *Renderer) Render(ctx context.Context, m *wire.Manifest, recoveryNote *wire.RecoveryNote, opts RenderOptions) *TrustReport {
	report := &TrustReport{RecoveredNote: recoveryNote}

	leaves := UniqueLeaves(m)
	if len(leaves) == 0 {
		return report
	}

	criticalHashes := criticalHashSet(m, CriticalPaths(m))

	var results []LeafResult
	switch ChooseStrategy(len(leaves)) {
	case StrategyFullPrefetch:
		results = rd.verifyAll(ctx, leaves, opts)

	case StrategyCriticalFirst:
		ordered := orderCriticalFirst(leaves, criticalHashes)
		numCritical := len(criticalHashes)
		results = rd.verifyAll(ctx, ordered[:numCritical], opts)
		results = append(results, rd.verifyInBatches(ctx, ordered[numCritical:], opts)...)

	case StrategyProgressive:
		var critical, rest []wire.Hash43
		for _, h := range leaves {
			if criticalHashes[h] {
				critical = append(critical, h)
			} else {
				rest = append(rest, h)
			}
		}
		results = rd.verifyAll(ctx, critical, opts)
		if opts.ContinueProgressive != nil && opts.ContinueProgressive() {
			results = append(results, rd.verifyAll(ctx, rest, opts)...)
		} else {
			for _, h := range rest {
				lr := LeafResult{Reference: string(h), Status: LeafSkipped}
				results = append(results, lr)
				if opts.OnProgress != nil {
					opts.OnProgress(ProgressEvent{Reference: lr.Reference, Status: lr.Status})
				}
			}
		}
	}

	report.PerResource = results
	for _, lr := range results {
		report.Total++
		switch lr.Status {
		case LeafVerified:
			report.Verified++
		case LeafSkipped:
			report.Skipped++
		case LeafFailed:
			report.Failed++
		}
	}
	return report
}

// verifyAll verifies every leaf in hs as a single batch with no delay.
func (rd *Renderer) verifyAll(ctx context.Context, hs []wire.Hash43, opts RenderOptions) []LeafResult {
	out := make([]LeafResult, 0, len(hs))
	for _, h := range hs {
		r := rd.leaf(ctx, h)
		out = append(out, r)
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{Reference: r.Reference, Status: r.Status})
		}
	}
	return out
}

// verifyInBatches verifies hs in groups of batchSize, pausing batchDelay
// between groups.
func (rd *Renderer) verifyInBatches(ctx context.Context, hs []wire.Hash43, opts RenderOptions) []LeafResult {
	var out []LeafResult
	for i := 0; i < len(hs); i += batchSize {
		if i > 0 {
			interBatchDelay(ctx, batchDelay)
		}
		end := i + batchSize
		if end > len(hs) {
			end = len(hs)
		}
		out = append(out, rd.verifyAll(ctx, hs[i:end], opts)...)
	}
	return out
}

// orderCriticalFirst reorders leaves so the critical set comes first,
// preserving relative order within each group.
func orderCriticalFirst(leaves []wire.Hash43, critical map[wire.Hash43]bool) []wire.Hash43 {
	out := make([]wire.Hash43, 0, len(leaves))
	for _, h := range leaves {
		if critical[h] {
			out = append(out, h)
		}
	}
	for _, h := range leaves {
		if !critical[h] {
			out = append(out, h)
		}
	}
	return out
}

// criticalHashSet resolves the path-level critical set from CriticalPaths
// into the corresponding set of hash43 leaves.
func criticalHashSet(m *wire.Manifest, criticalPaths []string) map[wire.Hash43]bool {
	out := make(map[wire.Hash43]bool, len(criticalPaths))
	for _, p := range criticalPaths {
		if b, ok := m.Paths[p]; ok {
			out[b.ID] = true
		}
	}
	return out
}
