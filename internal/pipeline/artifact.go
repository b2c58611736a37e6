package pipeline

import "github.com/wudi/arverify/internal/manifest"

// VerifiedArtifact is the pipeline's output: the verified bytes (already
// fully buffered by the time a caller receives this; the streaming
// discipline lives in internal/verifier, not here), the sniffed content
// type, and the trust verdict.
type VerifiedArtifact struct {
	Bytes         []byte
	ContentType   string
	Verified      bool
	FailureReason string

	// Manifest is non-nil when the verified body sniffed as a path-manifest
	// (the Content-Type header is not consulted); its Report field holds the
	// fan-out TrustReport. Manifest is nil for a single-resource fetch.
	Manifest *RenderedManifest
}

// RenderedManifest is the manifest-specific half of a VerifiedArtifact:
// the rewritten HTML (when the index was HTML and verified) plus the
// renderer's TrustReport.
type RenderedManifest struct {
	RewrittenHTML []byte
	Report        *manifest.TrustReport
}
