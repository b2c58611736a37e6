package wire

// Manifest is the parsed form of an arweave/paths path-manifest: a JSON
// document mapping a site's relative paths to the hash43 of the content
// that should be served at that path, plus an optional default index.
type Manifest struct {
	Schema   string                 `json:"schema"`
	Version  string                 `json:"version"`
	Index    *ManifestIndex         `json:"index,omitempty"`
	Paths    map[string]PathBinding `json:"paths"`
	Fallback *PathBinding           `json:"fallback,omitempty"`

	// PathOrder records the document's declared ordering of the Paths keys.
	// Decoding a JSON object into a Go map discards it, and Go randomizes
	// map iteration, so the parser captures the order separately; consumers
	// that need "the first N paths" must read this, never range over Paths.
	PathOrder []string `json:"-"`
}

// ManifestIndex names the path served when a manifest is fetched without a
// trailing sub-path. ID is an alternative form naming a content id directly
// rather than a path into Paths: when a manifest cannot be parsed at all
// but its index.id is a valid hash43, that id alone can still be served as
// a single-item retrieval.
type ManifestIndex struct {
	Path string `json:"path"`
	ID   Hash43 `json:"id,omitempty"`
}

// PathBinding binds a single manifest path to a content id.
type PathBinding struct {
	ID Hash43 `json:"id"`
}

// SupportedSchema and SupportedVersions bound what this module will parse
// without falling back to best-effort recovery.
const SupportedSchema = "arweave/paths"

var SupportedVersions = map[string]bool{
	"0.1.0": true,
	"0.2.0": true,
}

// RecoveryNote records that a manifest was parsed via the best-effort
// recovery path rather than strict schema validation, and why. BypassID is
// set only when recovery found zero usable path entries but a valid
// index.id: the caller should fetch and verify BypassID directly as a
// single-item reference instead of rendering a (now-empty) manifest.
type RecoveryNote struct {
	Reason       string
	SkippedPaths []string
	BypassID     Hash43
}
