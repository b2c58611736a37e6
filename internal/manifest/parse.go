package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/wire"
)

// Parse validates and decodes a manifest document. On success it returns
// the full manifest and a nil RecoveryNote. When some `paths` entries are
// structurally valid JSON but carry an invalid `id`, Parse instead returns
// a reduced manifest containing only the valid entries, with a non-nil
// RecoveryNote describing what was dropped.
func Parse(data []byte) (*wire.Manifest, *wire.RecoveryNote, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, rerrors.Wrap(rerrors.KindManifestInvalid, "invalid json", err)
	}

	if err := validateSchema(raw); err == nil {
		var m wire.Manifest
		if decodeErr := json.Unmarshal(data, &m); decodeErr == nil {
			if bad := invalidPathIDs(m); len(bad) == 0 {
				if valErr := validateBindings(&m); valErr == nil {
					m.PathOrder = declaredPathOrder(data)
					return &m, nil, nil
				}
			}
		}
	}

	return recoverManifest(data)
}

// declaredPathOrder walks the raw document's paths object in declaration
// order, recovering what the map decode discarded.
func declaredPathOrder(data []byte) []string {
	var order []string
	gjson.GetBytes(data, "paths").ForEach(func(key, _ gjson.Result) bool {
		order = append(order, key.String())
		return true
	})
	return order
}

// invalidPathIDs returns the set of path keys whose id fails hash43
// validation, after an otherwise-successful decode.
func invalidPathIDs(m wire.Manifest) []string {
	var bad []string
	for path, binding := range m.Paths {
		if _, err := wire.ParseHash43(string(binding.ID)); err != nil {
			bad = append(bad, path)
		}
	}
	return bad
}

// validateBindings enforces the manifest invariants the JSON Schema cannot
// express: index.path, if present, must be a key in paths.
func validateBindings(m *wire.Manifest) error {
	if m.Index != nil && m.Index.Path != "" {
		if _, ok := m.Paths[m.Index.Path]; !ok {
			return fmt.Errorf("index.path %q not present in paths", m.Index.Path)
		}
	}
	return nil
}

// recoverManifest constructs a reduced manifest from only the
// structurally-valid, hash43-valid entries, using gjson to walk the raw
// document without requiring it to satisfy the full schema, and sjson to
// build the validated subset back into a manifest-shaped document for
// decoding.
func recoverManifest(data []byte) (*wire.Manifest, *wire.RecoveryNote, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, nil, rerrors.ErrManifestInvalid
	}

	schema := root.Get("schema").String()
	version := root.Get("version").String()
	if schema != wire.SupportedSchema || !wire.SupportedVersions[version] {
		return nil, nil, rerrors.ErrManifestInvalid
	}

	rebuilt := []byte(`{}`)
	var err error
	rebuilt, err = sjson.SetBytes(rebuilt, "schema", schema)
	if err != nil {
		return nil, nil, rerrors.Wrap(rerrors.KindManifestInvalid, "recovery failed", err)
	}
	rebuilt, _ = sjson.SetBytes(rebuilt, "version", version)

	var skipped, order []string
	pathsResult := root.Get("paths")
	if pathsResult.IsObject() {
		pathsResult.ForEach(func(key, value gjson.Result) bool {
			id := value.Get("id").String()
			if _, idErr := wire.ParseHash43(id); idErr != nil {
				skipped = append(skipped, key.String())
				return true
			}
			order = append(order, key.String())
			rebuilt, _ = sjson.SetBytes(rebuilt, "paths."+jsonPointerEscape(key.String())+".id", id)
			return true
		})
	}

	indexPath := root.Get("index.path").String()
	if indexPath != "" {
		if _, stillPresent := gjson.GetBytes(rebuilt, "paths."+jsonPointerEscape(indexPath)).Value().(map[string]any); stillPresent {
			rebuilt, _ = sjson.SetBytes(rebuilt, "index.path", indexPath)
		}
	}

	var m wire.Manifest
	if err := json.Unmarshal(rebuilt, &m); err != nil {
		return nil, nil, rerrors.Wrap(rerrors.KindManifestInvalid, "recovery produced invalid manifest", err)
	}
	m.PathOrder = order

	if len(m.Paths) == 0 {
		// No path entry survived recovery: fall back to index.id, if it is
		// itself a valid hash43, as a single-item bypass.
		if bypassID, idErr := wire.ParseHash43(root.Get("index.id").String()); idErr == nil {
			return nil, &wire.RecoveryNote{
				Reason:       "no valid path entries; bypassing manifest via index.id",
				SkippedPaths: skipped,
				BypassID:     bypassID,
			}, nil
		}
		if len(skipped) == 0 {
			return nil, nil, rerrors.ErrManifestInvalid
		}
	}

	return &m, &wire.RecoveryNote{Reason: "invalid path entries dropped", SkippedPaths: skipped}, nil
}

// jsonPointerEscape escapes ".", "*" and "?" in a manifest path key so gjson/
// sjson's path syntax doesn't misinterpret them as a nesting separator or
// wildcards.
func jsonPointerEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
