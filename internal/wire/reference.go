package wire

import (
	"fmt"
	"strings"
)

// ReferenceKind distinguishes the two ways content can be addressed.
type ReferenceKind int

const (
	// KindID addresses content directly by its hash43 transaction/data-item id.
	KindID ReferenceKind = iota
	// KindName addresses content by a human-readable label (an ArNS-style
	// name) plus an optional sub-path within that name's manifest.
	KindName
)

func (k ReferenceKind) String() string {
	if k == KindID {
		return "id"
	}
	return "name"
}

// ContentReference is either Id(hash43) or Name(label, path?).
type ContentReference struct {
	Kind  ReferenceKind
	ID    Hash43
	Label string
	Path  string
}

// NewIDReference constructs a reference that addresses content directly.
func NewIDReference(id Hash43) ContentReference {
	return ContentReference{Kind: KindID, ID: id}
}

// NewNameReference constructs a reference that addresses content through a
// name binding, optionally selecting a sub-path within that name's manifest.
func NewNameReference(label, path string) ContentReference {
	return ContentReference{Kind: KindName, Label: label, Path: path}
}

func (r ContentReference) String() string {
	if r.Kind == KindID {
		return string(r.ID)
	}
	if r.Path == "" {
		return r.Label
	}
	return fmt.Sprintf("%s/%s", r.Label, strings.TrimPrefix(r.Path, "/"))
}

// ParseReference parses a reference of the form "<hash43>" or
// "<label>[/<path>]": a 43-character string that passes ParseHash43 becomes
// an Id reference, and anything else is split at its first "/" into a Name
// reference's label and path.
func ParseReference(s string) (ContentReference, error) {
	if s == "" {
		return ContentReference{}, fmt.Errorf("empty reference")
	}
	if len(s) == Hash43Len {
		if id, err := ParseHash43(s); err == nil {
			return NewIDReference(id), nil
		}
	}
	label, path, _ := strings.Cut(s, "/")
	if label == "" {
		return ContentReference{}, fmt.Errorf("empty reference label in %q", s)
	}
	return NewNameReference(label, path), nil
}
