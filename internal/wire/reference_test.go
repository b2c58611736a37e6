package wire

import "testing"

func TestParseReference_Hash43(t *testing.T) {
	ref, err := ParseReference(validHash43)
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if ref.Kind != KindID {
		t.Fatalf("Kind = %v, want KindID", ref.Kind)
	}
	if string(ref.ID) != validHash43 {
		t.Errorf("ID = %q, want %q", ref.ID, validHash43)
	}
}

func TestParseReference_NameWithPath(t *testing.T) {
	ref, err := ParseReference("my-site/index.html")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if ref.Kind != KindName {
		t.Fatalf("Kind = %v, want KindName", ref.Kind)
	}
	if ref.Label != "my-site" || ref.Path != "index.html" {
		t.Errorf("got label=%q path=%q, want my-site/index.html", ref.Label, ref.Path)
	}
}

func TestParseReference_NameNoPath(t *testing.T) {
	ref, err := ParseReference("my-site")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if ref.Kind != KindName || ref.Label != "my-site" || ref.Path != "" {
		t.Errorf("got %+v", ref)
	}
}

func TestParseReference_Empty(t *testing.T) {
	if _, err := ParseReference(""); err == nil {
		t.Fatal("expected error for empty reference")
	}
}

func TestContentReference_String(t *testing.T) {
	id, _ := ParseHash43(validHash43)
	if got := NewIDReference(id).String(); got != validHash43 {
		t.Errorf("got %q, want %q", got, validHash43)
	}
	if got := NewNameReference("site", "").String(); got != "site" {
		t.Errorf("got %q, want site", got)
	}
	if got := NewNameReference("site", "a/b").String(); got != "site/a/b" {
		t.Errorf("got %q, want site/a/b", got)
	}
}
