package wire

import "testing"

const validHash43 = "AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg"

func TestParseHash43_Valid(t *testing.T) {
	h, err := ParseHash43(validHash43)
	if err != nil {
		t.Fatalf("ParseHash43: %v", err)
	}
	if string(h) != validHash43 {
		t.Errorf("got %q, want %q", h, validHash43)
	}
}

func TestParseHash43_WrongLength(t *testing.T) {
	if _, err := ParseHash43("tooshort"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestParseHash43_InvalidBase64(t *testing.T) {
	bad := "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"
	if len(bad) != Hash43Len {
		t.Fatalf("test fixture length = %d, want %d", len(bad), Hash43Len)
	}
	if _, err := ParseHash43(bad); err == nil {
		t.Fatal("expected error for non-base64 input")
	}
}

func TestEncodeHash43_RoundTrips(t *testing.T) {
	h, err := ParseHash43(validHash43)
	if err != nil {
		t.Fatalf("ParseHash43: %v", err)
	}
	digest := h.Bytes()
	if got := EncodeHash43(digest); got != h {
		t.Errorf("EncodeHash43(Bytes()) = %q, want %q", got, h)
	}
}

func TestIsLikelyHash43(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"/" + validHash43, true},
		{"https://example.com/" + validHash43 + "/index.html", true},
		{"https://example.com/style.css", false},
		{"a-short-token", false},
	}
	for _, c := range cases {
		if got := IsLikelyHash43(c.in); got != c.want {
			t.Errorf("IsLikelyHash43(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
