package manifest

import (
	"strings"
	"testing"

	"github.com/wudi/arverify/internal/wire"
)

func reportFor(path string, id wire.Hash43, data []byte) *TrustReport {
	return &TrustReport{
		PerResource: []LeafResult{
			{Reference: string(id), Status: LeafVerified, Bytes: data},
		},
	}
}

func TestNewBlobStore_OnlyIncludesVerifiedLeaves(t *testing.T) {
	okHash := hashOf([]byte("ok"))
	failedHash := hashOf([]byte("bad"))
	m := &wire.Manifest{
		Paths: map[string]wire.PathBinding{
			"a.js": {ID: okHash},
			"b.js": {ID: failedHash},
		},
	}
	report := &TrustReport{
		PerResource: []LeafResult{
			{Reference: string(okHash), Status: LeafVerified, Bytes: []byte("ok")},
			{Reference: string(failedHash), Status: LeafFailed},
		},
	}
	bs := NewBlobStore(m, report)

	if _, ok := bs.Handle("a.js"); !ok {
		t.Error("expected a.js to resolve to a handle")
	}
	if _, ok := bs.Handle("b.js"); ok {
		t.Error("expected b.js (failed leaf) to not resolve")
	}
}

func TestBlobStore_GetRoundTrips(t *testing.T) {
	h := hashOf([]byte("payload"))
	m := &wire.Manifest{Paths: map[string]wire.PathBinding{"f.bin": {ID: h}}}
	bs := NewBlobStore(m, reportFor("f.bin", h, []byte("payload")))

	handle, ok := bs.Handle("f.bin")
	if !ok {
		t.Fatal("expected handle")
	}
	data, ok := bs.Get(handle)
	if !ok || string(data) != "payload" {
		t.Errorf("Get(%q) = %q, %v; want payload, true", handle, data, ok)
	}
}

func TestBlobStore_ReleaseClearsBlobs(t *testing.T) {
	h := hashOf([]byte("x"))
	m := &wire.Manifest{Paths: map[string]wire.PathBinding{"f.bin": {ID: h}}}
	bs := NewBlobStore(m, reportFor("f.bin", h, []byte("x")))
	bs.Release()
	if _, ok := bs.Handle("f.bin"); ok {
		t.Error("expected Handle to fail after Release")
	}
}

func TestRewriteHTML_RewritesScriptAndLinkAndImg(t *testing.T) {
	jsHash := hashOf([]byte("console.log(1)"))
	cssHash := hashOf([]byte("body{}"))
	imgHash := hashOf([]byte("\x89PNG"))

	m := &wire.Manifest{
		Paths: map[string]wire.PathBinding{
			"app.js":   {ID: jsHash},
			"app.css":  {ID: cssHash},
			"hero.png": {ID: imgHash},
		},
	}
	report := &TrustReport{
		PerResource: []LeafResult{
			{Reference: string(jsHash), Status: LeafVerified, Bytes: []byte("console.log(1)")},
			{Reference: string(cssHash), Status: LeafVerified, Bytes: []byte("body{}")},
			{Reference: string(imgHash), Status: LeafVerified, Bytes: []byte("\x89PNG")},
		},
	}
	bs := NewBlobStore(m, report)

	doc := `<html><head><script src="app.js"></script><link rel="stylesheet" href="app.css"></head>` +
		`<body><img src="hero.png"><img src="https://other.example/not-in-manifest.png"></body></html>`

	out, err := RewriteHTML([]byte(doc), bs)
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	result := string(out)

	if !strings.Contains(result, `src="blob:app.js"`) {
		t.Errorf("expected app.js rewritten, got: %s", result)
	}
	if !strings.Contains(result, `href="blob:app.css"`) {
		t.Errorf("expected app.css rewritten, got: %s", result)
	}
	if !strings.Contains(result, `src="blob:hero.png"`) {
		t.Errorf("expected hero.png rewritten, got: %s", result)
	}
	if !strings.Contains(result, `https://other.example/not-in-manifest.png`) {
		t.Errorf("expected external image untouched, got: %s", result)
	}
}

func TestRewriteHTML_RewritesInlineStyleAndStyleTag(t *testing.T) {
	bgHash := hashOf([]byte("bg-data"))
	m := &wire.Manifest{Paths: map[string]wire.PathBinding{"bg.png": {ID: bgHash}}}
	report := &TrustReport{
		PerResource: []LeafResult{
			{Reference: string(bgHash), Status: LeafVerified, Bytes: []byte("bg-data")},
		},
	}
	bs := NewBlobStore(m, report)

	doc := `<html><head><style>.x{background:url('bg.png')}</style></head>` +
		`<body><div style="background: url(bg.png)"></div></body></html>`
	out, err := RewriteHTML([]byte(doc), bs)
	if err != nil {
		t.Fatalf("RewriteHTML: %v", err)
	}
	result := string(out)
	if !strings.Contains(result, "url(blob:bg.png)") {
		t.Errorf("expected css url() rewritten in both style tag and attribute, got: %s", result)
	}
}

func TestIsExternalResource(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"relative/path.css", false},
		{"index.html", false},
		{"https://cdn.example/lib.js", true},
		{"//cdn.example/lib.js", true},
		{"https://example.com/" + "AAocz1fpnnc9OMAHkbB5ehdLdiiHZcPP3Jl0NWiuMeg", false},
	}
	for _, c := range cases {
		if got := isExternalResource(c.in); got != c.want {
			t.Errorf("isExternalResource(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
