package manifest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/wudi/arverify/internal/wire"
)

// BlobStore hands out opaque handles for verified leaf bytes and tears them
// down on a caller-provided signal.
type BlobStore struct {
	blobs map[string][]byte
}

// NewBlobStore builds a store from a TrustReport's verified leaves, keyed
// by the manifest path that referenced each one.
func NewBlobStore(m *wire.Manifest, report *TrustReport) *BlobStore {
	byHash := make(map[string][]byte, len(report.PerResource))
	for _, lr := range report.PerResource {
		if lr.Status == LeafVerified {
			byHash[lr.Reference] = lr.Bytes
		}
	}
	bs := &BlobStore{blobs: make(map[string][]byte)}
	for path, binding := range m.Paths {
		if data, ok := byHash[string(binding.ID)]; ok {
			bs.blobs[path] = data
		}
	}
	return bs
}

// Handle returns a local reference URI for path, and whether it resolved to
// a verified blob. Only paths whose leaf verified resolve; everything else
// reports false and is left alone by the rewriter.
func (bs *BlobStore) Handle(path string) (string, bool) {
	if _, ok := bs.blobs[path]; !ok {
		return "", false
	}
	return "blob:" + path, true
}

// Get returns the bytes behind a handle produced by Handle.
func (bs *BlobStore) Get(handle string) ([]byte, bool) {
	path := strings.TrimPrefix(handle, "blob:")
	data, ok := bs.blobs[path]
	return data, ok
}

// Release tears down every blob this store holds. Safe to call once the
// caller's teardown signal fires; the store must not be used afterward.
func (bs *BlobStore) Release() {
	bs.blobs = nil
}

// rewriteTarget is one element/attribute surface the rewriter touches,
// expressed against goquery's selector syntax. The list is closed: anything
// not matched here is never rewritten.
type rewriteTarget struct {
	selector string
	attr     string
}

var rewriteTargets = []rewriteTarget{
	{"script[src]", "src"},
	{"link[rel=stylesheet][href]", "href"},
	{"img[src]", "src"},
}

// RewriteHTML rewrites every manifest-referenced src/href in doc, plus CSS
// url(...) literals in <style> elements and style="" attributes, into local
// blob handles backed by store. External URLs (anything that doesn't match
// a manifest path exactly) are left untouched.
func RewriteHTML(doc []byte, store *BlobStore) ([]byte, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(string(doc)))
	if err != nil {
		return nil, err
	}

	for _, t := range rewriteTargets {
		d.Find(t.selector).Each(func(_ int, s *goquery.Selection) {
			val, ok := s.Attr(t.attr)
			if !ok || isExternalResource(val) {
				return
			}
			if handle, resolved := store.Handle(val); resolved {
				s.SetAttr(t.attr, handle)
			}
		})
	}

	d.Find("style").Each(func(_ int, s *goquery.Selection) {
		s.SetText(rewriteCSSURLs(s.Text(), store))
	})
	d.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("style"); ok {
			s.SetAttr("style", rewriteCSSURLs(v, store))
		}
	})

	return renderDocument(d)
}

// renderDocument serializes the full parsed document back to bytes.
// goquery's Selection.Html only serializes inner HTML of the first matched
// node, so the full tree is rendered directly through the underlying
// golang.org/x/net/html nodes goquery wraps.
func renderDocument(d *goquery.Document) ([]byte, error) {
	var buf strings.Builder
	for _, n := range d.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, err
		}
	}
	return []byte(buf.String()), nil
}

// isExternalResource is the documented heuristic for deciding whether a raw
// URL string points outside the manifest. Only absolute URLs (http://,
// https:// or protocol-relative //) can be external; a relative path never
// is. An absolute URL that carries a hash43-shaped token (as a
// gateway-qualified content URL does) is treated as manifest-internal; any
// other absolute URL is external. This is a known heuristic limitation: a
// third-party URL that happens to contain a 43-character opaque token (e.g.
// a CDN cache-busting query parameter) will false-negative as "not
// external" here. Rewriting itself, in both the src/href and the CSS
// url(...) paths, still takes effect only when the string matches a
// manifest path key exactly.
func isExternalResource(raw string) bool {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "//") {
		return !wire.IsLikelyHash43(raw)
	}
	return false
}

// rewriteCSSURLs scans css for url(...) literals with a small tokenizer
// rather than a regex substitution, and replaces any literal that resolves
// against store and passes
// isExternalResource's internal-reference check.
func rewriteCSSURLs(css string, store *BlobStore) string {
	var out strings.Builder
	i := 0
	for i < len(css) {
		idx := strings.Index(css[i:], "url(")
		if idx == -1 {
			out.WriteString(css[i:])
			break
		}
		start := i + idx
		out.WriteString(css[i:start])

		open := start + len("url(")
		closeAt := strings.IndexByte(css[open:], ')')
		if closeAt == -1 {
			out.WriteString(css[start:])
			break
		}
		literal := css[open : open+closeAt]
		trimmed := strings.Trim(strings.TrimSpace(literal), `"'`)

		if !isExternalResource(trimmed) {
			if handle, resolved := store.Handle(trimmed); resolved {
				out.WriteString("url(" + handle + ")")
				i = open + closeAt + 1
				continue
			}
		}
		out.WriteString(css[start : open+closeAt+1])
		i = open + closeAt + 1
	}
	return out.String()
}
