// Package retriever fetches bytes for a selected gateway URL, two ways: a
// single-shot contiguous GET, and a chunked fetch for bundled items
// exposed behind a gateway's chunk API.
package retriever

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DiagnosticHeader is stamped on every outgoing request so gateway-side
// logs can distinguish this client's traffic.
const DiagnosticHeader = "X-Ar-Client"

// DiagnosticValue is the value sent with DiagnosticHeader.
const DiagnosticValue = "arverify-router"

// ChunkFetchTimeout bounds a single chunk GET.
const ChunkFetchTimeout = 10 * time.Second

// WholeArtifactTimeout is the end-to-end budget for a single retrieval. It
// is a fixed value; no configuration option overrides it.
const WholeArtifactTimeout = 60 * time.Second

// Result is a retrieved byte stream plus the headers the caller and the
// verifier need.
type Result struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentType   string
	ContentLength int64
}

// Client is the subset of *http.Client the retriever needs; tests stand up
// a real httptest.Server rather than mocking the transport.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Retriever fetches content from a single gateway URL.
type Retriever struct {
	Client Client
}

// New returns a Retriever backed by client.
func New(client Client) *Retriever {
	return &Retriever{Client: client}
}

func newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(DiagnosticHeader, DiagnosticValue)
	return req, nil
}
