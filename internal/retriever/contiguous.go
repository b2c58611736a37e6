package retriever

import (
	"context"
	"net/http"
)

// FetchContiguous issues a single GET against url and returns the response
// body as a lazy byte stream. A non-2xx response is returned as-is; the
// caller's verifier treats it as a verification failure, it is not an
// error here.
func (r *Retriever) FetchContiguous(ctx context.Context, url string) (*Result, error) {
	req, err := newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}

	return &Result{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}
