package manifest

import (
	"context"
	"io"
	"time"

	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/retriever"
	"github.com/wudi/arverify/internal/router"
	"github.com/wudi/arverify/internal/verifier"
	"github.com/wudi/arverify/internal/wire"
)

// LeafStatus is the per-resource outcome recorded in a TrustReport.
type LeafStatus string

const (
	LeafVerified LeafStatus = "verified"
	LeafSkipped  LeafStatus = "skipped"
	LeafFailed   LeafStatus = "failed"
	LeafPending  LeafStatus = "pending"
)

// LeafResult is one entry of TrustReport.PerResource.
type LeafResult struct {
	Reference string
	Status    LeafStatus
	Reason    string
	Bytes     []byte // populated only when Status == LeafVerified
}

// TrustReport summarizes per-leaf verification outcomes for one render.
type TrustReport struct {
	Total         int
	Verified      int
	Skipped       int
	Failed        int
	PerResource   []LeafResult
	RecoveredNote *wire.RecoveryNote
}

// batchDelay is the inter-batch pause for critical-first's non-critical
// remainder.
const batchDelay = 100 * time.Millisecond

// batchSize is the non-critical batch size for critical-first loading.
const batchSize = 3

// interBatchDelay abstracts time.Sleep so tests can run without incurring
// real wall-clock delays.
var interBatchDelay = func(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Renderer runs the full Router->Retriever->Verifier stack against every
// manifest leaf and assembles a TrustReport.
type Renderer struct {
	Router     *router.Router
	Client     retriever.Client
	Classifier *verifier.CachingClassifier
}

// leaf fetches and verifies a single hash43 reference, running the full
// router/retriever/verifier stack independently of its siblings.
func (rd *Renderer) leaf(ctx context.Context, h wire.Hash43) LeafResult {
	ref := wire.NewIDReference(h)
	ret := retriever.New(rd.Client)

	var result LeafResult
	result.Reference = string(h)

	err := rd.Router.SelectWithRetry(ctx, ref, func(ctx context.Context, sel *router.Selection) error {
		kind := verifier.KindTransaction
		if rd.Classifier != nil {
			kind = rd.Classifier.Classify(h)
		}

		if kind == verifier.KindBundledItem {
			// FetchChunkedProved validates X-Chunk-Tx-Id while fetching, but
			// that alone only proves a chunk came from the claimed root tx,
			// not that it's the byte range this hash43 names. VerifyChunks
			// additionally checks each chunk's Merkle proof against h itself
			// before its bytes are released.
			_, _, next, fetchErr := ret.FetchChunkedProved(ctx, baseOf(sel.URL), string(h))
			if fetchErr == nil {
				cs := verifier.VerifyChunks(h, next)
				data, _ := io.ReadAll(cs.Reader)
				verdict := cs.Done()
				if !verdict.Verified {
					result.Status = LeafFailed
					result.Reason = verdict.Reason
					return nil
				}
				result.Status = LeafVerified
				result.Bytes = data
				return nil
			}
			if !rerrors.Is(fetchErr, rerrors.KindChunkAPIUnavailable) {
				return fetchErr
			}
			// No chunk API on this gateway; fall back to a contiguous fetch
			// with whole-body hash verification.
		}

		res, fetchErr := ret.FetchContiguous(ctx, sel.URL)
		if fetchErr != nil {
			return rerrors.Wrap(rerrors.KindGatewayUnreachable, "fetch failed", fetchErr)
		}
		defer res.Body.Close()

		hs := verifier.VerifyHash(res.Body, h, res.ContentLength)
		go func() {
			for range hs.Progress {
			}
		}()
		data, _ := io.ReadAll(hs.Reader)
		verdict := hs.Done()
		if !verdict.Verified {
			result.Status = LeafFailed
			result.Reason = verdict.Reason
			return nil
		}
		result.Status = LeafVerified
		result.Bytes = data
		return nil
	})
	if err != nil && result.Status == "" {
		result.Status = LeafFailed
		result.Reason = err.Error()
	}
	return result
}

func baseOf(fullURL string) string {
	// fullURL is "{scheme}://{fqdn}[:port]/{hash43}"; strip the trailing
	// "/{hash43}" segment to recover the gateway base used by the chunk API.
	for i := len(fullURL) - 1; i >= 0; i-- {
		if fullURL[i] == '/' {
			return fullURL[:i]
		}
	}
	return fullURL
}
