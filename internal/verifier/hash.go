// Package verifier wraps a retrieval byte stream with a verification
// discipline: streaming hash verification for contiguous retrieval, and
// per-chunk Merkle-proof verification for the chunked retrieval strategy.
// Both produce a definite verdict at end-of-stream without buffering more
// than a fixed bound of unread bytes.
package verifier

import (
	"crypto/sha256"
	"io"

	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/wire"
)

// BackpressureBound is the maximum amount of verified-but-unread data
// buffered between the retriever and the caller.
const BackpressureBound = 4 * 1024 * 1024

// progressIntervalBytes is how often, in bytes processed, a Progress event
// is emitted.
const progressIntervalBytes = 1 << 20

// Progress reports incremental verification status.
type Progress struct {
	Percentage  float64
	ProcessedMB float64
	TotalMB     float64
}

// Result is the definite verdict produced at end-of-stream.
type Result struct {
	Verified bool
	Reason   string
}

// HashStream verifies src incrementally against expected as the caller
// drains Reader. Once Done() resolves, Reason is "" (verified),
// "hash_mismatch", "no_binding" (empty expected hash) or "RetrievalError"
// (src failed); Done blocks until the stream has been fully consumed.
type HashStream struct {
	Reader   io.Reader
	Progress <-chan Progress

	done   chan struct{}
	result Result
}

// Done blocks until the underlying stream has reached EOF (or failed) and
// returns the final verdict.
func (h *HashStream) Done() Result {
	<-h.done
	return h.result
}

// VerifyHash wraps src with incremental SHA-256 hashing against expected.
// totalSize, if known (>0), is reported in Progress.TotalMB; pass 0 if
// unknown, in which case Progress.Percentage is always 0.
//
// The pipe between src and the returned Reader enforces BackpressureBound:
// each read from src is capped to that size before being handed to the
// consumer, so a slow consumer stalls the producer rather than letting
// unbounded bytes accumulate.
func VerifyHash(src io.Reader, expected wire.Hash43, totalSize int64) *HashStream {
	pr, pw := io.Pipe()
	progressCh := make(chan Progress, 1)

	hs := &HashStream{
		Reader:   pr,
		Progress: progressCh,
		done:     make(chan struct{}),
	}

	go func() {
		// progressCh must close before done: callers that forward progress
		// events wait on Done and then expect no further sends.
		defer close(hs.done)
		defer close(progressCh)

		h := sha256.New()
		buf := make([]byte, BackpressureBound)
		var processed int64
		nextMark := int64(progressIntervalBytes)
		totalMB := float64(totalSize) / (1 << 20)

		for {
			n, readErr := src.Read(buf)
			if n > 0 {
				h.Write(buf[:n])
				if _, err := pw.Write(buf[:n]); err != nil {
					pw.CloseWithError(err)
					return
				}
				processed += int64(n)
				for processed >= nextMark {
					pct := 0.0
					if totalSize > 0 {
						pct = float64(processed) / float64(totalSize) * 100
					}
					select {
					case progressCh <- Progress{Percentage: pct, ProcessedMB: float64(processed) / (1 << 20), TotalMB: totalMB}:
					default:
					}
					nextMark += progressIntervalBytes
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				pw.CloseWithError(readErr)
				hs.result = Result{Verified: false, Reason: "RetrievalError"}
				return
			}
		}

		var digest [32]byte
		copy(digest[:], h.Sum(nil))
		got := wire.EncodeHash43(digest)

		if string(expected) == "" {
			hs.result = Result{Verified: false, Reason: string(rerrors.KindNoBinding)}
		} else if got != expected {
			hs.result = Result{Verified: false, Reason: string(rerrors.KindHashMismatch)}
		} else {
			hs.result = Result{Verified: true}
		}
		pw.Close()
	}()

	return hs
}
