package retriever

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/verifier"
)

// offsetResponse is the JSON body of GET /tx/{root}/offset.
type offsetResponse struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// FetchChunkedProved is the chunked retrieval strategy: discover the
// bundled item's root transaction via HEAD, resolve the root's absolute
// offset, then hand chunks to the caller one at a time in ascending offset
// order, each validated against the root tx id and carrying its Merkle
// proof path decoded from the gateway's X-Chunk-Data-Path header. Callers
// run verifier.VerifyChunks over the chunks; no variant exists that skips
// the proof, so bundled-item bytes cannot reach a consumer on the tx-id
// check alone. next returns io.EOF once size bytes have been delivered.
func (r *Retriever) FetchChunkedProved(ctx context.Context, gatewayBase, hash43 string) (rootTxID string, size int64, next func() (verifier.Chunk, error), err error) {
	rootTxID, rootDataOffset, err := r.headForChunkInfo(ctx, gatewayBase, hash43)
	if err != nil {
		return "", 0, nil, err
	}

	startAbs, size, err := r.fetchRootOffset(ctx, gatewayBase, rootTxID)
	if err != nil {
		return "", 0, nil, err
	}

	var (
		written    int64
		offset     = startAbs + rootDataOffset
		lastOffset = int64(-1)
	)

	next = func() (verifier.Chunk, error) {
		if written >= size {
			return verifier.Chunk{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return verifier.Chunk{}, rerrors.ErrCancelled
		default:
		}
		if offset <= lastOffset {
			return verifier.Chunk{}, fmt.Errorf("chunk protocol error: non-ascending offset %d after %d", offset, lastOffset)
		}

		chunk, hdrs, ferr := r.fetchChunk(ctx, gatewayBase, offset)
		if ferr != nil {
			return verifier.Chunk{}, ferr
		}
		if hdrs.txID != rootTxID {
			return verifier.Chunk{}, rerrors.ErrChunkTxIDMismatch
		}

		readable := chunk
		if hdrs.readOffset > 0 && int(hdrs.readOffset) <= len(chunk) {
			readable = chunk[hdrs.readOffset:]
		}
		if remaining := size - written; int64(len(readable)) > remaining {
			readable = readable[:remaining]
		}

		proof, perr := decodeProofPath(hdrs.dataPath)
		if perr != nil {
			return verifier.Chunk{}, rerrors.Wrap(rerrors.KindChunkProofInvalid, "malformed proof path", perr)
		}

		written += int64(len(readable))
		lastOffset = offset
		offset = hdrs.startOffset + int64(len(chunk))

		return verifier.Chunk{Data: readable, Proof: proof}, nil
	}

	return rootTxID, size, next, nil
}

// decodeProofPath decodes the base64 X-Chunk-Data-Path header into the
// ordered list of Merkle sibling nodes a chunk's proof is built from. Each
// node is 33 bytes, a 1-byte left/right flag followed by the 32-byte
// sibling digest, concatenated leaf-to-root. A missing header decodes to a
// nil (empty) proof.
func decodeProofPath(header string) ([]verifier.ProofNode, error) {
	if header == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	if len(raw)%33 != 0 {
		return nil, fmt.Errorf("chunk data path length %d is not a multiple of 33", len(raw))
	}
	nodes := make([]verifier.ProofNode, 0, len(raw)/33)
	for i := 0; i < len(raw); i += 33 {
		var sibling [32]byte
		copy(sibling[:], raw[i+1:i+33])
		nodes = append(nodes, verifier.ProofNode{Sibling: sibling, Left: raw[i] == 1})
	}
	return nodes, nil
}

// headForChunkInfo issues the discovery HEAD and extracts the
// X-Root-Tx-Id / X-Root-Data-Offset headers, failing with
// ChunkApiUnavailable if either is absent.
func (r *Retriever) headForChunkInfo(ctx context.Context, gatewayBase, hash43 string) (rootTxID string, rootDataOffset int64, err error) {
	req, err := newRequest(ctx, http.MethodHead, fmt.Sprintf("%s/%s", gatewayBase, hash43))
	if err != nil {
		return "", 0, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", 0, rerrors.Wrap(rerrors.KindGatewayUnreachable, "head failed", err)
	}
	defer resp.Body.Close()

	rootTxID = resp.Header.Get("X-Root-Tx-Id")
	offsetHeader := resp.Header.Get("X-Root-Data-Offset")
	if rootTxID == "" || offsetHeader == "" {
		return "", 0, rerrors.ErrChunkAPIUnavailable
	}
	rootDataOffset, parseErr := strconv.ParseInt(offsetHeader, 10, 64)
	if parseErr != nil {
		return "", 0, rerrors.ErrChunkAPIUnavailable
	}
	return rootTxID, rootDataOffset, nil
}

// fetchRootOffset GETs /tx/{root}/offset, deriving the absolute start of
// the root transaction from its end offset and size.
func (r *Retriever) fetchRootOffset(ctx context.Context, gatewayBase, rootTxID string) (startAbs, size int64, err error) {
	req, err := newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/tx/%s/offset", gatewayBase, rootTxID))
	if err != nil {
		return 0, 0, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, 0, rerrors.Wrap(rerrors.KindGatewayUnreachable, "offset fetch failed", err)
	}
	defer resp.Body.Close()

	var body offsetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, rerrors.Wrap(rerrors.KindChunkAPIUnavailable, "malformed offset response", err)
	}
	startAbs = body.Offset - body.Size + 1
	return startAbs, body.Size, nil
}

// chunkHeaders are the per-chunk validation headers.
type chunkHeaders struct {
	startOffset int64
	readOffset  int64
	txID        string
	dataPath    string
}

// fetchChunk GETs /chunk/{absoluteOffset}/data.
func (r *Retriever) fetchChunk(ctx context.Context, gatewayBase string, absoluteOffset int64) ([]byte, chunkHeaders, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, ChunkFetchTimeout)
	defer cancel()

	req, err := newRequest(chunkCtx, http.MethodGet, fmt.Sprintf("%s/chunk/%d/data", gatewayBase, absoluteOffset))
	if err != nil {
		return nil, chunkHeaders{}, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, chunkHeaders{}, rerrors.Wrap(rerrors.KindGatewayUnreachable, "chunk fetch failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chunkHeaders{}, rerrors.Wrap(rerrors.KindGatewayUnreachable, "chunk read failed", err)
	}

	hdrs := chunkHeaders{txID: resp.Header.Get("X-Chunk-Tx-Id"), dataPath: resp.Header.Get("X-Chunk-Data-Path")}
	hdrs.startOffset, _ = strconv.ParseInt(resp.Header.Get("X-Chunk-Start-Offset"), 10, 64)
	hdrs.readOffset, _ = strconv.ParseInt(resp.Header.Get("X-Chunk-Read-Offset"), 10, 64)
	return data, hdrs, nil
}
