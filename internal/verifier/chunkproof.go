package verifier

import (
	"crypto/sha256"
	"io"

	rerrors "github.com/wudi/arverify/internal/errors"
	"github.com/wudi/arverify/internal/wire"
)

// ProofNode is one step of a chunk's Merkle path to its root transaction:
// the sibling hash at this level and which side it sits on. The exact path
// encoding is gateway-defined; this module only requires that each chunk
// arrives with such a path.
type ProofNode struct {
	Sibling [32]byte
	Left    bool // true if Sibling is the left child, i.e. this node's hash goes on the right
}

// Chunk is one chunk of a bundled item, as delivered by the chunked
// retriever, plus its proof path to the root transaction.
type Chunk struct {
	Data  []byte
	Proof []ProofNode
}

// VerifyChunkProof recomputes the Merkle path for chunk and reports whether
// it resolves to root.
func VerifyChunkProof(chunk Chunk, root wire.Hash43) bool {
	h := sha256.Sum256(chunk.Data)
	for _, node := range chunk.Proof {
		var combined [64]byte
		if node.Left {
			copy(combined[:32], node.Sibling[:])
			copy(combined[32:], h[:])
		} else {
			copy(combined[:32], h[:])
			copy(combined[32:], node.Sibling[:])
		}
		h = sha256.Sum256(combined[:])
	}
	return wire.EncodeHash43(h) == root
}

// ChunkStream verifies a sequence of proved chunks against a single root,
// surfacing only bytes from chunks that passed proof verification. An
// unverified chunk aborts the stream with ChunkProofInvalid and no further
// bytes, from that chunk or any later one, are exposed.
type ChunkStream struct {
	Reader io.Reader

	done   chan struct{}
	result Result
}

// Done blocks until every chunk has been processed (or verification
// aborted) and returns the final verdict.
func (c *ChunkStream) Done() Result {
	<-c.done
	return c.result
}

// VerifyChunks consumes chunks from next() until it returns io.EOF,
// verifying each one's proof against root before writing its bytes to the
// stream the caller reads from.
func VerifyChunks(root wire.Hash43, next func() (Chunk, error)) *ChunkStream {
	pr, pw := io.Pipe()
	cs := &ChunkStream{Reader: pr, done: make(chan struct{})}

	go func() {
		defer close(cs.done)

		for {
			chunk, err := next()
			if err == io.EOF {
				cs.result = Result{Verified: true}
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				cs.result = Result{Verified: false, Reason: "RetrievalError"}
				return
			}

			if !VerifyChunkProof(chunk, root) {
				pw.CloseWithError(rerrors.ErrChunkProofInvalid)
				cs.result = Result{Verified: false, Reason: string(rerrors.KindChunkProofInvalid)}
				return
			}

			if _, err := pw.Write(chunk.Data); err != nil {
				cs.result = Result{Verified: false, Reason: "ConsumerClosed"}
				return
			}
		}
	}()

	return cs
}
