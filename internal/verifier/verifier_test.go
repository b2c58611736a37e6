package verifier

import (
	"bytes"
	"crypto/sha256"
	"io"
	"strings"
	"testing"

	"github.com/wudi/arverify/internal/wire"
)

func hashOf(data []byte) wire.Hash43 {
	d := sha256.Sum256(data)
	return wire.EncodeHash43(d)
}

func TestVerifyHash_Matching(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 3*1024*1024) // force multiple progress events
	expected := hashOf(payload)

	hs := VerifyHash(bytes.NewReader(payload), expected, int64(len(payload)))

	var progressEvents int
	done := make(chan struct{})
	go func() {
		for range hs.Progress {
			progressEvents++
		}
		close(done)
	}()

	got, err := io.ReadAll(hs.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	<-done

	if !bytes.Equal(got, payload) {
		t.Error("stream bytes do not match input")
	}
	result := hs.Done()
	if !result.Verified {
		t.Errorf("expected verified=true, got reason %q", result.Reason)
	}
	if progressEvents < 1 {
		t.Error("expected at least one progress event for a 3 MB stream")
	}
}

func TestVerifyHash_Mismatch(t *testing.T) {
	payload := []byte("the real content")
	wrongHash := hashOf([]byte("different content"))

	hs := VerifyHash(bytes.NewReader(payload), wrongHash, int64(len(payload)))
	go func() {
		for range hs.Progress {
		}
	}()
	io.ReadAll(hs.Reader)

	result := hs.Done()
	if result.Verified {
		t.Error("expected verified=false on hash mismatch")
	}
	if result.Reason != "hash_mismatch" {
		t.Errorf("reason = %q, want hash_mismatch", result.Reason)
	}
}

func TestVerifyHash_NoBinding(t *testing.T) {
	payload := []byte("content with no requested hash")
	hs := VerifyHash(bytes.NewReader(payload), "", int64(len(payload)))
	go func() {
		for range hs.Progress {
		}
	}()
	io.ReadAll(hs.Reader)

	result := hs.Done()
	if result.Verified || result.Reason != "no_binding" {
		t.Errorf("got %+v, want verified=false reason=no_binding", result)
	}
}

// buildProvedChunks assembles chunks whose proofs left-fold to a single
// root: chunk i's path combines the running hash of all prior leaves on
// its left, then folds forward through every later leaf.
func buildProvedChunks(parts []string) ([]Chunk, wire.Hash43) {
	var leaves [][32]byte
	for _, p := range parts {
		leaves = append(leaves, sha256.Sum256([]byte(p)))
	}
	root := leaves[0]
	for i := 1; i < len(leaves); i++ {
		var combined [64]byte
		copy(combined[:32], root[:])
		copy(combined[32:], leaves[i][:])
		root = sha256.Sum256(combined[:])
	}
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{Data: []byte(p), Proof: proofForLeaf(leaves, i)}
	}
	return chunks, wire.EncodeHash43(root)
}

// proofForLeaf builds the path from leaves[i] to the left-fold root: the
// running hash of all prior leaves on the left, then each later leaf on
// the right.
func proofForLeaf(leaves [][32]byte, i int) []ProofNode {
	var proof []ProofNode
	if i > 0 {
		running := leaves[0]
		for j := 1; j < i; j++ {
			var combined [64]byte
			copy(combined[:32], running[:])
			copy(combined[32:], leaves[j][:])
			running = sha256.Sum256(combined[:])
		}
		proof = append(proof, ProofNode{Sibling: running, Left: true})
	}
	for j := i + 1; j < len(leaves); j++ {
		proof = append(proof, ProofNode{Sibling: leaves[j], Left: false})
	}
	return proof
}

func TestVerifyChunks_MultiChunkAllProved(t *testing.T) {
	chunks, root := buildProvedChunks([]string{"first-chunk|", "second-chunk|", "third-chunk"})

	idx := 0
	next := func() (Chunk, error) {
		if idx >= len(chunks) {
			return Chunk{}, io.EOF
		}
		c := chunks[idx]
		idx++
		return c, nil
	}

	cs := VerifyChunks(root, next)
	data, err := io.ReadAll(cs.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "first-chunk|second-chunk|third-chunk" {
		t.Errorf("assembled = %q", data)
	}
	if result := cs.Done(); !result.Verified {
		t.Errorf("expected all-proved chunks to verify, got %+v", result)
	}
}

func TestVerifyChunkProof_SingleLeaf(t *testing.T) {
	data := []byte("single chunk item")
	root := hashOf(data)
	ok := VerifyChunkProof(Chunk{Data: data}, root)
	if !ok {
		t.Error("expected single-leaf chunk proof to verify against its own hash")
	}
}

func TestVerifyChunks_AbortsOnInvalidProof(t *testing.T) {
	chunks := []Chunk{
		{Data: []byte("good-chunk"), Proof: nil},
		{Data: []byte("bad-chunk"), Proof: []ProofNode{{Sibling: [32]byte{1, 2, 3}, Left: false}}},
	}
	root := hashOf([]byte("good-chunk")) // valid only for chunk 0 alone

	idx := 0
	next := func() (Chunk, error) {
		if idx >= len(chunks) {
			return Chunk{}, io.EOF
		}
		c := chunks[idx]
		idx++
		return c, nil
	}

	cs := VerifyChunks(root, next)
	data, _ := io.ReadAll(cs.Reader)
	result := cs.Done()

	if result.Verified {
		t.Error("expected verification to fail on the second, unproved chunk")
	}
	if !strings.Contains(string(data), "good-chunk") {
		t.Error("expected the first, correctly-proved chunk's bytes to be surfaced")
	}
	if strings.Contains(string(data), "bad-chunk") {
		t.Error("bytes from an unverified chunk must never be surfaced")
	}
}
