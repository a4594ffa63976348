package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// ChunkSize is the read size used when streaming file content.
const ChunkSize = 64 * 1024

// Algorithm names accepted by NewHasher.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher computes content checksums. The digest depends only on the bytes
// read, never on file metadata, so it is stable across renames.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// NewHasher returns a Hasher for the named algorithm. An empty name selects SHA256.
func NewHasher(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("unknown checksum algorithm: %s", algorithm)
	}
}

// Algorithm returns the name of the hash in use.
func (h *Hasher) Algorithm() string { return h.algorithm }

// Sum reads r to EOF in ChunkSize pieces and returns the lowercase hex digest
// and the number of bytes read.
func (h *Hasher) Sum(r io.Reader) (string, int64, error) {
	d := h.newHash()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(d, onlyReader{r}, buf)
	if err != nil {
		return "", n, fmt.Errorf("reading content: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), n, nil
}

// SumBytes hashes an in-memory buffer.
func (h *Hasher) SumBytes(b []byte) string {
	d := h.newHash()
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil))
}

// File opens and hashes a file on a separate goroutine. If ctx is cancelled
// first, File returns ctx.Err() and the reader is closed once the hashing
// goroutine observes the failed read.
func (h *Hasher) File(ctx context.Context, open func() (io.ReadCloser, error)) (string, int64, error) {
	type result struct {
		sum string
		n   int64
		err error
	}

	rc, err := open()
	if err != nil {
		return "", 0, fmt.Errorf("opening file: %w", err)
	}

	done := make(chan result, 1)
	go func() {
		defer rc.Close()
		sum, n, err := h.Sum(ctxReader{ctx: ctx, r: rc})
		done <- result{sum, n, err}
	}()

	select {
	case res := <-done:
		return res.sum, res.n, res.err
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// onlyReader hides WriterTo so CopyBuffer honours the chunk size.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// ctxReader stops reading once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
