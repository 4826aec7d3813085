package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names a content fingerprint
type Algorithm string

const (
	// MD5 is the default: 128-bit, matches fingerprints produced by md5sum
	MD5 Algorithm = "md5"
	// SHA256 for collision resistance
	SHA256 Algorithm = "sha256"
	// XXHash is a fast non-cryptographic 64-bit hash
	XXHash Algorithm = "xxhash"
)

// DefaultAlgorithm is used when none is configured
const DefaultAlgorithm = MD5

// ParseAlgorithm maps a config value to an Algorithm; empty means the default
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	algo := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if !IsSupported(algo) {
		return "", fmt.Errorf("unsupported algorithm: %s", s)
	}
	return algo, nil
}

// Options configures the checksum calculator
type Options struct {
	// MaxSize rejects content larger than this many bytes (0 = unlimited).
	// A rejected file has no fingerprint and is left out of the snapshot.
	MaxSize int64

	// BufferSize for streaming reads
	BufferSize int
}

// DefaultOptions fingerprints the whole content regardless of size
func DefaultOptions() Options {
	return Options{
		MaxSize:    0,
		BufferSize: 32 * 1024,
	}
}

// Calculator computes content fingerprints
type Calculator interface {
	// Calculate hashes everything readable from reader.
	// Cancellation is checked between buffer reads.
	Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error)
}

// DefaultCalculator streams content through the hasher
type DefaultCalculator struct {
	opts Options
}

// NewCalculator creates a new calculator with the given options
func NewCalculator(opts Options) *DefaultCalculator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &DefaultCalculator{opts: opts}
}

// NewDefaultCalculator creates a calculator with default options
func NewDefaultCalculator() *DefaultCalculator {
	return NewCalculator(DefaultOptions())
}

// Calculate implements the Calculator interface
func (c *DefaultCalculator) Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	src := reader
	if c.opts.MaxSize > 0 {
		src = io.LimitReader(reader, c.opts.MaxSize+1)
	}

	n, err := io.CopyBuffer(h, &ctxReader{ctx: ctx, r: src}, make([]byte, c.opts.BufferSize))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read error: %w", err)
	}
	if c.opts.MaxSize > 0 && n > c.opts.MaxSize {
		return "", fmt.Errorf("file size exceeds maximum (%d bytes)", c.opts.MaxSize)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	}
	return nil, fmt.Errorf("unsupported algorithm: %s", algo)
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256, XXHash:
		return true
	}
	return false
}

// ctxReader fails reads once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
