// Package validity tracks file content hashes and invalidates the artifacts
// derived from them when they change.
package validity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Hash is a SHA-256 digest of file content, strings, or other hashes.
type Hash [sha256.Size]byte

// String returns the hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a hex encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// noFile stands in for the hash of a prerequisite that does not exist, so
// an absent file and an empty file fold differently.
var noFile = []byte{0, 0}

// separator precedes every element so that ("ab", "c") and ("a", "bc") fold
// to different hashes.
var separator = []byte{0}

// Hasher folds a sequence of elements into one Hash.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher { return &Hasher{h: sha256.New()} }

// NoDependencies is the hash of an empty prerequisite set.
var NoDependencies = NewHasher().Sum()

// WithData folds raw bytes.
func (b *Hasher) WithData(data []byte) *Hasher {
	b.h.Write(separator)
	b.h.Write(data)
	return b
}

// WithString folds UTF-8 text.
func (b *Hasher) WithString(s string) *Hasher {
	b.h.Write(separator)
	_, _ = io.WriteString(b.h, s)
	return b
}

// WithHash folds another hash.
func (b *Hasher) WithHash(h Hash) *Hasher { return b.WithData(h[:]) }

// WithFile folds the content of the file at path.
func (b *Hasher) WithFile(path string) error {
	f, err := os.Open(path) // #nosec G304 -- paths come from the watched tree
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	b.h.Write(separator)
	if _, err := io.Copy(b.h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}

// Sum returns the folded hash. The Hasher may keep accumulating afterwards.
func (b *Hasher) Sum() Hash {
	var h Hash
	copy(h[:], b.h.Sum(nil))
	return h
}

// HashFile returns the content hash of a single file.
func HashFile(path string) (Hash, error) {
	b := NewHasher()
	if err := b.WithFile(path); err != nil {
		return Hash{}, err
	}
	return b.Sum(), nil
}
