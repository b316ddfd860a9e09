// Package integrity computes and compares content hashes for uploaded chunks
// and assembled files. SHA-256 is the default; BLAKE3 is available for
// clients that prefer the faster hash.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Supported reports whether algorithm names a known hash.
func Supported(algorithm string) bool {
	switch algorithm {
	case SHA256, BLAKE3:
		return true
	default:
		return false
	}
}

// New returns a streaming hasher for algorithm.
func New(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Sum hashes data and returns the lowercase hex digest.
func Sum(algorithm string, data []byte) (string, error) {
	switch algorithm {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// SumReader hashes everything read from r.
func SumReader(algorithm string, r io.Reader) (string, int64, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumFile hashes the file at path.
func SumFile(algorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	digest, _, err := SumReader(algorithm, f)
	return digest, err
}

// Normalize canonicalizes a client-declared digest: surrounding space is
// trimmed, an optional "<algorithm>:" prefix is checked against algorithm
// and removed, and hex is lowercased. The digest must decode to the
// algorithm's length.
func Normalize(algorithm, declared string) (string, error) {
	value := strings.TrimSpace(declared)
	if prefix, rest, ok := strings.Cut(value, ":"); ok {
		if !strings.EqualFold(prefix, algorithm) {
			return "", fmt.Errorf("digest prefix %q does not match session algorithm %q", prefix, algorithm)
		}
		value = rest
	}
	value = strings.ToLower(value)
	raw, err := hex.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("digest is not hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("digest has %d bytes, want 32", len(raw))
	}
	return value, nil
}

// Equal compares two normalized hex digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
