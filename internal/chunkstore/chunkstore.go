// Package chunkstore holds in-flight upload bytes on disk. Each session owns
// one directory containing its chunk part files and a CBOR manifest that
// lets the expiry sweeper recognize orphaned directories without the
// database.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"clipstitch/internal/fileutil"
	"clipstitch/internal/integrity"
)

const manifestName = "session.cbor"

// ErrNotFound reports a missing session directory or chunk.
var ErrNotFound = errors.New("chunk storage not found")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("chunkstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("chunkstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Manifest is the session metadata record stored next to the chunks.
type Manifest struct {
	SessionID      string    `cbor:"session_id"`
	Owner          string    `cbor:"owner"`
	ChallengeID    string    `cbor:"challenge_id"`
	StatementIndex int       `cbor:"statement_index"`
	TotalSize      int64     `cbor:"total_size"`
	ChunkSize      int64     `cbor:"chunk_size"`
	ChunkCount     int       `cbor:"chunk_count"`
	HashAlgorithm  string    `cbor:"hash_algorithm"`
	CreatedAt      time.Time `cbor:"created_at"`
	ExpiresAt      time.Time `cbor:"expires_at"`
}

// Store manages session directories below root.
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory holding all session directories.
func (s *Store) Root() string { return s.root }

// Dir returns the directory for one session.
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// ChunkPath returns the part file for chunk n.
func (s *Store) ChunkPath(sessionID string, n int) string {
	return filepath.Join(s.Dir(sessionID), fmt.Sprintf("chunk-%06d.part", n))
}

// Create makes the session directory and writes its manifest.
func (s *Store) Create(m Manifest) error {
	if err := validateID(m.SessionID); err != nil {
		return err
	}
	dir := s.Dir(m.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := encMode.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the session manifest.
func (s *Store) ReadManifest(sessionID string) (Manifest, error) {
	var m Manifest
	if err := validateID(sessionID); err != nil {
		return m, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(sessionID), manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, ErrNotFound
		}
		return m, err
	}
	if err := decMode.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// WriteChunk stores chunk n atomically, replacing any previous bytes.
func (s *Store) WriteChunk(sessionID string, n int, data []byte) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	if _, err := os.Stat(s.Dir(sessionID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return fileutil.WriteFileAtomic(s.ChunkPath(sessionID, n), data, 0o644)
}

// RemoveChunk deletes chunk n if present.
func (s *Store) RemoveChunk(sessionID string, n int) error {
	err := os.Remove(s.ChunkPath(sessionID, n))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// HashChunk recomputes the digest and size of a stored chunk.
func (s *Store) HashChunk(sessionID string, n int, algorithm string) (string, int64, error) {
	f, err := os.Open(s.ChunkPath(sessionID, n))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, ErrNotFound
		}
		return "", 0, err
	}
	defer f.Close()
	return integrity.SumReader(algorithm, f)
}

// Assemble concatenates chunks 0..count-1 in order into dst and returns the
// whole-file digest and size. dst is removed on failure.
func (s *Store) Assemble(ctx context.Context, sessionID string, count int, dst, algorithm string) (string, int64, error) {
	hasher, err := integrity.New(algorithm)
	if err != nil {
		return "", 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create assembly target: %w", err)
	}
	fail := func(err error) (string, int64, error) {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", 0, err
	}

	writer := io.MultiWriter(out, hasher)
	var total int64
	for n := 0; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		written, err := appendFile(writer, s.ChunkPath(sessionID, n))
		if err != nil {
			return fail(fmt.Errorf("append chunk %d: %w", n, err))
		}
		total += written
	}
	if err := out.Sync(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", 0, err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), total, nil
}

// Remove deletes the session directory. Missing directories are not an error.
func (s *Store) Remove(sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	return os.RemoveAll(s.Dir(sessionID))
}

// List returns the session IDs that currently have a directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Usage returns the bytes held by one session's chunks.
func (s *Store) Usage(sessionID string) (int64, error) {
	entries, err := os.ReadDir(s.Dir(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}
