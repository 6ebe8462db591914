// Package store is a content-addressed store for saved .lpc containers:
// blobs keyed by their SHA-256 digest with a CBOR index, so an embedding
// can cache compiled units and detect corrupt artifacts by re-hashing.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// cborEncMode uses canonical encoding so the index file is deterministic
// for identical contents.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

const indexFile = "index.cbor"

var (
	// ErrNotFound reports a digest with no stored blob.
	ErrNotFound = errors.New("container not in store")

	// ErrDigestMismatch reports a stored blob whose bytes no longer hash
	// to their key.
	ErrDigestMismatch = errors.New("stored container fails digest check")
)

// Entry is the index record for one stored container.
type Entry struct {
	Digest  [32]byte  `cbor:"1,keyasint"`
	Size    int64     `cbor:"2,keyasint"`
	Name    string    `cbor:"3,keyasint,omitempty"` // advisory label, e.g. unit name
	AddedAt time.Time `cbor:"4,keyasint"`
}

// index is the CBOR-serialized shape of the store metadata.
type index struct {
	ID      uuid.UUID `cbor:"1,keyasint"`
	Entries []Entry   `cbor:"2,keyasint"`
}

// Store is a directory of digest-named container blobs plus an index.
type Store struct {
	dir string

	mu      sync.RWMutex
	id      uuid.UUID
	entries map[[32]byte]Entry
}

// Open opens the store rooted at dir, creating it (with a fresh identity)
// if it does not exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	s := &Store{
		dir:     dir,
		entries: make(map[[32]byte]Entry),
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.id = uuid.New()
		if err := s.flushIndexLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("store: read index: %w", err)
	default:
		var idx index
		if err := cbor.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("store: decode index: %w", err)
		}
		s.id = idx.ID
		for _, e := range idx.Entries {
			s.entries[e.Digest] = e
		}
	}
	return s, nil
}

// ID returns the store's identity, assigned when the store was created.
func (s *Store) ID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Put stores a container image under its content digest and returns the
// digest. Storing identical bytes twice is a no-op.
func (s *Store) Put(data []byte, name string) ([32]byte, error) {
	digest := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[digest]; ok {
		return digest, nil
	}
	if err := os.WriteFile(s.blobPath(digest), data, 0o644); err != nil {
		return digest, fmt.Errorf("store: write blob: %w", err)
	}
	s.entries[digest] = Entry{
		Digest:  digest,
		Size:    int64(len(data)),
		Name:    name,
		AddedAt: time.Now().UTC(),
	}
	if err := s.flushIndexLocked(); err != nil {
		return digest, err
	}
	return digest, nil
}

// Get returns the container image stored under digest.
func (s *Store) Get(digest [32]byte) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.entries[digest]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hex.EncodeToString(digest[:8]))
	}
	data, err := os.ReadFile(s.blobPath(digest))
	if err != nil {
		return nil, fmt.Errorf("store: read blob: %w", err)
	}
	return data, nil
}

// Has reports whether a container with the given digest is stored.
func (s *Store) Has(digest [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[digest]
	return ok
}

// Verify re-hashes the stored blob for digest and fails if the bytes have
// been corrupted since Put.
func (s *Store) Verify(digest [32]byte) error {
	data, err := s.Get(digest)
	if err != nil {
		return err
	}
	if sha256.Sum256(data) != digest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, hex.EncodeToString(digest[:8]))
	}
	return nil
}

// Entries returns a snapshot of the index records.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Store) blobPath(digest [32]byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(digest[:])+".lpc")
}

func (s *Store) flushIndexLocked() error {
	idx := index{ID: s.id, Entries: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		idx.Entries = append(idx.Entries, e)
	}
	// Sorted by digest so identical contents serialize identically.
	sort.Slice(idx.Entries, func(i, j int) bool {
		return bytes.Compare(idx.Entries[i].Digest[:], idx.Entries[j].Digest[:]) < 0
	})
	data, err := cborEncMode.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("store: encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("store: write index: %w", err)
	}
	return nil
}
