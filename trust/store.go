// Package trust maintains the sealed allow-list of plugin artifacts and
// decides whether a given file may be loaded.
//
// The store is a set of entries keyed by content digest, persisted as a
// single authenticated blob. It is never written unsealed. A store that
// cannot be opened behaves as an empty store: nothing is trusted.
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/orbisys/warden/crypto"
	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/security/hasher"
)

// Entry pins one plugin artifact: the content digest identifies the exact
// bytes, the declared version is what the release signature covers, and the
// signature binds the two together.
type Entry struct {
	ContentHash     string    `json:"content_hash"`
	DeclaredVersion string    `json:"declared_version"`
	Signature       string    `json:"signature"`
	Note            string    `json:"note,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

// storeFile is the plaintext layout inside the sealed blob.
type storeFile struct {
	Format  int     `json:"format"`
	Entries []Entry `json:"entries"`
}

const storeFormat = 1

// Store is the in-memory view of the sealed trust store. All mutations go
// through Add/Remove and become durable only on Save.
type Store struct {
	mu         sync.RWMutex
	path       string
	passphrase string
	entries    map[string]Entry
}

// Load opens the sealed store at path. A missing file yields a valid empty
// store. A file that exists but cannot be opened (wrong passphrase, corrupt
// blob) also yields an empty store, together with an ErrSealed so the
// caller can surface the failure. In both cases nothing is trusted.
func Load(path, passphrase string) (*Store, error) {
	s := &Store{
		path:       path,
		passphrase: passphrase,
		entries:    make(map[string]Entry),
	}

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("%w: read %s: %v", ecode.ErrSealed, path, err)
	}

	plaintext, err := crypto.Open(blob, passphrase)
	if err != nil {
		return s, fmt.Errorf("%w: %s: %v", ecode.ErrSealed, path, err)
	}

	var file storeFile
	if err := json.Unmarshal(plaintext, &file); err != nil {
		return s, fmt.Errorf("%w: %s: decode: %v", ecode.ErrSealed, path, err)
	}
	if file.Format != storeFormat {
		return s, fmt.Errorf("%w: %s: unknown store format %d", ecode.ErrSealed, path, file.Format)
	}

	for _, e := range file.Entries {
		s.entries[e.ContentHash] = e
	}
	return s, nil
}

// Path returns the file the store seals to.
func (s *Store) Path() string { return s.path }

// Len returns the number of pinned artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Find returns the entry for a content digest.
func (s *Store) Find(contentHash string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[contentHash]
	return e, ok
}

// Entries returns a copy of all entries, ordered by content digest.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out
}

// Add pins an artifact. An existing entry with the same content digest is
// replaced. The change is in-memory until Save.
func (s *Store) Add(e Entry) error {
	if !hasher.Valid(e.ContentHash) {
		return fmt.Errorf("trust: invalid content hash %q", e.ContentHash)
	}
	if e.DeclaredVersion == "" {
		return fmt.Errorf("trust: entry for %s has no declared version", shortHash(e.ContentHash))
	}
	if e.Signature == "" {
		return fmt.Errorf("trust: entry for %s has no signature", shortHash(e.ContentHash))
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ContentHash] = e
	return nil
}

// Remove unpins an artifact. It reports whether an entry was present.
func (s *Store) Remove(contentHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[contentHash]
	delete(s.entries, contentHash)
	return ok
}

// Save reseals the store to its path atomically: the blob is written to a
// temp file in the same directory, synced, then renamed over the target.
// Readers of the old file never observe a partial write.
func (s *Store) Save() error {
	s.mu.RLock()
	file := storeFile{Format: storeFormat, Entries: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		file.Entries = append(file.Entries, e)
	}
	s.mu.RUnlock()
	sort.Slice(file.Entries, func(i, j int) bool {
		return file.Entries[i].ContentHash < file.Entries[j].ContentHash
	})

	plaintext, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("trust: encode store: %w", err)
	}
	blob, err := crypto.Seal(plaintext, s.passphrase)
	if err != nil {
		return fmt.Errorf("trust: seal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("trust: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".trust-*.sealed")
	if err != nil {
		return fmt.Errorf("trust: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: sync %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trust: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("trust: rename %s: %w", s.path, err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
