package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maestro-run/maestro/internal/errors"
)

// DocumentFileName is the default filename for the persisted state document.
const DocumentFileName = "ORCHESTRATION_STATE.json"

// Store persists the Document with crash-consistent atomic writes and
// serializes all mutations through a single update path. Concurrent
// executor invocations may run in parallel, but every status or finding
// mutation they trigger funnels through Update, one at a time.
type Store struct {
	path string

	mu          sync.Mutex
	lastVersion int64
}

// NewStore creates a Store for the document at path. The file need not
// exist yet; create it with Init.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the persisted document.
func (s *Store) Path() string { return s.path }

// Init writes an initial document. Fails with ErrDocumentExists if a
// document is already present.
func (s *Store) Init(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("%w: %s", errors.ErrDocumentExists, s.path)
	}
	if err := s.writeLocked(doc); err != nil {
		return err
	}
	s.lastVersion = doc.Version
	return nil
}

// Load reads the current document. Readers always see a complete
// document: writes go to a temp file that is renamed into place.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Update applies fn to the current document and persists the result
// atomically. The document version is bumped before the write; fn
// returning an error discards the mutation entirely. An fn that leaves
// the document unchanged is a no-op: no version bump, no write. This is
// the only mutation path into persisted state.
func (s *Store) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	before, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}
	if err := fn(doc); err != nil {
		return err
	}
	after, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}
	if bytes.Equal(before, after) {
		return nil
	}

	doc.Version++
	doc.UpdatedAt = time.Now().UTC()
	if err := s.writeLocked(doc); err != nil {
		return err
	}
	s.lastVersion = doc.Version
	return nil
}

// loadLocked reads and decodes the document. Must be called with mu held.
// A version older than one previously observed by this handle means
// another process rewrote the file; that read is rejected as stale.
func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read state document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*Task)
	}

	if doc.Version < s.lastVersion {
		return nil, fmt.Errorf("%w: have v%d, last observed v%d",
			errors.ErrStaleDocument, doc.Version, s.lastVersion)
	}
	s.lastVersion = doc.Version
	return &doc, nil
}

// writeLocked persists the document atomically: marshal, write a temp
// file in the same directory, fsync, then rename over the target. A
// reader at any instant sees the old or the new complete document, never
// a partial write. Must be called with mu held.
func (s *Store) writeLocked(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
