package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maestro-run/maestro/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), DocumentFileName))
}

func TestStoreInitAndLoad(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument()

	if err := store.Init(doc); err != nil {
		t.Fatalf("Init: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionName != "test-session" {
		t.Errorf("SessionName = %q", loaded.SessionName)
	}
	if len(loaded.Tasks) != 3 {
		t.Errorf("tasks = %d, want 3", len(loaded.Tasks))
	}
	if loaded.Version != 1 {
		t.Errorf("Version = %d, want 1", loaded.Version)
	}
}

func TestStoreInitRefusesOverwrite(t *testing.T) {
	store := newTestStore(t)
	if err := store.Init(newTestDocument()); err != nil {
		t.Fatal(err)
	}
	err := store.Init(newTestDocument())
	if !errors.Is(err, errors.ErrDocumentExists) {
		t.Errorf("want ErrDocumentExists, got %v", err)
	}
}

func TestUpdateBumpsVersionAndPersists(t *testing.T) {
	store := newTestStore(t)
	if err := store.Init(newTestDocument()); err != nil {
		t.Fatal(err)
	}

	err := store.Update(func(doc *Document) error {
		return doc.Transition("t1", StatusInProgress, "")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 2 {
		t.Errorf("Version = %d, want 2", loaded.Version)
	}
	if loaded.Tasks["t1"].Status != StatusInProgress {
		t.Errorf("t1 status = %s, want in_progress", loaded.Tasks["t1"].Status)
	}
}

func TestUpdateWithoutChangesKeepsVersion(t *testing.T) {
	store := newTestStore(t)
	if err := store.Init(newTestDocument()); err != nil {
		t.Fatal(err)
	}

	// A mutation function that changes nothing must not bump the
	// version: the orchestration loop reads an unchanged version as
	// stagnation.
	err := store.Update(func(doc *Document) error { return nil })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 1 {
		t.Errorf("Version = %d after no-op update, want 1", loaded.Version)
	}
}

func TestUpdateErrorDiscardsMutation(t *testing.T) {
	store := newTestStore(t)
	if err := store.Init(newTestDocument()); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("boom")
	err := store.Update(func(doc *Document) error {
		doc.Tasks["t1"].Status = StatusCompleted
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update error = %v, want boom", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Tasks["t1"].Status != StatusNotStarted {
		t.Error("failed update must not persist its mutation")
	}
	if loaded.Version != 1 {
		t.Errorf("Version = %d, want 1", loaded.Version)
	}
}

// Writes go to a temp file renamed into place, so no partially written
// document should ever be left behind.
func TestWriteLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	if err := store.Init(newTestDocument()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Update(func(doc *Document) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want 1", len(entries))
	}
}

func TestLoadRejectsStaleDocument(t *testing.T) {
	store := newTestStore(t)
	doc := newTestDocument()
	doc.Version = 7
	if err := store.Init(doc); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}

	// Simulate another process rewriting the file with an older version.
	older := newTestDocument()
	older.Version = 3
	other := NewStore(store.Path())
	if err := os.Remove(store.Path()); err != nil {
		t.Fatal(err)
	}
	if err := other.Init(older); err != nil {
		t.Fatal(err)
	}

	_, err := store.Load()
	if !errors.Is(err, errors.ErrStaleDocument) {
		t.Errorf("want ErrStaleDocument, got %v", err)
	}
}
