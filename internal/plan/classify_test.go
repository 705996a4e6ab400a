package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maestro-run/maestro/internal/state"
)

func TestLoadClassification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	content := `T1:
  owner_kind: coder
  target_group: platform
  criticality: complex
T2:
  owner_kind: ui
  criticality: security-sensitive
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	classes, err := LoadClassification(path)
	if err != nil {
		t.Fatalf("LoadClassification: %v", err)
	}
	if len(classes) != 2 {
		t.Fatalf("entries = %d, want 2", len(classes))
	}
	if classes["T1"].Criticality != state.CriticalityComplex {
		t.Errorf("T1 criticality = %s", classes["T1"].Criticality)
	}
	if classes["T2"].OwnerKind != "ui" {
		t.Errorf("T2 owner kind = %q", classes["T2"].OwnerKind)
	}
}

func TestLoadClassificationMissingFile(t *testing.T) {
	if _, err := LoadClassification(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
