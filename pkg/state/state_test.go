package state_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/state"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

func newRepository(t *testing.T) *state.Repository {
	t.Helper()
	return state.NewRepository(t.TempDir(), logger.CreateLoggerWithOutput("error", io.Discard))
}

func TestRepository_LoadWithoutState(t *testing.T) {
	repo := newRepository(t)

	st, err := repo.Load()
	if err != nil {
		t.Fatalf("load without state file must not fail: %v", err)
	}
	if st != nil {
		t.Error("expected nil state when no file exists")
	}
}

func TestRepository_SaveLoadRoundTrip(t *testing.T) {
	repo := newRepository(t)

	st := repo.NewState()
	if st.RunID == "" {
		t.Error("new state must carry a run id")
	}
	if st.Phase != types.PhaseSetup {
		t.Errorf("new state must start at setup, got %s", st.Phase)
	}

	st.Phase = types.PhaseBuild
	st.KernelVersion = "6.18.7"
	st.EnrollmentPending = true

	if err := repo.Save(st); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := repo.Load()
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded.RunID != st.RunID {
		t.Errorf("run id changed across the round trip: %s vs %s", loaded.RunID, st.RunID)
	}
	if loaded.Phase != types.PhaseBuild {
		t.Errorf("expected phase build, got %s", loaded.Phase)
	}
	if loaded.KernelVersion != "6.18.7" {
		t.Errorf("expected kernel version 6.18.7, got %s", loaded.KernelVersion)
	}
	if !loaded.EnrollmentPending {
		t.Error("enrollment flag must survive persistence")
	}
	if loaded.Timestamp.IsZero() {
		t.Error("saved state must carry a timestamp")
	}
}

func TestRepository_SaveLeavesNoTempFile(t *testing.T) {
	repo := newRepository(t)

	st := repo.NewState()
	if err := repo.Save(st); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	if _, err := os.Stat(repo.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file must be gone after an atomic save")
	}
}

func TestRepository_LoadRejectsCorruptState(t *testing.T) {
	repo := newRepository(t)

	if err := os.MkdirAll(filepath.Dir(repo.Path()), 0o755); err != nil {
		t.Fatalf("failed to create state directory: %v", err)
	}
	if err := os.WriteFile(repo.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt state: %v", err)
	}

	if _, err := repo.Load(); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestRepository_LoadRejectsUnknownPhase(t *testing.T) {
	repo := newRepository(t)

	if err := os.MkdirAll(filepath.Dir(repo.Path()), 0o755); err != nil {
		t.Fatalf("failed to create state directory: %v", err)
	}
	data := `{"version":1,"runId":"r","phase":"teleport","timestamp":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(repo.Path(), []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write state: %v", err)
	}

	if _, err := repo.Load(); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestRepository_LoadRejectsNewerVersion(t *testing.T) {
	repo := newRepository(t)

	if err := os.MkdirAll(filepath.Dir(repo.Path()), 0o755); err != nil {
		t.Fatalf("failed to create state directory: %v", err)
	}
	data := `{"version":99,"runId":"r","phase":"setup","timestamp":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(repo.Path(), []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write state: %v", err)
	}

	if _, err := repo.Load(); err == nil {
		t.Error("expected error for state written by a newer version")
	}
}

func TestRepository_Clear(t *testing.T) {
	repo := newRepository(t)

	if err := repo.Save(repo.NewState()); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if err := repo.Clear(); err != nil {
		t.Fatalf("failed to clear state: %v", err)
	}

	st, err := repo.Load()
	if err != nil || st != nil {
		t.Errorf("expected no state after clear, got %v, %v", st, err)
	}

	// Clearing twice is fine.
	if err := repo.Clear(); err != nil {
		t.Errorf("clearing absent state must not fail: %v", err)
	}
}
