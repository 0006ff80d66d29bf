// Package state persists workflow state across process restarts and reboots
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

// StateVersion is the current serialization version. Loaders ignore
// unknown fields, so additive changes don't need a bump.
const StateVersion = 1

const stateFileName = "workflow.json"

// Repository owns the single persisted workflow state record.
// Absence of the state file means there is no resumable state.
type Repository struct {
	stateDir string
	logger   logger.Logger
}

// NewRepository creates a state repository rooted in the work directory
func NewRepository(workDir string, log logger.Logger) *Repository {
	return &Repository{
		stateDir: filepath.Join(workDir, "state"),
		logger:   log,
	}
}

// Path returns the state file location
func (r *Repository) Path() string {
	return filepath.Join(r.stateDir, stateFileName)
}

// NewState creates a fresh state record for a new run
func (r *Repository) NewState() *types.WorkflowState {
	return &types.WorkflowState{
		Version:   StateVersion,
		RunID:     uuid.NewString(),
		Phase:     types.PhaseSetup,
		Timestamp: time.Now(),
	}
}

// Load reads the persisted state. It returns (nil, nil) when no state
// file exists, and an error for unreadable or structurally invalid state.
func (r *Repository) Load() (*types.WorkflowState, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st types.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", r.Path(), err)
	}

	if st.Version > StateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", st.Version, StateVersion)
	}
	if !st.Phase.Valid() {
		return nil, fmt.Errorf("state file contains unknown phase %q", st.Phase)
	}

	return &st, nil
}

// Save persists the state atomically. Every side effect of the completed
// phase must already be durable before Save is called.
func (r *Repository) Save(st *types.WorkflowState) error {
	if err := os.MkdirAll(r.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	st.Version = StateVersion
	st.Timestamp = time.Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically
	tempFile := r.Path() + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, r.Path()); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	if r.logger != nil {
		r.logger.Debug("Persisted workflow state",
			logger.WithField("phase", st.Phase),
			logger.WithField("kernelVersion", st.KernelVersion))
	}
	return nil
}

// Clear removes the persisted state. Called on successful completion
// or explicit abort.
func (r *Repository) Clear() error {
	if err := os.Remove(r.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
