// Package kconfig toggles the managed kernel config flags across every
// target-architecture config file, guaranteeing exactly one declaration
// per flag per file.
package kconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

// ErrConflictingOption indicates a managed flag appears more than once
// or in contradictory forms after mutation. The build tool treats
// duplicates as a fatal ambiguity, so this is fatal here too.
var ErrConflictingOption = errors.New("duplicate or conflicting config option")

// Mutator rewrites architecture config files
type Mutator struct {
	flags     []string
	flagState string
	logger    logger.Logger
}

// NewMutator creates a config matrix mutator
func NewMutator(cfg types.WorkflowConfig, log logger.Logger) *Mutator {
	return &Mutator{
		flags:     cfg.ManagedFlags,
		flagState: cfg.FlagState,
		logger:    log,
	}
}

// FilePath returns the config file for an architecture under the
// config matrix root.
func FilePath(configRoot, arch string) string {
	return filepath.Join(configRoot, arch, "default")
}

// Apply rewrites every architecture config: all prior mentions of a
// managed flag are removed, then an enabled block is appended for
// architectures in the enable set and an explicit disabled block for
// the rest. Running it again with the same flag set is a no-op in
// effect: the result is identical.
func (m *Mutator) Apply(configRoot string, architectures []string, enabled func(arch string) bool) ([]types.ConfigMatrixEntry, error) {
	var entries []types.ConfigMatrixEntry

	for _, arch := range architectures {
		path := FilePath(configRoot, arch)
		archEnabled := enabled(arch)

		if err := m.applyFile(path, archEnabled); err != nil {
			return nil, fmt.Errorf("architecture %s: %w", arch, err)
		}

		st := types.OptionDisabled
		if archEnabled {
			st = types.OptionEnabled
		}
		for _, flag := range m.flags {
			entries = append(entries, types.ConfigMatrixEntry{
				Architecture: arch,
				OptionName:   flag,
				State:        st,
			})
		}
	}

	if err := m.Verify(configRoot, architectures); err != nil {
		return nil, err
	}

	m.logger.Info("Updated config matrix",
		logger.WithField("architectures", len(architectures)),
		logger.WithField("flags", len(m.flags)))
	return entries, nil
}

func (m *Mutator) applyFile(path string, enabled bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	managed := make(map[string]bool, len(m.flags))
	for _, flag := range m.flags {
		managed[flag] = true
	}

	// Strip every prior line mentioning a managed flag, in either form.
	var kept []string
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		if name, _, ok := parseOptionLine(line); ok && managed[name] {
			continue
		}
		kept = append(kept, line)
	}

	for _, flag := range m.flags {
		if enabled {
			kept = append(kept, fmt.Sprintf("%s=%s", flag, m.flagState))
		} else {
			kept = append(kept, fmt.Sprintf("# %s is not set", flag))
		}
	}

	return os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o644)
}

// Verify checks each managed flag appears exactly once per file in
// exactly one form.
func (m *Mutator) Verify(configRoot string, architectures []string) error {
	for _, arch := range architectures {
		path := FilePath(configRoot, arch)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file for verification: %w", err)
		}

		counts := make(map[string]int, len(m.flags))
		for _, line := range strings.Split(string(data), "\n") {
			if name, _, ok := parseOptionLine(line); ok {
				counts[name]++
			}
		}

		for _, flag := range m.flags {
			if n := counts[flag]; n != 1 {
				return fmt.Errorf("%w: %s appears %d times in %s", ErrConflictingOption, flag, n, path)
			}
		}
	}
	return nil
}

// parseOptionLine recognizes the two declaration forms:
// "OPTION=value" and "# OPTION is not set".
func parseOptionLine(line string) (name string, enabled bool, ok bool) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "#") {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if strings.HasPrefix(rest, "CONFIG_") && strings.HasSuffix(rest, " is not set") {
			return strings.TrimSuffix(rest, " is not set"), false, true
		}
		return "", false, false
	}

	if strings.HasPrefix(trimmed, "CONFIG_") {
		if idx := strings.Index(trimmed, "="); idx > 0 {
			return trimmed[:idx], true, true
		}
	}
	return "", false, false
}
