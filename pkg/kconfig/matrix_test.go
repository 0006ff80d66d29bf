package kconfig_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/kconfig"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

var testFlags = []string{
	"CONFIG_SND_HDA_SCODEC_CS35L56_I2C",
	"CONFIG_SND_SOC_CS35L56_SDW",
}

const baselineConfig = `CONFIG_SND=m
# CONFIG_SND_HDA_SCODEC_CS35L56_I2C is not set
CONFIG_SND_HDA_INTEL=m
CONFIG_SND_SOC_CS35L56_SDW=n
`

func newMatrixFixture(t *testing.T, architectures []string) string {
	t.Helper()
	root := t.TempDir()
	for _, arch := range architectures {
		path := kconfig.FilePath(root, arch)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(baselineConfig), 0o644); err != nil {
			t.Fatalf("failed to write config fixture: %v", err)
		}
	}
	return root
}

func newMutator(t *testing.T) *kconfig.Mutator {
	t.Helper()
	cfg := types.WorkflowConfig{ManagedFlags: testFlags, FlagState: "m"}
	return kconfig.NewMutator(cfg, logger.CreateLoggerWithOutput("error", io.Discard))
}

func TestMutator_Apply(t *testing.T) {
	architectures := []string{"x86_64", "arm64", "ppc64le"}
	root := newMatrixFixture(t, architectures)
	m := newMutator(t)

	entries, err := m.Apply(root, architectures, func(arch string) bool {
		return arch == "x86_64"
	})
	if err != nil {
		t.Fatalf("failed to apply config matrix: %v", err)
	}

	if len(entries) != len(architectures)*len(testFlags) {
		t.Errorf("expected %d entries, got %d", len(architectures)*len(testFlags), len(entries))
	}

	for _, arch := range architectures {
		data, err := os.ReadFile(kconfig.FilePath(root, arch))
		if err != nil {
			t.Fatalf("failed to read config for %s: %v", arch, err)
		}
		content := string(data)

		// Unmanaged options survive untouched.
		if !strings.Contains(content, "CONFIG_SND_HDA_INTEL=m") {
			t.Errorf("%s: unmanaged option was dropped", arch)
		}

		for _, flag := range testFlags {
			enabled := strings.Contains(content, flag+"=m")
			disabled := strings.Contains(content, "# "+flag+" is not set")

			if arch == "x86_64" && !enabled {
				t.Errorf("%s: expected %s enabled", arch, flag)
			}
			if arch != "x86_64" && !disabled {
				t.Errorf("%s: expected %s explicitly disabled", arch, flag)
			}
			if enabled && disabled {
				t.Errorf("%s: %s declared in both forms", arch, flag)
			}
		}
	}
}

func TestMutator_ApplyIsIdempotent(t *testing.T) {
	architectures := []string{"x86_64", "arm64"}
	root := newMatrixFixture(t, architectures)
	m := newMutator(t)
	enabled := func(arch string) bool { return arch == "x86_64" }

	if _, err := m.Apply(root, architectures, enabled); err != nil {
		t.Fatalf("first application failed: %v", err)
	}
	first, _ := os.ReadFile(kconfig.FilePath(root, "x86_64"))

	for i := 0; i < 3; i++ {
		if _, err := m.Apply(root, architectures, enabled); err != nil {
			t.Fatalf("application %d failed: %v", i+2, err)
		}
	}
	last, _ := os.ReadFile(kconfig.FilePath(root, "x86_64"))

	if string(first) != string(last) {
		t.Errorf("repeated application changed the file:\nfirst:\n%s\nlast:\n%s", first, last)
	}
	if err := m.Verify(root, architectures); err != nil {
		t.Errorf("verification failed after repeated application: %v", err)
	}
}

func TestMutator_VerifyDetectsDuplicates(t *testing.T) {
	architectures := []string{"x86_64"}
	root := newMatrixFixture(t, architectures)
	m := newMutator(t)

	if _, err := m.Apply(root, architectures, func(string) bool { return true }); err != nil {
		t.Fatalf("failed to apply config matrix: %v", err)
	}

	// Simulate a conflicting manual edit.
	path := kconfig.FilePath(root, "x86_64")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open config: %v", err)
	}
	f.WriteString("# CONFIG_SND_SOC_CS35L56_SDW is not set\n")
	f.Close()

	err = m.Verify(root, architectures)
	if !errors.Is(err, kconfig.ErrConflictingOption) {
		t.Errorf("expected ErrConflictingOption, got %v", err)
	}
}

func TestMutator_ApplyMissingConfigFile(t *testing.T) {
	m := newMutator(t)

	_, err := m.Apply(t.TempDir(), []string{"x86_64"}, func(string) bool { return true })
	if err == nil {
		t.Error("expected error for missing architecture config file")
	}
}
