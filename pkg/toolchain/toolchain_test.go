package toolchain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindKernelImage(t *testing.T) {
	bootDir := t.TempDir()
	for _, name := range []string{
		"vmlinuz-6.18.7-1-default",
		"vmlinuz-6.18.7-1.audio-default",
		"vmlinuz-6.17.2-1-default",
	} {
		if err := os.WriteFile(filepath.Join(bootDir, name), []byte("ELF"), 0o644); err != nil {
			t.Fatalf("failed to write image fixture: %v", err)
		}
	}

	image, err := FindKernelImage(bootDir, "6.18.7", ".audio")
	if err != nil {
		t.Fatalf("failed to find kernel image: %v", err)
	}
	if filepath.Base(image) != "vmlinuz-6.18.7-1.audio-default" {
		t.Errorf("expected the build-id image, got %s", image)
	}
}

func TestFindKernelImageWithoutBuildIDMatch(t *testing.T) {
	bootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(bootDir, "vmlinuz-6.18.7-1-default"), []byte("ELF"), 0o644); err != nil {
		t.Fatalf("failed to write image fixture: %v", err)
	}

	image, err := FindKernelImage(bootDir, "6.18.7", ".audio")
	if err != nil {
		t.Fatalf("failed to find kernel image: %v", err)
	}
	if filepath.Base(image) != "vmlinuz-6.18.7-1-default" {
		t.Errorf("expected fallback to the versioned image, got %s", image)
	}
}

func TestFindKernelImageNotFound(t *testing.T) {
	_, err := FindKernelImage(t.TempDir(), "6.18.7", ".audio")
	if !errors.Is(err, ErrKernelImageNotFound) {
		t.Errorf("expected ErrKernelImageNotFound, got %v", err)
	}
}

func TestIsDependencyConflict(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"error: unsupported payload (lzma) in package kernel-default", true},
		{"rpm: payload compression not supported", true},
		{"nothing provides libfoo needed by kernel-default", true},
		{"Installation aborted by user", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isDependencyConflict(tt.output); got != tt.want {
			t.Errorf("isDependencyConflict(%q) = %v, expected %v", tt.output, got, tt.want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := tail("a\nb\nc\nd\n", 2); got != "c\nd" {
		t.Errorf("expected last two lines, got %q", got)
	}
	if got := tail("a\nb", 5); got != "a\nb" {
		t.Errorf("short output must pass through, got %q", got)
	}
}

func TestKernelBuilder_Packages(t *testing.T) {
	workDir := t.TempDir()
	builder := NewKernelBuilder(NewRunner(workDir, nil), workDir, "kernel-default.spec", nil)

	// No output directory yet: nothing built, no error.
	rpms, err := builder.Packages()
	if err != nil || rpms != nil {
		t.Errorf("expected no packages before a build, got %v, %v", rpms, err)
	}

	archDir := filepath.Join(builder.OutputDir(), "x86_64")
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		t.Fatalf("failed to create output dir: %v", err)
	}
	for _, name := range []string{"kernel-default-6.18.7.x86_64.rpm", "build.log"} {
		if err := os.WriteFile(filepath.Join(archDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
	}

	rpms, err = builder.Packages()
	if err != nil {
		t.Fatalf("failed to list packages: %v", err)
	}
	if len(rpms) != 1 || filepath.Ext(rpms[0]) != ".rpm" {
		t.Errorf("expected exactly the rpm file, got %v", rpms)
	}
}
