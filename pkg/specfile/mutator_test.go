package specfile_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/specfile"
)

const sampleSpec = `Name:           kernel-default
Version:        6.18.7
Release:        0
# %define buildid .test
Summary:        The Standard Kernel
Patch0:         series.patch
Patch3:         fix-suspend.patch
Source0:        linux.tar.xz

%prep
%setup -q
%patch0 -p1
%patch3 -p1

%build
make
`

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel-default.spec")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write spec fixture: %v", err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func countLines(content, substr string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func TestMutator_ApplyFile(t *testing.T) {
	path := writeSpec(t, sampleSpec)
	m := specfile.NewMutator(testLogger())

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("failed to apply spec mutation: %v", err)
	}

	content := readFile(t, path)

	// Declaration gets the next number after the highest existing one.
	if countLines(content, "Patch4:        cs35l56-hda-6.18.patch") != 1 {
		t.Errorf("expected one Patch4 declaration, got:\n%s", content)
	}
	if countLines(content, "%patch4 -p1") != 1 {
		t.Errorf("expected one %%patch4 activation, got:\n%s", content)
	}
	if countLines(content, "%define buildid .audio") != 1 {
		t.Errorf("expected one buildid directive, got:\n%s", content)
	}
	if strings.Contains(content, "# %define buildid") {
		t.Error("commented buildid directive should have been replaced")
	}

	// Declaration lands after the highest existing declaration, the
	// activation after the last existing activation.
	declIdx := strings.Index(content, "Patch4:")
	anchorIdx := strings.Index(content, "Patch3:")
	if declIdx < anchorIdx {
		t.Error("new declaration should follow the highest existing declaration")
	}
	actIdx := strings.Index(content, "%patch4")
	lastIdx := strings.Index(content, "%patch3")
	if actIdx < lastIdx {
		t.Error("new activation should follow the last existing activation")
	}
}

func TestMutator_ApplyFileIdempotent(t *testing.T) {
	path := writeSpec(t, sampleSpec)
	m := specfile.NewMutator(testLogger())

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("first application failed: %v", err)
	}
	once := readFile(t, path)

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("second application failed: %v", err)
	}
	twice := readFile(t, path)

	if once != twice {
		t.Error("second application with identical inputs must be a no-op")
	}
	if countLines(twice, "cs35l56-hda-6.18.patch") != 1 {
		t.Error("patch must stay declared exactly once")
	}
	if countLines(twice, "%define buildid .audio") != 1 {
		t.Error("buildid must stay declared exactly once")
	}
}

func TestMutator_WritesPristineBackupOnce(t *testing.T) {
	path := writeSpec(t, sampleSpec)
	m := specfile.NewMutator(testLogger())

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("failed to apply spec mutation: %v", err)
	}

	backup := path + specfile.BackupSuffix
	if readFile(t, backup) != sampleSpec {
		t.Error("backup must hold the pristine spec content")
	}

	// A repeated mutation must never overwrite the pristine copy.
	if err := m.ApplyFile(path, "cs35l56-hda-6.19.patch", ".audio"); err != nil {
		t.Fatalf("failed to apply second mutation: %v", err)
	}
	if readFile(t, backup) != sampleSpec {
		t.Error("backup was overwritten by a later mutation")
	}
}

func TestMutator_MissingDeclarationAnchor(t *testing.T) {
	path := writeSpec(t, "Name: kernel-default\n%prep\n%patch0 -p1\n")
	m := specfile.NewMutator(testLogger())

	err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio")
	if !errors.Is(err, specfile.ErrAnchorNotFound) {
		t.Errorf("expected ErrAnchorNotFound, got %v", err)
	}
}

func TestMutator_MissingActivationAnchor(t *testing.T) {
	path := writeSpec(t, "Name: kernel-default\nPatch0: series.patch\n%prep\n")
	m := specfile.NewMutator(testLogger())

	err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio")
	if !errors.Is(err, specfile.ErrAnchorNotFound) {
		t.Errorf("expected ErrAnchorNotFound, got %v", err)
	}
}

func TestMutator_UpdatesActiveBuildID(t *testing.T) {
	spec := strings.Replace(sampleSpec, "# %define buildid .test", "%define buildid .old", 1)
	path := writeSpec(t, spec)
	m := specfile.NewMutator(testLogger())

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("failed to apply spec mutation: %v", err)
	}

	content := readFile(t, path)
	if countLines(content, "%define buildid .audio") != 1 {
		t.Error("active buildid directive should have been updated")
	}
	if strings.Contains(content, ".old") {
		t.Error("old buildid value should be gone")
	}
}

func TestMutator_PrependsBuildIDWhenAbsent(t *testing.T) {
	spec := strings.Replace(sampleSpec, "# %define buildid .test\n", "", 1)
	path := writeSpec(t, spec)
	m := specfile.NewMutator(testLogger())

	if err := m.ApplyFile(path, "cs35l56-hda-6.18.patch", ".audio"); err != nil {
		t.Fatalf("failed to apply spec mutation: %v", err)
	}

	content := readFile(t, path)
	if !strings.HasPrefix(content, "%define buildid .audio\n") {
		t.Errorf("buildid directive should be prepended, got:\n%s", content)
	}
}

func TestDocument_PreservesTrailingNewline(t *testing.T) {
	path := writeSpec(t, sampleSpec)

	doc, err := specfile.LoadDocument(path)
	if err != nil {
		t.Fatalf("failed to load document: %v", err)
	}
	if err := doc.Save(); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}

	if readFile(t, path) != sampleSpec {
		t.Error("load/save round trip must not alter the file")
	}
}
