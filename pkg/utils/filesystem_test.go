package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/utils"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	if utils.FileExists(path) {
		t.Error("missing file reported as existing")
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if !utils.FileExists(path) {
		t.Error("existing file not detected")
	}
	if utils.FileExists(dir) {
		t.Error("a directory is not a regular file")
	}
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()

	if !utils.DirExists(dir) {
		t.Error("existing directory not detected")
	}
	if utils.DirExists(filepath.Join(dir, "nope")) {
		t.Error("missing directory reported as existing")
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "deep", "dst.bin")

	if err := os.WriteFile(src, []byte("firmware"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := utils.CopyFile(src, dst, 0o600); err != nil {
		t.Fatalf("failed to copy file: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "firmware" {
		t.Errorf("copy content mismatch: %q, %v", data, err)
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestCopyTree(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "out")

	files := []string{"HiFi.conf", "Lenovo-16IAX10H/HiFi.conf", "Lenovo-16IAX10H/init.conf"}
	for _, rel := range files {
		path := filepath.Join(srcDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
	}

	if err := utils.CopyTree(srcDir, dstDir); err != nil {
		t.Fatalf("failed to copy tree: %v", err)
	}

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(dstDir, rel))
		if err != nil || string(data) != rel {
			t.Errorf("copied file %s mismatch: %q, %v", rel, data, err)
		}
	}
}
