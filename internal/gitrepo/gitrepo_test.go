package gitrepo_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/internal/gitrepo"
)

func TestRepo_Exists(t *testing.T) {
	dir := t.TempDir()
	repo := gitrepo.New("https://example.invalid/r.git", dir)

	if repo.Exists() {
		t.Error("a directory without .git is not a clone")
	}

	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create .git: %v", err)
	}
	if !repo.Exists() {
		t.Error("expected clone to be detected")
	}
}

func TestRepo_Tags(t *testing.T) {
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		return "v6.18.7\n\n  v6.18.3  \nv6.17.2\n", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	tags, err := repo.Tags(context.Background())
	if err != nil {
		t.Fatalf("failed to list tags: %v", err)
	}
	want := []string{"v6.18.7", "v6.18.3", "v6.17.2"}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("expected %v, got %v", want, tags)
	}
}

func TestRepo_FastForwardChecksAncestryFirst(t *testing.T) {
	var calls [][]string
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		calls = append(calls, args)
		return "", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	if err := repo.FastForward(context.Background()); err != nil {
		t.Fatalf("failed to fast-forward: %v", err)
	}
	if len(calls) != 2 || calls[0][0] != "merge-base" || calls[1][0] != "merge" {
		t.Errorf("expected an ancestry check followed by the merge, got %v", calls)
	}
}

func TestRepo_FastForwardDetectsDivergence(t *testing.T) {
	var calls [][]string
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		calls = append(calls, args)
		if args[0] == "merge-base" {
			return "", errors.New("exit status 1")
		}
		return "", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	err := repo.FastForward(context.Background())
	if !errors.Is(err, gitrepo.ErrDiverged) {
		t.Errorf("expected ErrDiverged, got %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("expected no merge after divergence, got %v", calls)
	}
}

func TestRepo_FastForwardPassesThroughMergeErrors(t *testing.T) {
	failure := errors.New("local changes would be overwritten")
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		if args[0] == "merge" {
			return "", failure
		}
		return "", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	err := repo.FastForward(context.Background())
	if !errors.Is(err, failure) {
		t.Errorf("expected the underlying error, got %v", err)
	}
}

func TestRepo_FastForwardReportsMissingGit(t *testing.T) {
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		return "", gitrepo.ErrGitMissing
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	err := repo.FastForward(context.Background())
	if !errors.Is(err, gitrepo.ErrGitMissing) {
		t.Errorf("expected ErrGitMissing, got %v", err)
	}
}

func TestRepo_ResolveTag(t *testing.T) {
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		return "abc123\n", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	commit, err := repo.ResolveTag(context.Background(), "v6.18.7")
	if err != nil {
		t.Fatalf("failed to resolve tag: %v", err)
	}
	if commit != "abc123" {
		t.Errorf("expected trimmed commit hash, got %q", commit)
	}
}

func TestRepo_ResolveTagEmptyOutput(t *testing.T) {
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		return "\n", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	if _, err := repo.ResolveTag(context.Background(), "v0.0.0"); err == nil {
		t.Error("expected error for a tag that resolves to nothing")
	}
}

func TestRepo_CheckoutCleansWorkTree(t *testing.T) {
	var calls [][]string
	run := func(ctx context.Context, dir string, args ...string) (string, error) {
		calls = append(calls, args)
		return "", nil
	}
	repo := gitrepo.NewWithRunner("https://example.invalid/r.git", t.TempDir(), run)

	if err := repo.Checkout(context.Background(), "v6.18.7"); err != nil {
		t.Fatalf("failed to checkout: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected checkout and clean, got %v", calls)
	}
	if calls[0][0] != "checkout" || calls[1][0] != "clean" {
		t.Errorf("expected a forced checkout followed by a clean, got %v", calls)
	}
}
