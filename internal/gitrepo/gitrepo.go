// Package gitrepo wraps the git command line for mirror maintenance,
// tag enumeration and checkouts.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrGitMissing indicates the git binary is not installed
var ErrGitMissing = errors.New("git executable not found")

// ErrDiverged indicates the local mirror cannot be fast-forwarded
var ErrDiverged = errors.New("local mirror diverged from upstream")

// Runner executes a git subcommand in a directory and returns combined
// output. Injected so repositories are testable without git installed.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// ExecRunner runs git via os/exec
func ExecRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrGitMissing
		}
		return string(out), fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// Repo is a local clone of an upstream repository
type Repo struct {
	URL string
	Dir string
	run Runner
}

// New creates a repo handle with the default exec runner
func New(url, dir string) *Repo {
	return NewWithRunner(url, dir, ExecRunner)
}

// NewWithRunner creates a repo handle with a custom runner (for testing)
func NewWithRunner(url, dir string, run Runner) *Repo {
	return &Repo{URL: url, Dir: dir, run: run}
}

// Exists reports whether the clone is present on disk
func (r *Repo) Exists() bool {
	_, err := os.Stat(filepath.Join(r.Dir, ".git"))
	return err == nil
}

// Clone creates the local clone
func (r *Repo) Clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.Dir), 0o755); err != nil {
		return fmt.Errorf("failed to create clone parent directory: %w", err)
	}
	_, err := r.run(ctx, "", "clone", r.URL, r.Dir)
	return err
}

// Fetch updates remote refs and tags
func (r *Repo) Fetch(ctx context.Context) error {
	_, err := r.run(ctx, r.Dir, "fetch", "--tags", "--prune", "origin")
	return err
}

// FastForward advances the checked-out branch to its upstream.
// Divergence is detected with merge-base rather than by parsing the
// merge output, which is locale dependent. A diverged mirror returns
// ErrDiverged so the caller can discard and re-clone instead of
// merging.
func (r *Repo) FastForward(ctx context.Context) error {
	if _, err := r.run(ctx, r.Dir, "merge-base", "--is-ancestor", "HEAD", "@{u}"); err != nil {
		if errors.Is(err, ErrGitMissing) {
			return err
		}
		return ErrDiverged
	}
	_, err := r.run(ctx, r.Dir, "merge", "--ff-only", "@{u}")
	return err
}

// Remove deletes the local clone
func (r *Repo) Remove() error {
	return os.RemoveAll(r.Dir)
}

// Tags lists all tag names
func (r *Repo) Tags(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, r.Dir, "tag", "--list")
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tags = append(tags, line)
		}
	}
	return tags, nil
}

// ResolveTag returns the commit hash a tag points at
func (r *Repo) ResolveTag(ctx context.Context, tag string) (string, error) {
	out, err := r.run(ctx, r.Dir, "rev-list", "-n", "1", tag)
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)
	if commit == "" {
		return "", fmt.Errorf("tag %q does not resolve to a commit", tag)
	}
	return commit, nil
}

// Checkout force-checks-out a ref and drops untracked files, so a
// previously mutated work tree returns to a pristine state.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, r.Dir, "checkout", "--force", ref); err != nil {
		return err
	}
	_, err := r.run(ctx, r.Dir, "clean", "-fd")
	return err
}

// HeadCommit returns the commit currently checked out
func (r *Repo) HeadCommit(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
