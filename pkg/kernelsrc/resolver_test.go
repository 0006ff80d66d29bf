package kernelsrc_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/sebetc4/16iax10h-linux-sound-saga/internal/gitrepo"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/kernelsrc"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// fakeGit answers the git subcommands the resolver issues.
func fakeGit(tagOutput string) gitrepo.Runner {
	return func(ctx context.Context, dir string, args ...string) (string, error) {
		switch args[0] {
		case "tag":
			return tagOutput, nil
		case "rev-list":
			return "abc123def456\n", nil
		case "rev-parse":
			return "abc123def456\n", nil
		}
		return "", nil
	}
}

func newResolver(t *testing.T, tagOutput string, perSeries int) *kernelsrc.Resolver {
	t.Helper()
	repo := gitrepo.NewWithRunner("https://example.invalid/kernel.git", t.TempDir(), fakeGit(tagOutput))
	return kernelsrc.NewResolverWithRepo(repo, "v", perSeries,
		logger.CreateLoggerWithOutput("error", io.Discard))
}

func TestResolver_Candidates(t *testing.T) {
	tags := "v6.18.7\nv6.18.3\nv6.18.1\nv6.18.0\nv6.17.2\nv6.19.0-rc1\nrolling-head\n"
	r := newResolver(t, tags, 3)

	got, err := r.Candidates(context.Background())
	if err != nil {
		t.Fatalf("failed to enumerate candidates: %v", err)
	}

	// Three most recent per series, pre-releases and non-version tags
	// excluded, sorted descending overall.
	want := []string{"6.18.7", "6.18.3", "6.18.1", "6.17.2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestResolver_CandidatesDeduplicates(t *testing.T) {
	r := newResolver(t, "v6.18.7\nv6.18.7\nv6.18.7\n", 3)

	got, err := r.Candidates(context.Background())
	if err != nil {
		t.Fatalf("failed to enumerate candidates: %v", err)
	}
	if len(got) != 1 || got[0] != "6.18.7" {
		t.Errorf("expected single deduplicated version, got %v", got)
	}
}

func TestResolver_CandidatesNoVersions(t *testing.T) {
	r := newResolver(t, "rolling-head\nrelease-notes\n", 3)

	_, err := r.Candidates(context.Background())
	if !errors.Is(err, kernelsrc.ErrNoVersionsFound) {
		t.Errorf("expected ErrNoVersionsFound, got %v", err)
	}
}

func TestResolver_PairExactMatch(t *testing.T) {
	r := newResolver(t, "", 3)
	patches := []string{
		"/bundle/patches/cs35l56-hda-6.18.patch",
		"/bundle/patches/cs35l56-hda-6.18.7.patch",
		"/bundle/patches/cs35l56-hda-6.17.patch",
	}

	pairing, err := r.Pair(context.Background(), "6.18.7", patches)
	if err != nil {
		t.Fatalf("failed to pair version: %v", err)
	}
	if pairing.PatchPath != "/bundle/patches/cs35l56-hda-6.18.7.patch" {
		t.Errorf("expected exact-version patch, got %s", pairing.PatchPath)
	}
	if pairing.SourceCommit != "abc123def456" {
		t.Errorf("expected resolved tag commit, got %s", pairing.SourceCommit)
	}
}

func TestResolver_PairSeriesFallback(t *testing.T) {
	r := newResolver(t, "", 3)
	patches := []string{
		"/bundle/patches/cs35l56-hda-6.17.patch",
		"/bundle/patches/cs35l56-hda-6.18.patch",
	}

	// No 6.18.3 patch exists; the 6.18 series patch applies.
	pairing, err := r.Pair(context.Background(), "6.18.3", patches)
	if err != nil {
		t.Fatalf("failed to pair version: %v", err)
	}
	if pairing.PatchPath != "/bundle/patches/cs35l56-hda-6.18.patch" {
		t.Errorf("expected series patch, got %s", pairing.PatchPath)
	}
}

func TestResolver_PairSeriesPicksLatest(t *testing.T) {
	r := newResolver(t, "", 3)
	patches := []string{
		"/bundle/patches/cs35l56-hda-6.18.1.patch",
		"/bundle/patches/cs35l56-hda-6.18.3.patch",
		"/bundle/patches/cs35l56-hda-6.17.patch",
	}

	// No exact 6.18.7 patch exists; the latest 6.18-series patch wins.
	pairing, err := r.Pair(context.Background(), "6.18.7", patches)
	if err != nil {
		t.Fatalf("failed to pair version: %v", err)
	}
	if pairing.PatchPath != "/bundle/patches/cs35l56-hda-6.18.3.patch" {
		t.Errorf("expected latest series patch, got %s", pairing.PatchPath)
	}
}

func TestResolver_PairRejectsOlderSeries(t *testing.T) {
	r := newResolver(t, "", 3)
	patches := []string{
		"/bundle/patches/cs35l56-hda-6.17.patch",
	}

	// A 6.17 patch never pairs with a 6.19 kernel.
	_, err := r.Pair(context.Background(), "6.19.0", patches)
	if !errors.Is(err, kernelsrc.ErrNoPatchAvailable) {
		t.Errorf("expected ErrNoPatchAvailable, got %v", err)
	}
}

func TestResolver_PairNoPatchAvailable(t *testing.T) {
	r := newResolver(t, "", 3)
	patches := []string{
		"/bundle/patches/cs35l56-hda-5.15.patch",
		"/bundle/patches/README.md",
	}

	_, err := r.Pair(context.Background(), "6.19.0", patches)
	if !errors.Is(err, kernelsrc.ErrNoPatchAvailable) {
		t.Errorf("expected ErrNoPatchAvailable, got %v", err)
	}
}

func TestResolver_PairRejectsInvalidVersion(t *testing.T) {
	r := newResolver(t, "", 3)

	_, err := r.Pair(context.Background(), "not-a-version", nil)
	if err == nil {
		t.Error("expected error for invalid version string")
	}
}
