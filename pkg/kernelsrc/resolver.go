// Package kernelsrc resolves kernel source versions and pairs them with
// compatible patch artifacts.
package kernelsrc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/sebetc4/16iax10h-linux-sound-saga/internal/gitrepo"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

var (
	// ErrNoVersionsFound indicates the source history holds no version tags
	ErrNoVersionsFound = errors.New("no kernel versions found in source history")

	// ErrNoPatchAvailable indicates no patch exists for the chosen
	// version's major.minor series.
	ErrNoPatchAvailable = errors.New("no compatible patch available")
)

// patchVersionPattern extracts the trailing version from a patch file
// name, e.g. "cs35l56-hda-6.18.patch" -> "6.18".
var patchVersionPattern = regexp.MustCompile(`-(\d+(?:\.\d+){0,2})\.patch$`)

// Resolver enumerates kernel versions and pairs them with patches
type Resolver struct {
	repo      *gitrepo.Repo
	tagPrefix string
	perSeries int
	logger    logger.Logger
}

// NewResolver creates a resolver over the kernel source mirror
func NewResolver(cfg types.WorkflowConfig, log logger.Logger) *Resolver {
	return &Resolver{
		repo:      gitrepo.New(cfg.KernelRepoURL, filepath.Join(cfg.WorkDir, "kernel-source")),
		tagPrefix: cfg.TagPrefix,
		perSeries: cfg.VersionsPerSeries,
		logger:    log,
	}
}

// NewResolverWithRepo creates a resolver over an existing repo handle (for testing)
func NewResolverWithRepo(repo *gitrepo.Repo, tagPrefix string, perSeries int, log logger.Logger) *Resolver {
	return &Resolver{repo: repo, tagPrefix: tagPrefix, perSeries: perSeries, logger: log}
}

// SourceDir is the kernel checkout location
func (r *Resolver) SourceDir() string {
	return r.repo.Dir
}

// SourceExists reports whether the kernel checkout is present
func (r *Resolver) SourceExists() bool {
	return r.repo.Exists()
}

// EnsureSource clones or refreshes the kernel source mirror
func (r *Resolver) EnsureSource(ctx context.Context) error {
	if !r.repo.Exists() {
		r.logger.Info("Cloning kernel source (this can take a while)",
			logger.WithField("url", r.repo.URL))
		return r.repo.Clone(ctx)
	}
	return r.repo.Fetch(ctx)
}

// Candidates enumerates distinct version tags, groups them by
// major.minor and keeps the most recent perSeries full versions per
// group, bounding an unbounded history. Result is sorted descending.
func (r *Resolver) Candidates(ctx context.Context) ([]string, error) {
	tags, err := r.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	series := make(map[string][]*semver.Version)
	for _, tag := range tags {
		if !strings.HasPrefix(tag, r.tagPrefix) {
			continue
		}
		v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, r.tagPrefix))
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if seen[v.String()] {
			continue
		}
		seen[v.String()] = true
		key := fmt.Sprintf("%d.%d", v.Major(), v.Minor())
		series[key] = append(series[key], v)
	}

	if len(series) == 0 {
		return nil, ErrNoVersionsFound
	}

	var selected []*semver.Version
	for _, group := range series {
		sort.Sort(sort.Reverse(semver.Collection(group)))
		n := r.perSeries
		if n > len(group) {
			n = len(group)
		}
		selected = append(selected, group[:n]...)
	}
	sort.Sort(sort.Reverse(semver.Collection(selected)))

	versions := make([]string, len(selected))
	for i, v := range selected {
		versions[i] = v.String()
	}
	return versions, nil
}

// Pair finds the most specific compatible patch for the chosen version:
// exact full-version match, else the latest patch within the same
// major.minor series. A patch from an older series is never compatible
// with a newer kernel, so there is no cross-series fallback.
func (r *Resolver) Pair(ctx context.Context, version string, patchPaths []string) (types.VersionPatchPairing, error) {
	var zero types.VersionPatchPairing

	want, err := semver.StrictNewVersion(version)
	if err != nil {
		return zero, fmt.Errorf("invalid kernel version %q: %w", version, err)
	}

	patchPath := matchPatch(want, patchPaths)
	if patchPath == "" {
		return zero, fmt.Errorf("%w: kernel %s", ErrNoPatchAvailable, version)
	}

	commit, err := r.repo.ResolveTag(ctx, r.tagPrefix+version)
	if err != nil {
		return zero, err
	}

	r.logger.Info("Paired kernel version with patch",
		logger.WithField("version", version),
		logger.WithField("patch", filepath.Base(patchPath)))

	return types.VersionPatchPairing{
		KernelVersion: version,
		SourceCommit:  commit,
		PatchPath:     patchPath,
	}, nil
}

// Checkout places the source tree at the tag for the given version
func (r *Resolver) Checkout(ctx context.Context, version string) error {
	return r.repo.Checkout(ctx, r.tagPrefix+version)
}

// HeadCommit returns the commit currently checked out
func (r *Resolver) HeadCommit(ctx context.Context) (string, error) {
	return r.repo.HeadCommit(ctx)
}

func matchPatch(want *semver.Version, patchPaths []string) string {
	full := want.String()
	series := fmt.Sprintf("%d.%d", want.Major(), want.Minor())

	best := ""
	var bestVersion *semver.Version
	for _, path := range patchPaths {
		m := patchVersionPattern.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			continue
		}
		pv := m[1]
		if pv == full {
			return path // exact match wins immediately
		}
		// Only patches from the requested major.minor series are
		// candidates. The series-level patch ("6.18") counts as 6.18.0
		// under version ordering.
		if pv != series && !strings.HasPrefix(pv, series+".") {
			continue
		}
		v, err := semver.NewVersion(pv)
		if err != nil {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = path, v
		}
	}
	return best
}
