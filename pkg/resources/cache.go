// Package resources maintains the local mirror of the artifact bundle
// (kernel patches, amp firmware, UCM routing configs).
package resources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sebetc4/16iax10h-linux-sound-saga/internal/gitrepo"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/types"
)

var (
	// ErrResourceUnavailable indicates the artifact repository could not
	// be fetched or cloned.
	ErrResourceUnavailable = errors.New("resource repository unavailable")

	// ErrIncompleteResourceBundle indicates a required artifact category
	// is empty after a successful fetch.
	ErrIncompleteResourceBundle = errors.New("incomplete resource bundle")
)

// Category subdirectories inside the artifact repository.
const (
	patchesDir  = "patches"
	firmwareDir = "firmware"
	routingDir  = "ucm2"
)

// ResourceSet locates the verified artifact categories on disk
type ResourceSet struct {
	Root           string
	Patches        []string
	FirmwareFiles  []string
	RoutingConfigs []string
}

// PatchDir returns the directory holding the kernel patches
func (s *ResourceSet) PatchDir() string {
	return filepath.Join(s.Root, patchesDir)
}

// FirmwareDir returns the directory holding the amp firmware blobs
func (s *ResourceSet) FirmwareDir() string {
	return filepath.Join(s.Root, firmwareDir)
}

// RoutingDir returns the directory holding the UCM routing configs
func (s *ResourceSet) RoutingDir() string {
	return filepath.Join(s.Root, routingDir)
}

// Cache fetches and verifies the artifact bundle idempotently
type Cache struct {
	repo   *gitrepo.Repo
	logger logger.Logger
}

// NewCache creates a resource cache rooted under the work directory
func NewCache(cfg types.WorkflowConfig, log logger.Logger) *Cache {
	return &Cache{
		repo:   gitrepo.New(cfg.ResourceRepoURL, filepath.Join(cfg.WorkDir, "resources")),
		logger: log,
	}
}

// NewCacheWithRepo creates a cache over an existing repo handle (for testing)
func NewCacheWithRepo(repo *gitrepo.Repo, log logger.Logger) *Cache {
	return &Cache{repo: repo, logger: log}
}

// Ensure updates the local mirror and verifies every artifact category.
// On divergence the mirror is discarded and re-cloned rather than merged.
func (c *Cache) Ensure(ctx context.Context) (*ResourceSet, error) {
	if !c.repo.Exists() {
		c.logger.Info("Cloning artifact repository", logger.WithField("url", c.repo.URL))
		if err := c.repo.Clone(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
		}
	} else {
		if err := c.update(ctx); err != nil {
			return nil, err
		}
	}

	return c.Verify()
}

func (c *Cache) update(ctx context.Context) error {
	if err := c.repo.Fetch(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	err := c.repo.FastForward(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gitrepo.ErrDiverged) {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	// Reproducibility over best-effort merge: throw the mirror away.
	c.logger.Warn("Artifact mirror diverged from upstream, re-cloning")
	if err := c.repo.Remove(); err != nil {
		return fmt.Errorf("%w: failed to discard diverged mirror: %v", ErrResourceUnavailable, err)
	}
	if err := c.repo.Clone(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	return nil
}

// Verify checks each required artifact category is non-empty without
// touching the network. Used by Ensure and by resumption re-verification.
func (c *Cache) Verify() (*ResourceSet, error) {
	set := &ResourceSet{Root: c.repo.Dir}

	var missing []string

	patches, err := listFiles(set.PatchDir(), ".patch")
	if err != nil || len(patches) == 0 {
		missing = append(missing, patchesDir)
	}
	set.Patches = patches

	firmware, err := listFiles(set.FirmwareDir(), "")
	if err != nil || len(firmware) == 0 {
		missing = append(missing, firmwareDir)
	}
	set.FirmwareFiles = firmware

	routing, err := listFiles(set.RoutingDir(), "")
	if err != nil || len(routing) == 0 {
		missing = append(missing, routingDir)
	}
	set.RoutingConfigs = routing

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: empty categories: %s", ErrIncompleteResourceBundle, strings.Join(missing, ", "))
	}

	c.logger.Debug("Verified artifact bundle",
		logger.WithField("patches", len(set.Patches)),
		logger.WithField("firmware", len(set.FirmwareFiles)),
		logger.WithField("routing", len(set.RoutingConfigs)))

	return set, nil
}

// listFiles returns sorted regular files under dir, recursing one
// level into subdirectories (UCM configs are grouped per card).
func listFiles(dir, ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext != "" && filepath.Ext(path) != ext {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
