package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// ErrBuildFailed indicates the external build tool failed or produced
// no packages.
var ErrBuildFailed = errors.New("kernel build failed")

// KernelBuilder invokes the package build tool on the mutated spec
type KernelBuilder struct {
	runner    *Runner
	sourceDir string
	specName  string
	outputDir string
	logger    logger.Logger
}

// NewKernelBuilder creates a builder writing packages under the work directory
func NewKernelBuilder(runner *Runner, sourceDir, specName string, log logger.Logger) *KernelBuilder {
	return &KernelBuilder{
		runner:    runner,
		sourceDir: sourceDir,
		specName:  specName,
		outputDir: filepath.Join(runner.WorkDir, "rpms"),
		logger:    log,
	}
}

// OutputDir is where built packages land
func (b *KernelBuilder) OutputDir() string {
	return b.outputDir
}

// Packages lists the built packages, if any
func (b *KernelBuilder) Packages() ([]string, error) {
	var rpms []string
	err := filepath.WalkDir(b.outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".rpm" {
			rpms = append(rpms, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return rpms, nil
}

// Build runs the build tool, blocking for as long as it takes. A
// watcher on the output directory reports packages as they appear so
// the operator sees progress during the multi-hour compile.
func (b *KernelBuilder) Build(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	g, gctx := errgroup.WithContext(watchCtx)
	g.Go(func() error {
		b.watchProgress(gctx)
		return nil
	})

	var buildErr error
	g.Go(func() error {
		defer stopWatch()
		_, buildErr = b.runner.Run(ctx, "build", b.sourceDir, "rpmbuild",
			"-bb",
			"--define", "_sourcedir "+b.sourceDir,
			"--define", "_builddir "+filepath.Join(b.runner.WorkDir, "build"),
			"--define", "_rpmdir "+b.outputDir,
			filepath.Join(b.sourceDir, b.specName))
		return nil
	})
	g.Wait()

	if buildErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, buildErr)
	}

	rpms, err := b.Packages()
	if err != nil {
		return nil, err
	}
	if len(rpms) == 0 {
		return nil, fmt.Errorf("%w: build succeeded but produced no packages", ErrBuildFailed)
	}
	return rpms, nil
}

// watchProgress logs each package as the build tool writes it. Best
// effort: a watch failure never fails the build.
func (b *KernelBuilder) watchProgress(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Debug("Progress watcher unavailable", logger.WithField("error", err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(b.outputDir); err != nil {
		return
	}
	// rpmbuild creates per-arch subdirectories under the output dir.
	entries, _ := os.ReadDir(b.outputDir)
	for _, e := range entries {
		if e.IsDir() {
			watcher.Add(filepath.Join(b.outputDir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				watcher.Add(event.Name)
				continue
			}
			if strings.HasSuffix(event.Name, ".rpm") {
				b.logger.Info("Package written", logger.WithField("rpm", filepath.Base(event.Name)))
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
