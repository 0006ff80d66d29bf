package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// ErrInstallFailed indicates the package manager rejected the built packages
var ErrInstallFailed = errors.New("package installation failed")

// ErrDependencyConflict is the one recognized transient failure class:
// the installed rpm stack cannot read the payload format the fresh
// build tool emitted. A forced upgrade of the packaging stack fixes it.
var ErrDependencyConflict = errors.New("package manager incompatibility")

// Markers of the known rpm payload incompatibility in zypper/rpm output.
var conflictMarkers = []string{
	"unsupported payload",
	"payload compression not supported",
	"nothing provides",
}

// PackageInstaller wraps the system package manager
type PackageInstaller struct {
	runner *Runner
	logger logger.Logger
}

// NewPackageInstaller creates a package installer
func NewPackageInstaller(runner *Runner, log logger.Logger) *PackageInstaller {
	return &PackageInstaller{runner: runner, logger: log}
}

// Install installs the built kernel packages. The locally built
// packages are unsigned from the repository's point of view, so
// signature checks are relaxed for them only.
func (p *PackageInstaller) Install(ctx context.Context, rpms []string) error {
	args := append([]string{
		"--non-interactive", "install", "--allow-unsigned-rpm", "--force",
	}, rpms...)

	out, err := p.runner.Run(ctx, "install", "", "zypper", args...)
	if err != nil {
		if errors.Is(err, ErrToolMissing) {
			return err
		}
		if isDependencyConflict(out) {
			return fmt.Errorf("%w: %v", ErrDependencyConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	return nil
}

// ForceRefreshDependencies is the single automatic remediation for
// ErrDependencyConflict: force-upgrade the packaging stack, then the
// caller retries the install exactly once.
func (p *PackageInstaller) ForceRefreshDependencies(ctx context.Context) error {
	p.logger.Warn("Known package-manager incompatibility detected, force-upgrading packaging stack")

	_, err := p.runner.Run(ctx, "install", "", "zypper",
		"--non-interactive", "update", "--force-resolution",
		"rpm", "libzypp", "zypper")
	if err != nil {
		return fmt.Errorf("dependency remediation failed: %w", err)
	}
	return nil
}

func isDependencyConflict(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range conflictMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
