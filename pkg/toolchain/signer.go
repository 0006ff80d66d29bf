package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// ErrKernelImageNotFound indicates no installed kernel image matches
// the built version.
var ErrKernelImageNotFound = errors.New("installed kernel image not found")

// ImageSigner wraps the binary-signing utility (pesign) against the
// configured keystore.
type ImageSigner struct {
	runner      *Runner
	keystoreDir string
	nickname    string
	logger      logger.Logger
}

// NewImageSigner creates an image signer
func NewImageSigner(runner *Runner, keystoreDir, nickname string, log logger.Logger) *ImageSigner {
	return &ImageSigner{
		runner:      runner,
		keystoreDir: keystoreDir,
		nickname:    nickname,
		logger:      log,
	}
}

// FindKernelImage locates the installed image for a kernel version,
// preferring the one carrying the build identifier.
func FindKernelImage(bootDir, version, buildID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(bootDir, "vmlinuz-"+version+"*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: version %s under %s", ErrKernelImageNotFound, version, bootDir)
	}

	sort.Strings(matches)
	for _, m := range matches {
		if buildID != "" && strings.Contains(filepath.Base(m), buildID) {
			return m, nil
		}
	}
	return matches[len(matches)-1], nil
}

// Sign signs the kernel image in place: sign to a sibling temp file,
// then rename over the original so a failed signing never leaves a
// truncated image.
func (s *ImageSigner) Sign(ctx context.Context, imagePath string) error {
	signed := imagePath + ".signed"
	defer os.Remove(signed)

	_, err := s.runner.Run(ctx, "sign", "", "pesign",
		"--sign", "--force",
		"-n", "sql:"+s.keystoreDir,
		"-c", s.nickname,
		"-i", imagePath,
		"-o", signed)
	if err != nil {
		return err
	}

	if err := os.Rename(signed, imagePath); err != nil {
		return fmt.Errorf("failed to replace image with signed copy: %w", err)
	}

	s.logger.Success("Signed kernel image", logger.WithField("image", filepath.Base(imagePath)))
	return nil
}
