package toolchain

import (
	"fmt"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/resources"
	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/utils"
)

// Default system destinations for the audio enablement artifacts.
const (
	DefaultFirmwareDest = "/lib/firmware/cirrus"
	DefaultRoutingDest  = "/usr/share/alsa/ucm2"
)

// FirmwareInstaller places the amp firmware and UCM routing configs
// into their system locations. Usable standalone (install-firmware
// subcommand) or as part of the Install phase.
type FirmwareInstaller struct {
	firmwareDest string
	routingDest  string
	logger       logger.Logger
}

// NewFirmwareInstaller creates an installer with the default destinations
func NewFirmwareInstaller(log logger.Logger) *FirmwareInstaller {
	return &FirmwareInstaller{
		firmwareDest: DefaultFirmwareDest,
		routingDest:  DefaultRoutingDest,
		logger:       log,
	}
}

// NewFirmwareInstallerWithDest creates an installer with custom destinations (for testing)
func NewFirmwareInstallerWithDest(firmwareDest, routingDest string, log logger.Logger) *FirmwareInstaller {
	return &FirmwareInstaller{firmwareDest: firmwareDest, routingDest: routingDest, logger: log}
}

// Install copies the firmware blobs and routing configs from the
// verified resource set. Copying is idempotent: existing files are
// overwritten with identical content.
func (f *FirmwareInstaller) Install(set *resources.ResourceSet) error {
	if err := utils.CopyTree(set.FirmwareDir(), f.firmwareDest); err != nil {
		return fmt.Errorf("failed to install firmware: %w", err)
	}
	f.logger.Info("Installed amp firmware",
		logger.WithField("files", len(set.FirmwareFiles)),
		logger.WithField("dest", f.firmwareDest))

	if err := utils.CopyTree(set.RoutingDir(), f.routingDest); err != nil {
		return fmt.Errorf("failed to install routing configs: %w", err)
	}
	f.logger.Info("Installed UCM routing configs",
		logger.WithField("files", len(set.RoutingConfigs)),
		logger.WithField("dest", f.routingDest))

	return nil
}
