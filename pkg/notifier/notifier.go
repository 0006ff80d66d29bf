// Package notifier surfaces long-phase outcomes as desktop notifications,
// so the operator can walk away from a multi-hour build.
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// Notifier sends operator notifications
type Notifier struct {
	enabled bool
	logger  logger.Logger
}

// New creates a notifier
func New(enabled bool, log logger.Logger) *Notifier {
	return &Notifier{enabled: enabled, logger: log}
}

// BuildSucceeded notifies that the kernel build finished
func (n *Notifier) BuildSucceeded(kernelVersion string, duration time.Duration) {
	n.send("✅ Kernel build succeeded",
		fmt.Sprintf("%s built in %s", kernelVersion, formatDuration(duration)))
}

// BuildFailed notifies that the kernel build failed
func (n *Notifier) BuildFailed(kernelVersion string, err error) {
	n.send("❌ Kernel build failed", fmt.Sprintf("%s: %v", kernelVersion, err))
}

// RebootRequired notifies that MOK enrollment is queued and the
// workflow is suspended until the operator reboots.
func (n *Notifier) RebootRequired() {
	n.send("🔐 Reboot required",
		"MOK enrollment queued. Reboot, confirm in the firmware MOK manager, then re-run.")
}

// WorkflowComplete notifies the full workflow finished
func (n *Notifier) WorkflowComplete(kernelVersion string) {
	n.send("🔊 Sound saga complete", fmt.Sprintf("Kernel %s built, installed and enrolled", kernelVersion))
}

func (n *Notifier) send(title, message string) {
	if !n.enabled {
		return
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		// Headless machines have no notification daemon; log instead.
		n.logger.Debug("Desktop notification unavailable",
			logger.WithField("title", title),
			logger.WithField("error", err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
