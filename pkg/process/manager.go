// Package process handles operator interrupts for the workflow.
// Cancellation is coarse: an interrupt cancels the active phase's
// context, which kills only the running external process. Workflow
// state updates only at phase boundaries, so an interrupted phase
// always restarts cleanly.
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// InterruptExitCode is the process exit status for operator cancel.
// Distinct from fatal errors: a cancel is not a failure.
const InterruptExitCode = 130

// Manager translates OS signals into context cancellation
type Manager struct {
	logger      logger.Logger
	mu          sync.Mutex
	interrupted bool
}

// NewManager creates a process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{logger: log}
}

// WithInterrupt returns a context cancelled on SIGINT or SIGTERM.
// The returned stop function releases the signal handler.
func (m *Manager) WithInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Warn("Received signal, aborting active phase",
				logger.WithField("signal", sig))
			m.mu.Lock()
			m.interrupted = true
			m.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// Interrupted reports whether an operator interrupt was received
func (m *Manager) Interrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}
