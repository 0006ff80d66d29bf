// Package toolchain wraps the external build, packaging and signing
// tools behind narrow interfaces. Each invocation tees its output to a
// per-phase log file under the work directory.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sebetc4/16iax10h-linux-sound-saga/pkg/logger"
)

// ErrToolMissing indicates a required external tool is not installed
var ErrToolMissing = errors.New("required tool not found")

// Runner executes external commands with output captured and tee'd to
// a per-phase log file.
type Runner struct {
	WorkDir string
	Logger  logger.Logger
}

// NewRunner creates a command runner rooted in the work directory
func NewRunner(workDir string, log logger.Logger) *Runner {
	return &Runner{WorkDir: workDir, Logger: log}
}

// Run executes a command, blocking until it finishes. External tools
// get no timeout: a build can legitimately take hours, and a hang is
// resolved by operator interrupt (which cancels ctx).
func (r *Runner) Run(ctx context.Context, phase, dir, name string, args ...string) (string, error) {
	logFile, err := r.openLogFile(phase)
	if err != nil {
		r.Logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	cmdline := name + " " + strings.Join(args, " ")
	r.logToFile(logFile, fmt.Sprintf("\n=== %s at %s ===\n$ %s\n",
		phase, time.Now().Format("2006-01-02 15:04:05"), cmdline))

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var outputBuffer bytes.Buffer
	var sink io.Writer = &outputBuffer
	if logFile != nil {
		sink = io.MultiWriter(&outputBuffer, logFile)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	start := time.Now()
	err = cmd.Run()
	output := outputBuffer.String()

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrToolMissing, name)
		}
		r.logToFile(logFile, fmt.Sprintf("=== FAILED after %s ===\n", time.Since(start).Round(time.Second)))
		return output, fmt.Errorf("%s: %w\n%s", cmdline, err, tail(output, 20))
	}

	r.logToFile(logFile, fmt.Sprintf("=== succeeded after %s ===\n", time.Since(start).Round(time.Second)))
	return output, nil
}

// LogPath returns the log file for a phase
func (r *Runner) LogPath(phase string) string {
	return filepath.Join(r.WorkDir, "logs", phase+".log")
}

func (r *Runner) openLogFile(phase string) (*os.File, error) {
	logDir := filepath.Join(r.WorkDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(r.LogPath(phase), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (r *Runner) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}

// tail returns the last n lines of output for error messages
func tail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
