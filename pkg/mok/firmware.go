package mok

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolMissing indicates a required external utility is not installed
var ErrToolMissing = errors.New("required tool not found")

// ErrEnrollmentIncomplete indicates the certificate is still not in
// firmware trust storage after the enrollment reboot. The firmware-side
// confirmation failed or was declined; the operator must re-run
// enrollment, so this is not retried automatically.
var ErrEnrollmentIncomplete = errors.New("certificate not enrolled after reboot")

// commandRunner executes an external command with optional stdin and
// returns combined output. Injected for tests.
type commandRunner func(ctx context.Context, stdin, name string, args ...string) (string, error)

func execCommand(ctx context.Context, stdin, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrToolMissing, name)
		}
		return string(out), fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// firmwareStore wraps the firmware trust-storage utility (mokutil).
// Enrollment is a two-step dance: the request is queued here with a
// one-time password, and the firmware confirms it at next boot.
type firmwareStore struct {
	run commandRunner
}

// IsEnrolled reports whether the certificate is already in firmware
// trust storage. mokutil exits non-zero with an "already enrolled"
// message for enrolled keys, so both paths are inspected.
func (f *firmwareStore) IsEnrolled(ctx context.Context, derCertPath string) (bool, error) {
	out, err := f.run(ctx, "", "mokutil", "--test-key", derCertPath)
	if strings.Contains(out, "is already enrolled") {
		return true, nil
	}
	if err != nil {
		if errors.Is(err, ErrToolMissing) {
			return false, err
		}
		// Non-zero without the enrolled marker means not enrolled.
		return false, nil
	}
	return false, nil
}

// QueueEnrollment requests enrollment of the certificate. The one-time
// password is asked for twice by mokutil and must be re-entered in the
// firmware MOK manager on the next boot.
func (f *firmwareStore) QueueEnrollment(ctx context.Context, derCertPath, password string) error {
	stdin := password + "\n" + password + "\n"
	if _, err := f.run(ctx, stdin, "mokutil", "--import", derCertPath); err != nil {
		return fmt.Errorf("failed to queue enrollment: %w", err)
	}
	return nil
}
