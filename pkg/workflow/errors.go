package workflow

import "errors"

// ErrEnrollmentPending is a controlled suspension, not a failure: the
// certificate is queued in firmware trust storage and the machine must
// reboot before the workflow can continue. Callers map it to a clean
// exit with operator guidance.
var ErrEnrollmentPending = errors.New("firmware enrollment pending, reboot required")

// ErrSkipVerificationFailed indicates a phase was flagged as skippable
// but its side effects are not on disk, so skipping would corrupt the
// run.
var ErrSkipVerificationFailed = errors.New("cannot skip phase: side effects not present")
