package models

import "errors"

// Error kinds. Callers classify failures with errors.Is; everything else is a
// programming error and propagates untouched.
var (
	// ErrConfig marks missing or malformed configuration (no suspense
	// account, no exchange accounts, broken write-off formula). Not
	// recoverable for the affected line; the cron loop logs and skips.
	ErrConfig = errors.New("configuration error")

	// ErrPrecondition marks an operation attempted in the wrong state, such
	// as validating a widget that is not valid.
	ErrPrecondition = errors.New("precondition failed")

	// ErrConflict marks lock contention on a statement line or invoice
	// line. Interactive callers surface it; the cron loop retries later.
	ErrConflict = errors.New("conflict")

	// ErrData marks soft data inconsistencies (duplicate bank account
	// numbers across archived accounts or companies). The engine proceeds.
	ErrData = errors.New("data error")

	// ErrRuleNoMatch is returned when no reconcile model applies. Silent:
	// the widget keeps its suspense balance.
	ErrRuleNoMatch = errors.New("no matching rule")
)
