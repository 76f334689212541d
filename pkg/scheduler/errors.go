package scheduler

import "errors"

// Standard scheduler errors. Callers should match with errors.Is; per-level
// fetch failures are absorbed and retried internally and only surface as
// ErrNoLevelsAvailable once every selected level has failed out.
var (
	// ErrNoLevelsAvailable indicates every level attempt failed for a
	// progressive load.
	ErrNoLevelsAvailable = errors.New("no levels available")

	// ErrCancelled indicates the request was cancelled before completion.
	ErrCancelled = errors.New("load cancelled")

	// ErrTimeout indicates a per-request timeout elapsed. Treated exactly
	// like a transient fetch failure for retry purposes.
	ErrTimeout = errors.New("load timed out")

	// ErrSchedulerClosed indicates the scheduler no longer accepts work.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrUnknownImage indicates no pyramid is registered for the image ID.
	ErrUnknownImage = errors.New("unknown image")

	// ErrUnknownLevel indicates the pyramid has no level at the requested
	// quality.
	ErrUnknownLevel = errors.New("unknown quality level")
)
