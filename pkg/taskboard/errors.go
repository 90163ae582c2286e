package taskboard

import "errors"

var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyClaimed indicates another worker's conditional claim won
	// the race. Callers should retry their pick; this is an expected
	// steady-state condition, not a fault.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrLeaseMismatch indicates the caller's (worker_id, lease_id) pair no
	// longer matches the task row. The caller's authority is stale: it must
	// stop work and discard local state, never retry the same lease.
	ErrLeaseMismatch = errors.New("lease mismatch")

	// ErrMutatorTaken indicates Mutator() was called more than once on a
	// Store. Exactly one mutation handle exists per process.
	ErrMutatorTaken = errors.New("status mutator already taken")
)

// IsNotFound reports whether err is a task-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyClaimed reports whether err is a lost claim race.
func IsAlreadyClaimed(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed)
}

// IsLeaseMismatch reports whether err is a stale-lease rejection.
func IsLeaseMismatch(err error) bool {
	return errors.Is(err, ErrLeaseMismatch)
}
