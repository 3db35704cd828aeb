package domain

import "errors"

// Sentinel errors shared across the orchestration core. Callers classify with
// errors.Is; lower layers wrap these with backend detail via fmt.Errorf and %w.
var (
	// ErrNotFound is returned for unknown job ids and missing storage objects.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when a job record insert collides on id.
	// Ids are generated UUIDs, so a collision is an invariant violation.
	ErrDuplicateID = errors.New("duplicate job id")

	// ErrClaimConflict is returned when a worker loses the pending->processing
	// race. Benign: the losing worker discards its claim.
	ErrClaimConflict = errors.New("job already claimed")

	// ErrInvalidTransition is returned when a terminal record is asked to move
	// to a different terminal state. The first write wins.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrQueueUnavailable indicates the dispatch queue backend is unreachable.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrStorageUnavailable indicates the storage backend is unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageQuotaExceeded indicates the storage backend is out of capacity.
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

	// ErrTimeout indicates the hard execution deadline elapsed.
	ErrTimeout = errors.New("hard deadline exceeded")

	// ErrValidation rejects a submission before any record is created.
	ErrValidation = errors.New("invalid submission")

	// ErrParseFailure indicates the external parse operation reported an error.
	ErrParseFailure = errors.New("parse failed")
)

// Transient reports whether err belongs to the retryable error class.
// Content errors (validation, parse failures) are never retried.
func Transient(err error) bool {
	return errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrStorageQuotaExceeded)
}
