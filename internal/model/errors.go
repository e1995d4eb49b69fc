package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors shared by the store, review, and finalize packages.
// Callers match them with errors.Is after any amount of eris wrapping.
var (
	ErrNotFound         = eris.New("not found")
	ErrInvalidOverride  = eris.New("override value must not be empty")
	ErrSessionFinalized = eris.New("session is finalized")
	ErrDuplicateCell    = eris.New("duplicate change for cell")
)

// PendingReviewsError is returned by finalize while records still need review.
type PendingReviewsError struct {
	Count int
}

func (e *PendingReviewsError) Error() string {
	return fmt.Sprintf("%d change(s) still need review", e.Count)
}

// PersistenceError wraps a failed durable write. The transaction was rolled
// back and the session is still mutable, so finalize may be retried.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist finalized session: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
