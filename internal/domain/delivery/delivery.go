package delivery

import "errors"

// Delivery state for outbound notifications, keyed by (kind, loan_id).
// Guarantees at-most-once sends even when a job is retried.

var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification send in progress")
)
