package review

import "errors"

var (
	// ErrNotOwner rejects an update attempt on a KPI assigned to
	// someone else.
	ErrNotOwner = errors.New("kpi is not assigned to this user")
	// ErrNotAdmin rejects a review decision from a non-admin.
	ErrNotAdmin = errors.New("only admins may review submissions")
	// ErrAlreadyReviewed rejects a decision on a submission that has
	// left the pending state. Approved and Rejected are terminal.
	ErrAlreadyReviewed = errors.New("submission already reviewed")
)
