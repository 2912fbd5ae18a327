// Package store defines the backing-store contract behind the dashboard
// API. Drivers persist users, KPIs and submissions; all review and
// derivation rules live in the domain packages.
package store

import (
	"context"
	"errors"

	"kpiboard/internal/domain/kpi"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidAuthKey = errors.New("invalid auth key")
)

type Store interface {
	// VerifyAuthKey resolves a presented auth key to its user, or
	// ErrInvalidAuthKey.
	VerifyAuthKey(ctx context.Context, key string) (kpi.UserInfo, error)

	// Records returns all KPIs and submissions. Reads are idempotent
	// and safe to repeat.
	Records(ctx context.Context) ([]kpi.KPI, []kpi.Submission, error)

	KPIByID(ctx context.Context, id string) (kpi.KPI, error)

	// AppendSubmission persists a new submission and returns the
	// store-assigned row ID, replacing any client-generated one.
	AppendSubmission(ctx context.Context, sub kpi.Submission) (string, error)

	SubmissionByRowID(ctx context.Context, rowID string) (kpi.Submission, error)

	// UpdateSubmissionReview persists the manager decision fields of an
	// already stored submission, addressed by its row ID.
	UpdateSubmissionReview(ctx context.Context, sub kpi.Submission) error

	// SetKPICompletion writes an approved progress value back to the
	// KPI's display completion.
	SetKPICompletion(ctx context.Context, kpiID string, percent float64) error

	Ping(ctx context.Context) error
	Close() error
}
