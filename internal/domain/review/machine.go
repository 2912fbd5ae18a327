// Package review governs the submission lifecycle: a draft update
// becomes a pending submission, which a reviewer settles exactly once
// as approved or rejected. There is no path out of a settled state; a
// fresh submission is the only way to re-attempt.
package review

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"kpiboard/internal/domain/kpi"
)

// tempRowPrefix marks client-generated row IDs that have not yet been
// reconciled against the backing store.
const tempRowPrefix = "tmp-"

// UpdateRequest is a draft status update against a KPI.
type UpdateRequest struct {
	KPIID           string  `json:"kpi_id"`
	Frequency       string  `json:"kpi_frequency"`
	TaskStatus      string  `json:"task_status"`
	ProgressPercent float64 `json:"progress_percent"`
	FocusToday      string  `json:"focus_today"`
	Blockers        string  `json:"blockers"`
	FocusTomorrow   string  `json:"focus_tomorrow"`
}

// Validate rejects malformed drafts locally, before anything reaches
// the gateway.
func (r UpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.KPIID, validation.Required),
		validation.Field(&r.TaskStatus, validation.Required, validation.In(kpi.TaskStatusInProgress, kpi.TaskStatusDone)),
		validation.Field(&r.ProgressPercent, validation.Min(0.0), validation.Max(100.0)),
	)
}

// DecisionRequest is a reviewer's verdict on a pending submission.
// AdjustedProgress left nil defaults to the submitted progress on
// approval; it is ignored on rejection.
type DecisionRequest struct {
	RowID            string   `json:"row_id"`
	KPIID            string   `json:"kpi_id"`
	Decision         string   `json:"decision"`
	AdjustedProgress *float64 `json:"adjusted_progress"`
	Feedback         string   `json:"feedback"`
}

func (r DecisionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RowID, validation.Required),
		validation.Field(&r.Decision, validation.Required, validation.In(kpi.DecisionApproved, kpi.DecisionRejected)),
		validation.Field(&r.AdjustedProgress, validation.Min(0.0), validation.Max(100.0)),
	)
}

// BuildSubmission turns a validated draft into a pending submission.
// Only the KPI's assigned user may submit; ownership is exact string
// equality on the display name, matching the backing store's contract.
// A Done status forces progress to 100 regardless of the value sent,
// and blank free-text fields are filled with a placeholder.
func BuildSubmission(req UpdateRequest, user kpi.UserInfo, target kpi.KPI, now time.Time) (kpi.Submission, error) {
	if err := req.Validate(); err != nil {
		return kpi.Submission{}, err
	}
	if target.AssignedUser != user.Name {
		return kpi.Submission{}, ErrNotOwner
	}

	progress := kpi.ClampPercent(req.ProgressPercent)
	if req.TaskStatus == kpi.TaskStatusDone {
		progress = 100
	}

	frequency := strings.TrimSpace(req.Frequency)
	if frequency == "" {
		frequency = target.Frequency
	}

	return kpi.Submission{
		RowID:           TempRowID(),
		KPIID:           target.ID,
		SubmitterName:   user.Name,
		Timestamp:       now.UTC(),
		Frequency:       frequency,
		TaskStatus:      req.TaskStatus,
		ProgressPercent: progress,
		FocusToday:      orPlaceholder(req.FocusToday),
		Blockers:        orPlaceholder(req.Blockers),
		FocusTomorrow:   orPlaceholder(req.FocusTomorrow),
	}, nil
}

// ApplyDecision settles a pending submission in place. Rejection
// forces the adjusted progress to zero no matter what the reviewer
// supplied; approval defaults it to the submitted progress.
func ApplyDecision(sub *kpi.Submission, req DecisionRequest, reviewer kpi.UserInfo, now time.Time) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !reviewer.IsAdmin() {
		return ErrNotAdmin
	}
	if !sub.PendingReview() {
		return ErrAlreadyReviewed
	}

	adjusted := sub.ProgressPercent
	if req.Decision == kpi.DecisionRejected {
		adjusted = 0
	} else if req.AdjustedProgress != nil {
		adjusted = kpi.ClampPercent(*req.AdjustedProgress)
	}

	reviewedAt := now.UTC()
	sub.ManagerDecision = req.Decision
	sub.ManagerAdjustedProgress = &adjusted
	sub.ManagerFeedback = strings.TrimSpace(req.Feedback)
	sub.ReviewedBy = reviewer.Name
	sub.ReviewedAt = &reviewedAt
	return nil
}

// TempRowID generates a client-side row ID for optimistic display.
func TempRowID() string {
	return tempRowPrefix + uuid.NewString()
}

// IsTempRowID reports whether a row ID was generated client-side and
// still awaits reconciliation.
func IsTempRowID(id string) bool {
	return strings.HasPrefix(id, tempRowPrefix)
}

func orPlaceholder(value string) string {
	if strings.TrimSpace(value) == "" {
		return kpi.FieldPlaceholder
	}
	return value
}
