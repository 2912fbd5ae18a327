package kpi

import "time"

// KPI is one tracked goal as delivered by the backing store. KPIs are
// created and edited out-of-band (directly in the spreadsheet); this
// system treats them as read-only except for the completion write-back
// on an approved submission.
type KPI struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Frequency         string     `json:"frequency"`
	AssignedUser      string     `json:"assignedUser"`
	CompletionPercent float64    `json:"completionPercent"`
	DueDate           *time.Time `json:"dueDate,omitempty"`
	Status            string     `json:"status"`
}

// Submission is one reported status update against a KPI. Frequency is
// copied from the KPI at submission time so history bucketing survives
// later KPI edits. RowID is assigned by the backing store; client-side
// optimistic entries carry a temporary ID until reconciled.
type Submission struct {
	RowID                   string     `json:"rowId"`
	KPIID                   string     `json:"kpiId"`
	SubmitterName           string     `json:"submitterName"`
	Timestamp               time.Time  `json:"timestamp"`
	Frequency               string     `json:"frequency"`
	TaskStatus              string     `json:"taskStatus"`
	ProgressPercent         float64    `json:"progressPercent"`
	FocusToday              string     `json:"focusToday"`
	Blockers                string     `json:"blockers"`
	FocusTomorrow           string     `json:"focusTomorrow"`
	ManagerDecision         string     `json:"managerDecision,omitempty"`
	ManagerAdjustedProgress *float64   `json:"managerAdjustedProgress,omitempty"`
	ManagerFeedback         string     `json:"managerFeedback,omitempty"`
	ReviewedBy              string     `json:"reviewedBy,omitempty"`
	ReviewedAt              *time.Time `json:"reviewedAt,omitempty"`
}

// UserInfo is the authenticated actor. Role gates visibility and
// permissions; Name is compared by exact string equality against
// AssignedUser/SubmitterName for ownership checks. The backing sheets
// carry no stable user identifier, so name drift is a known risk.
type UserInfo struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Snapshot is the full dashboard payload, replaced wholesale on each
// successful fetch.
type Snapshot struct {
	UserInfo          UserInfo     `json:"userInfo"`
	KPIs              []KPI        `json:"kpis"`
	SubmissionHistory []Submission `json:"submissionHistory"`
}

// IsAdmin reports whether the user may review submissions.
func (u UserInfo) IsAdmin() bool {
	return u.Role == RoleAdmin
}
