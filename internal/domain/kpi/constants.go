package kpi

const (
	FrequencyDaily   = "Daily"
	FrequencyWeekly  = "Weekly"
	FrequencyMonthly = "Monthly"
	FrequencyOther   = "Other"

	TaskStatusInProgress = "In Progress"
	TaskStatusDone       = "Done"

	DecisionApproved = "Approved"
	DecisionRejected = "Rejected"
	// DecisionPending is not stored; it is the filter label matching
	// submissions whose decision is still unset.
	DecisionPending = "Pending"

	RoleAdmin    = "Admin"
	RoleEmployee = "Employee"

	// StatusDone on a KPI suppresses overdue marking, compared
	// case-insensitively.
	StatusDone = "Done"

	// FieldPlaceholder fills blank free-text submission fields.
	FieldPlaceholder = "N/A"
)
