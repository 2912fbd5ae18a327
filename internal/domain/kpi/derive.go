package kpi

import (
	"strings"
	"time"
)

// Grouped is the four-bucket partition of KPIs by cadence. Every input
// KPI lands in exactly one bucket.
type Grouped struct {
	Daily   []KPI
	Weekly  []KPI
	Monthly []KPI
	Other   []KPI
}

// HistoryFilter narrows submission history. Zero-valued criteria are
// no-ops. Month matches the YYYY-MM of the submission timestamp.
// Decision accepts Approved, Rejected or Pending, where Pending matches
// submissions awaiting review.
type HistoryFilter struct {
	Month    string
	KPIID    string
	Decision string
}

// GroupByFrequency partitions KPIs by their Frequency field. Canonical
// labels match case-insensitively; anything else falls into Other.
func GroupByFrequency(kpis []KPI) Grouped {
	var out Grouped
	for _, k := range kpis {
		switch {
		case strings.EqualFold(strings.TrimSpace(k.Frequency), FrequencyDaily):
			out.Daily = append(out.Daily, k)
		case strings.EqualFold(strings.TrimSpace(k.Frequency), FrequencyWeekly):
			out.Weekly = append(out.Weekly, k)
		case strings.EqualFold(strings.TrimSpace(k.Frequency), FrequencyMonthly):
			out.Monthly = append(out.Monthly, k)
		default:
			out.Other = append(out.Other, k)
		}
	}
	return out
}

// Total returns the number of KPIs across all buckets.
func (g Grouped) Total() int {
	return len(g.Daily) + len(g.Weekly) + len(g.Monthly) + len(g.Other)
}

// LatestByKPI returns, per KPI ID, the submission with the maximum
// timestamp. On equal timestamps the earliest-indexed submission wins,
// keeping the result deterministic for any input order.
func LatestByKPI(subs []Submission) map[string]Submission {
	latest := make(map[string]Submission, len(subs))
	for _, s := range subs {
		if s.KPIID == "" {
			continue
		}
		current, ok := latest[s.KPIID]
		if !ok || s.Timestamp.After(current.Timestamp) {
			latest[s.KPIID] = s
		}
	}
	return latest
}

// PendingReview reports whether the submission awaits a manager
// decision.
func (s Submission) PendingReview() bool {
	return strings.TrimSpace(s.ManagerDecision) == ""
}

// IsOverdue reports whether the KPI's due date has passed without the
// KPI reaching a done status. Both sides are truncated to calendar days
// in UTC so time-of-day and offsets cannot flip the comparison.
func IsOverdue(k KPI, today time.Time) bool {
	if k.DueDate == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(k.Status), StatusDone) {
		return false
	}
	return truncateDay(*k.DueDate).Before(truncateDay(today))
}

// DaysUntilDue returns the signed calendar-day count until the KPI's
// due date; negative means overdue. ok is false when the KPI has no due
// date.
func DaysUntilDue(k KPI, today time.Time) (days int, ok bool) {
	if k.DueDate == nil {
		return 0, false
	}
	diff := truncateDay(*k.DueDate).Sub(truncateDay(today))
	return int(diff / (24 * time.Hour)), true
}

// FilterHistory applies the filter criteria conjunctively, preserving
// the relative order of the input.
func FilterHistory(subs []Submission, filter HistoryFilter) []Submission {
	out := make([]Submission, 0, len(subs))
	for _, s := range subs {
		if filter.Month != "" && MonthKey(s.Timestamp) != filter.Month {
			continue
		}
		if filter.KPIID != "" && s.KPIID != filter.KPIID {
			continue
		}
		if filter.Decision != "" && !matchDecision(s, filter.Decision) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchDecision(s Submission, decision string) bool {
	if strings.EqualFold(decision, DecisionPending) {
		return s.PendingReview()
	}
	return strings.EqualFold(strings.TrimSpace(s.ManagerDecision), decision)
}

// PendingTaskCount counts KPIs that are neither fully complete nor
// marked done. Both conditions are required: a KPI at 100% with a blank
// status still counts as settled, and a done KPI below 100% does too.
func PendingTaskCount(kpis []KPI) int {
	count := 0
	for _, k := range kpis {
		if k.CompletionPercent < 100 && !strings.EqualFold(strings.TrimSpace(k.Status), StatusDone) {
			count++
		}
	}
	return count
}

// ClampPercent bounds a progress value to [0,100] for display. Stored
// values outside the range must not corrupt derived views.
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// MonthKey returns the YYYY-MM bucket of an instant, in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// OwnerHue derives a stable hue in [0,360) from an owner name, so the
// same owner renders in the same color everywhere. Arithmetic is 32-bit
// to match what existing dashboards derived for the same names.
func OwnerHue(name string) int {
	var hash int32
	for _, r := range name {
		hash = int32(r) + (hash << 5) - hash
	}
	hue := int(hash % 360)
	if hue < 0 {
		hue += 360
	}
	return hue
}

func truncateDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
