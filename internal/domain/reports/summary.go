// Package reports renders admin-facing exports of the dashboard state.
package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"kpiboard/internal/domain/kpi"
)

// SummaryPDF renders a per-frequency KPI summary: owner, completion,
// due state and the latest submission for each KPI, plus the pending
// totals an admin scans for first.
func SummaryPDF(snapshot kpi.Snapshot, now time.Time) ([]byte, error) {
	grouped := kpi.GroupByFrequency(snapshot.KPIs)
	latest := kpi.LatestByKPI(snapshot.SubmissionHistory)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "KPI Summary")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Generated: %s", now.UTC().Format("2006-01-02 15:04")))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Pending tasks: %d", kpi.PendingTaskCount(snapshot.KPIs)))
	pdf.Ln(10)

	sections := []struct {
		title string
		kpis  []kpi.KPI
	}{
		{kpi.FrequencyDaily, grouped.Daily},
		{kpi.FrequencyWeekly, grouped.Weekly},
		{kpi.FrequencyMonthly, grouped.Monthly},
		{kpi.FrequencyOther, grouped.Other},
	}

	for _, section := range sections {
		if len(section.kpis) == 0 {
			continue
		}
		pdf.SetFont("Helvetica", "B", 13)
		pdf.Cell(0, 8, section.title)
		pdf.Ln(9)
		pdf.SetFont("Helvetica", "", 10)

		for _, k := range section.kpis {
			pdf.Cell(0, 6, fmt.Sprintf("%s  (%s)  %.0f%%", k.Name, k.AssignedUser, kpi.ClampPercent(k.CompletionPercent)))
			pdf.Ln(5)
			pdf.Cell(0, 6, "    "+dueLine(k, now))
			pdf.Ln(5)
			if s, ok := latest[k.ID]; ok {
				pdf.Cell(0, 6, fmt.Sprintf("    Latest: %s  %s  %.0f%%  %s",
					s.Timestamp.UTC().Format("2006-01-02 15:04"), s.TaskStatus, s.ProgressPercent, decisionLabel(s)))
				pdf.Ln(5)
			}
			pdf.Ln(2)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dueLine(k kpi.KPI, now time.Time) string {
	days, ok := kpi.DaysUntilDue(k, now)
	if !ok {
		return "No due date"
	}
	due := k.DueDate.UTC().Format("2006-01-02")
	if kpi.IsOverdue(k, now) {
		return fmt.Sprintf("Due %s (overdue %d days)", due, -days)
	}
	return fmt.Sprintf("Due %s (in %d days)", due, days)
}

func decisionLabel(s kpi.Submission) string {
	if s.PendingReview() {
		return "Pending Review"
	}
	return s.ManagerDecision
}
