package reports

import (
	"bytes"
	"testing"
	"time"

	"kpiboard/internal/domain/kpi"
)

func TestSummaryPDF(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := kpi.Snapshot{
		KPIs: []kpi.KPI{
			{ID: "K1", Name: "Weekly report", Frequency: "Weekly", AssignedUser: "Alice", CompletionPercent: 40, DueDate: &due},
			{ID: "K2", Name: "Daily standup", Frequency: "Daily", AssignedUser: "Bob", CompletionPercent: 100, Status: "Done"},
		},
		SubmissionHistory: []kpi.Submission{
			{RowID: "r1", KPIID: "K1", Timestamp: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), TaskStatus: kpi.TaskStatusInProgress, ProgressPercent: 40},
		},
	}

	data, err := SummaryPDF(snapshot, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatal("expected a PDF document")
	}
}

func TestSummaryPDFEmptySnapshot(t *testing.T) {
	data, err := SummaryPDF(kpi.Snapshot{}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty document")
	}
}
