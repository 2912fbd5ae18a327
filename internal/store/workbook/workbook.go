// Package workbook persists the dashboard in an xlsx workbook, keeping
// the sheet and column layout the operators already maintain by hand:
// a Users sheet, a KPIs sheet and an append-only Submissions sheet.
package workbook

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"kpiboard/internal/domain/auth"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/store"
)

const (
	sheetUsers       = "Users"
	sheetKPIs        = "KPIs"
	sheetSubmissions = "Submissions"

	timestampLayout = time.RFC3339
	dateLayout      = "2006-01-02"
)

var (
	userHeaders = []string{"Name", "Role", "Auth_Key_Hash"}
	kpiHeaders  = []string{"KPI_ID", "KPI_Name", "Description", "KPIType", "Assigned_User", "Completion", "CompletionDate", "Status"}
	subHeaders  = []string{
		"ROW_ID", "KPI_ID", "Name", "Timestamp", "KPI_Frequency",
		"Task_Status", "Progress_Percent", "Focus_Today", "Blockers", "Focus_Tomorrow",
		"Manager_Decision", "Manager_Adjusted_Progress", "Manager_Feedback", "Reviewed_By", "Reviewed_At",
	}
)

// Workbook is a store.Store backed by a single xlsx file. Mutations are
// written through and saved immediately; Reload picks up out-of-band
// edits made directly in the spreadsheet.
type Workbook struct {
	mu   sync.RWMutex
	path string
	file *excelize.File
}

// Open opens the workbook at path, creating it with the expected sheet
// layout when it does not exist yet.
func Open(path string) (*Workbook, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return create(path)
	}
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	wb := &Workbook{path: path, file: file}
	for _, sheet := range []string{sheetUsers, sheetKPIs, sheetSubmissions} {
		if idx, err := file.GetSheetIndex(sheet); err != nil || idx < 0 {
			_ = file.Close()
			return nil, fmt.Errorf("workbook %s: missing sheet %s", path, sheet)
		}
	}
	return wb, nil
}

func create(path string) (*Workbook, error) {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", sheetUsers)
	if _, err := file.NewSheet(sheetKPIs); err != nil {
		return nil, err
	}
	if _, err := file.NewSheet(sheetSubmissions); err != nil {
		return nil, err
	}
	writeRow(file, sheetUsers, 1, userHeaders)
	writeRow(file, sheetKPIs, 1, kpiHeaders)
	writeRow(file, sheetSubmissions, 1, subHeaders)
	if err := file.SaveAs(path); err != nil {
		return nil, fmt.Errorf("create workbook %s: %w", path, err)
	}
	return &Workbook{path: path, file: file}, nil
}

// Seed adds an admin user when the Users sheet is empty, so a fresh
// workbook is loginable.
func (w *Workbook) Seed(ctx context.Context, adminName, adminKey string) error {
	if adminName == "" || adminKey == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(sheetUsers)
	if err != nil {
		return err
	}
	if len(rows) > 1 {
		return nil
	}
	return w.appendUserLocked(adminName, kpi.RoleAdmin, adminKey)
}

// AddUser registers a user with a bcrypt-hashed auth key.
func (w *Workbook) AddUser(ctx context.Context, name, role, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendUserLocked(name, role, key)
}

func (w *Workbook) appendUserLocked(name, role, key string) error {
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	rows, err := w.file.GetRows(sheetUsers)
	if err != nil {
		return err
	}
	writeRow(w.file, sheetUsers, len(rows)+1, []string{name, role, hash})
	return w.file.Save()
}

// AddKPI appends a KPI row. In production KPIs arrive out-of-band via
// spreadsheet edits; this is the programmatic equivalent.
func (w *Workbook) AddKPI(ctx context.Context, k kpi.KPI) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(sheetKPIs)
	if err != nil {
		return err
	}
	due := ""
	if k.DueDate != nil {
		due = k.DueDate.UTC().Format(dateLayout)
	}
	writeRow(w.file, sheetKPIs, len(rows)+1, []string{
		k.ID, k.Name, k.Description, k.Frequency, k.AssignedUser,
		formatFloat(k.CompletionPercent), due, k.Status,
	})
	return w.file.Save()
}

func (w *Workbook) VerifyAuthKey(ctx context.Context, key string) (kpi.UserInfo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rows, err := w.file.GetRows(sheetUsers)
	if err != nil {
		return kpi.UserInfo{}, err
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		hash := cell(row, 2)
		if hash == "" {
			continue
		}
		if auth.CheckKey(hash, key) == nil {
			return kpi.UserInfo{Name: cell(row, 0), Role: cell(row, 1)}, nil
		}
	}
	return kpi.UserInfo{}, store.ErrInvalidAuthKey
}

func (w *Workbook) Records(ctx context.Context) ([]kpi.KPI, []kpi.Submission, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	kpis, err := w.readKPIsLocked()
	if err != nil {
		return nil, nil, err
	}
	subs, err := w.readSubmissionsLocked()
	if err != nil {
		return nil, nil, err
	}
	return kpis, subs, nil
}

func (w *Workbook) KPIByID(ctx context.Context, id string) (kpi.KPI, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	kpis, err := w.readKPIsLocked()
	if err != nil {
		return kpi.KPI{}, err
	}
	for _, k := range kpis {
		if k.ID == id {
			return k, nil
		}
	}
	return kpi.KPI{}, store.ErrNotFound
}

func (w *Workbook) AppendSubmission(ctx context.Context, sub kpi.Submission) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(sheetSubmissions)
	if err != nil {
		return "", err
	}
	rowID := uuid.NewString()
	writeRow(w.file, sheetSubmissions, len(rows)+1, submissionCells(rowID, sub))
	if err := w.file.Save(); err != nil {
		return "", err
	}
	return rowID, nil
}

func (w *Workbook) SubmissionByRowID(ctx context.Context, rowID string) (kpi.Submission, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	subs, err := w.readSubmissionsLocked()
	if err != nil {
		return kpi.Submission{}, err
	}
	for _, s := range subs {
		if s.RowID == rowID {
			return s, nil
		}
	}
	return kpi.Submission{}, store.ErrNotFound
}

func (w *Workbook) UpdateSubmissionReview(ctx context.Context, sub kpi.Submission) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(sheetSubmissions)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 || cell(row, 0) != sub.RowID {
			continue
		}
		rowNum := i + 1
		adjusted := ""
		if sub.ManagerAdjustedProgress != nil {
			adjusted = formatFloat(*sub.ManagerAdjustedProgress)
		}
		reviewedAt := ""
		if sub.ReviewedAt != nil {
			reviewedAt = sub.ReviewedAt.UTC().Format(timestampLayout)
		}
		setCell(w.file, sheetSubmissions, 11, rowNum, sub.ManagerDecision)
		setCell(w.file, sheetSubmissions, 12, rowNum, adjusted)
		setCell(w.file, sheetSubmissions, 13, rowNum, sub.ManagerFeedback)
		setCell(w.file, sheetSubmissions, 14, rowNum, sub.ReviewedBy)
		setCell(w.file, sheetSubmissions, 15, rowNum, reviewedAt)
		return w.file.Save()
	}
	return store.ErrNotFound
}

func (w *Workbook) SetKPICompletion(ctx context.Context, kpiID string, percent float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(sheetKPIs)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 || cell(row, 0) != kpiID {
			continue
		}
		setCell(w.file, sheetKPIs, 6, i+1, formatFloat(kpi.ClampPercent(percent)))
		return w.file.Save()
	}
	return store.ErrNotFound
}

// Reload replaces the in-memory workbook with the current on-disk
// contents. Called by the watcher after out-of-band edits.
func (w *Workbook) Reload() error {
	file, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("reload workbook %s: %w", w.path, err)
	}
	w.mu.Lock()
	old := w.file
	w.file = file
	w.mu.Unlock()
	return old.Close()
}

func (w *Workbook) Path() string {
	return w.path
}

func (w *Workbook) Ping(ctx context.Context) error {
	_, err := os.Stat(w.path)
	return err
}

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *Workbook) readKPIsLocked() ([]kpi.KPI, error) {
	rows, err := w.file.GetRows(sheetKPIs)
	if err != nil {
		return nil, err
	}
	kpis := make([]kpi.KPI, 0, len(rows))
	for i, row := range rows {
		if i == 0 || cell(row, 0) == "" {
			continue
		}
		k := kpi.KPI{
			ID:                cell(row, 0),
			Name:              cell(row, 1),
			Description:       cell(row, 2),
			Frequency:         cell(row, 3),
			AssignedUser:      cell(row, 4),
			CompletionPercent: parseFloat(cell(row, 5)),
			Status:            cell(row, 7),
		}
		if due, ok := parseTime(cell(row, 6)); ok {
			k.DueDate = &due
		}
		kpis = append(kpis, k)
	}
	return kpis, nil
}

func (w *Workbook) readSubmissionsLocked() ([]kpi.Submission, error) {
	rows, err := w.file.GetRows(sheetSubmissions)
	if err != nil {
		return nil, err
	}
	subs := make([]kpi.Submission, 0, len(rows))
	for i, row := range rows {
		if i == 0 || cell(row, 0) == "" {
			continue
		}
		s := kpi.Submission{
			RowID:           cell(row, 0),
			KPIID:           cell(row, 1),
			SubmitterName:   cell(row, 2),
			Frequency:       cell(row, 4),
			TaskStatus:      cell(row, 5),
			ProgressPercent: parseFloat(cell(row, 6)),
			FocusToday:      cell(row, 7),
			Blockers:        cell(row, 8),
			FocusTomorrow:   cell(row, 9),
			ManagerDecision: cell(row, 10),
			ManagerFeedback: cell(row, 12),
			ReviewedBy:      cell(row, 13),
		}
		if ts, ok := parseTime(cell(row, 3)); ok {
			s.Timestamp = ts
		}
		if raw := cell(row, 11); raw != "" {
			adjusted := parseFloat(raw)
			s.ManagerAdjustedProgress = &adjusted
		}
		if reviewed, ok := parseTime(cell(row, 14)); ok {
			s.ReviewedAt = &reviewed
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func submissionCells(rowID string, sub kpi.Submission) []string {
	adjusted := ""
	if sub.ManagerAdjustedProgress != nil {
		adjusted = formatFloat(*sub.ManagerAdjustedProgress)
	}
	reviewedAt := ""
	if sub.ReviewedAt != nil {
		reviewedAt = sub.ReviewedAt.UTC().Format(timestampLayout)
	}
	return []string{
		rowID, sub.KPIID, sub.SubmitterName, sub.Timestamp.UTC().Format(timestampLayout), sub.Frequency,
		sub.TaskStatus, formatFloat(sub.ProgressPercent), sub.FocusToday, sub.Blockers, sub.FocusTomorrow,
		sub.ManagerDecision, adjusted, sub.ManagerFeedback, sub.ReviewedBy, reviewedAt,
	}
}

func writeRow(file *excelize.File, sheet string, rowNum int, values []string) {
	for i, value := range values {
		setCell(file, sheet, i+1, rowNum, value)
	}
}

func setCell(file *excelize.File, sheet string, col, row int, value string) {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return
	}
	_ = file.SetCellValue(sheet, name, value)
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseFloat(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		return 0
	}
	return value
}

// parseTime tolerates the formats hand-edited sheets accumulate.
func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", dateLayout, "01-02-06", "1/2/06 15:04"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
