// Package postgres is the relational store driver, for deployments
// that have outgrown a shared workbook. Same contract, same column
// semantics.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kpiboard/internal/domain/auth"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	return &Store{DB: pool}, nil
}

// Migrate creates the schema. Idempotent; runs at startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
    CREATE TABLE IF NOT EXISTS users (
      name TEXT PRIMARY KEY,
      role TEXT NOT NULL,
      auth_key_hash TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS kpis (
      id TEXT PRIMARY KEY,
      name TEXT NOT NULL,
      description TEXT NOT NULL DEFAULT '',
      frequency TEXT NOT NULL DEFAULT '',
      assigned_user TEXT NOT NULL DEFAULT '',
      completion DOUBLE PRECISION NOT NULL DEFAULT 0,
      due_date DATE,
      status TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS submissions (
      row_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
      kpi_id TEXT NOT NULL,
      submitter_name TEXT NOT NULL,
      submitted_at TIMESTAMPTZ NOT NULL,
      frequency TEXT NOT NULL DEFAULT '',
      task_status TEXT NOT NULL DEFAULT '',
      progress DOUBLE PRECISION NOT NULL DEFAULT 0,
      focus_today TEXT NOT NULL DEFAULT '',
      blockers TEXT NOT NULL DEFAULT '',
      focus_tomorrow TEXT NOT NULL DEFAULT '',
      manager_decision TEXT NOT NULL DEFAULT '',
      manager_adjusted_progress DOUBLE PRECISION,
      manager_feedback TEXT NOT NULL DEFAULT '',
      reviewed_by TEXT NOT NULL DEFAULT '',
      reviewed_at TIMESTAMPTZ
    );

    CREATE INDEX IF NOT EXISTS idx_submissions_kpi ON submissions (kpi_id, submitted_at DESC);
  `)
	return err
}

// Seed inserts the admin user when the users table is empty.
func (s *Store) Seed(ctx context.Context, adminName, adminKey string) error {
	if adminName == "" || adminKey == "" {
		return nil
	}
	var count int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashKey(adminKey)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, "INSERT INTO users (name, role, auth_key_hash) VALUES ($1, $2, $3)", adminName, kpi.RoleAdmin, hash)
	return err
}

func (s *Store) VerifyAuthKey(ctx context.Context, key string) (kpi.UserInfo, error) {
	rows, err := s.DB.Query(ctx, "SELECT name, role, auth_key_hash FROM users")
	if err != nil {
		return kpi.UserInfo{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, role, hash string
		if err := rows.Scan(&name, &role, &hash); err != nil {
			return kpi.UserInfo{}, err
		}
		if auth.CheckKey(hash, key) == nil {
			return kpi.UserInfo{Name: name, Role: role}, nil
		}
	}
	if err := rows.Err(); err != nil {
		return kpi.UserInfo{}, err
	}
	return kpi.UserInfo{}, store.ErrInvalidAuthKey
}

func (s *Store) Records(ctx context.Context) ([]kpi.KPI, []kpi.Submission, error) {
	kpis, err := s.listKPIs(ctx)
	if err != nil {
		return nil, nil, err
	}
	subs, err := s.listSubmissions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return kpis, subs, nil
}

func (s *Store) listKPIs(ctx context.Context) ([]kpi.KPI, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, name, description, frequency, assigned_user, completion, due_date, status
    FROM kpis
    ORDER BY id
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kpis []kpi.KPI
	for rows.Next() {
		var k kpi.KPI
		if err := rows.Scan(&k.ID, &k.Name, &k.Description, &k.Frequency, &k.AssignedUser, &k.CompletionPercent, &k.DueDate, &k.Status); err != nil {
			return nil, err
		}
		kpis = append(kpis, k)
	}
	return kpis, rows.Err()
}

func (s *Store) listSubmissions(ctx context.Context) ([]kpi.Submission, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT row_id, kpi_id, submitter_name, submitted_at, frequency, task_status, progress,
           focus_today, blockers, focus_tomorrow,
           manager_decision, manager_adjusted_progress, manager_feedback, reviewed_by, reviewed_at
    FROM submissions
    ORDER BY submitted_at
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []kpi.Submission
	for rows.Next() {
		var sub kpi.Submission
		if err := rows.Scan(
			&sub.RowID, &sub.KPIID, &sub.SubmitterName, &sub.Timestamp, &sub.Frequency, &sub.TaskStatus, &sub.ProgressPercent,
			&sub.FocusToday, &sub.Blockers, &sub.FocusTomorrow,
			&sub.ManagerDecision, &sub.ManagerAdjustedProgress, &sub.ManagerFeedback, &sub.ReviewedBy, &sub.ReviewedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) KPIByID(ctx context.Context, id string) (kpi.KPI, error) {
	var k kpi.KPI
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, description, frequency, assigned_user, completion, due_date, status
    FROM kpis WHERE id = $1
  `, id).Scan(&k.ID, &k.Name, &k.Description, &k.Frequency, &k.AssignedUser, &k.CompletionPercent, &k.DueDate, &k.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return kpi.KPI{}, store.ErrNotFound
	}
	if err != nil {
		return kpi.KPI{}, err
	}
	return k, nil
}

func (s *Store) AppendSubmission(ctx context.Context, sub kpi.Submission) (string, error) {
	var rowID string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO submissions (kpi_id, submitter_name, submitted_at, frequency, task_status, progress,
                             focus_today, blockers, focus_tomorrow)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    RETURNING row_id
  `, sub.KPIID, sub.SubmitterName, sub.Timestamp, sub.Frequency, sub.TaskStatus, sub.ProgressPercent,
		sub.FocusToday, sub.Blockers, sub.FocusTomorrow).Scan(&rowID)
	if err != nil {
		return "", err
	}
	return rowID, nil
}

func (s *Store) SubmissionByRowID(ctx context.Context, rowID string) (kpi.Submission, error) {
	var sub kpi.Submission
	err := s.DB.QueryRow(ctx, `
    SELECT row_id, kpi_id, submitter_name, submitted_at, frequency, task_status, progress,
           focus_today, blockers, focus_tomorrow,
           manager_decision, manager_adjusted_progress, manager_feedback, reviewed_by, reviewed_at
    FROM submissions WHERE row_id = $1
  `, rowID).Scan(
		&sub.RowID, &sub.KPIID, &sub.SubmitterName, &sub.Timestamp, &sub.Frequency, &sub.TaskStatus, &sub.ProgressPercent,
		&sub.FocusToday, &sub.Blockers, &sub.FocusTomorrow,
		&sub.ManagerDecision, &sub.ManagerAdjustedProgress, &sub.ManagerFeedback, &sub.ReviewedBy, &sub.ReviewedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return kpi.Submission{}, store.ErrNotFound
	}
	if err != nil {
		return kpi.Submission{}, err
	}
	return sub, nil
}

func (s *Store) UpdateSubmissionReview(ctx context.Context, sub kpi.Submission) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE submissions
    SET manager_decision = $2, manager_adjusted_progress = $3, manager_feedback = $4,
        reviewed_by = $5, reviewed_at = $6
    WHERE row_id = $1
  `, sub.RowID, sub.ManagerDecision, sub.ManagerAdjustedProgress, sub.ManagerFeedback, sub.ReviewedBy, sub.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetKPICompletion(ctx context.Context, kpiID string, percent float64) error {
	tag, err := s.DB.Exec(ctx, "UPDATE kpis SET completion = $2 WHERE id = $1", kpiID, kpi.ClampPercent(percent))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}
