// Package sqlite provides a file-backed attempt store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"experiment-test-service/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// AttemptStore persists attempts, their event logs and form submissions in SQLite.
// Timestamps are stored as Unix milliseconds.
type AttemptStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*AttemptStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps the seq check and insert of AppendEvent atomic
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &AttemptStore{db: db}, nil
}

// Close closes the SQLite handle.
func (s *AttemptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const attemptColumns = `id, user_id, group_id, config_version, started_at, ended_at, status, position, attempt_order`

func (s *AttemptStore) CreateAttempt(ctx context.Context, a domain.Attempt) error {
	position, order, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.GroupID, a.ConfigVersion, toMillis(a.StartedAt), endedMillis(a.EndedAt), string(a.Status), position, order)
	if isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE) {
		return domain.ErrAttemptInProgress
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) UpdateAttempt(ctx context.Context, a domain.Attempt) error {
	position, _, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET ended_at=?, status=?, position=? WHERE id=?`,
		endedMillis(a.EndedAt), string(a.Status), position, a.ID)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=?`, attemptID)
	return scanAttempt(row)
}

func (s *AttemptStore) FindInProgress(ctx context.Context, userID string, version int) (domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=? AND config_version=? AND status=?`,
		userID, version, string(domain.AttemptInProgress))
	return scanAttempt(row)
}

func (s *AttemptStore) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error) {
	var (
		where []string
		args  []any
	)
	if filter.ConfigVersion != 0 {
		where, args = append(where, "config_version=?"), append(args, filter.ConfigVersion)
	}
	if filter.GroupID != "" {
		where, args = append(where, "group_id=?"), append(args, filter.GroupID)
	}
	if filter.UserID != "" {
		where, args = append(where, "user_id=?"), append(args, filter.UserID)
	}
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendEvent inserts only when seq extends the log of the attempt.
func (s *AttemptStore) AppendEvent(ctx context.Context, ev domain.SessionEvent) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_events (attempt_id, seq, type, question_id, option_id, kind, ts)
		 SELECT ?1, ?2, ?3, ?4, ?5, ?6, ?7
		 WHERE NOT EXISTS (SELECT 1 FROM attempt_events WHERE attempt_id=?1 AND seq >= ?2)`,
		ev.AttemptID, ev.Seq, string(ev.Type), ev.QuestionID, ev.OptionID, string(ev.Kind), toMillis(ev.Timestamp))
	if isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attempt %s: seq %d does not extend the log", ev.AttemptID, ev.Seq)
	}
	return nil
}

func (s *AttemptStore) Events(ctx context.Context, attemptID string) ([]domain.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.seq, e.type, e.question_id, e.option_id, e.kind, e.ts, a.user_id, a.config_version
		 FROM attempt_events e JOIN attempts a ON a.id = e.attempt_id
		 WHERE e.attempt_id=? ORDER BY e.seq`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()
	var out []domain.SessionEvent
	for rows.Next() {
		ev := domain.SessionEvent{AttemptID: attemptID}
		var (
			typ, kind string
			ts        int64
		)
		if err := rows.Scan(&ev.Seq, &typ, &ev.QuestionID, &ev.OptionID, &kind, &ts, &ev.UserID, &ev.ConfigVersion); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.SessionEventType(typ)
		ev.Kind = domain.OptionEventKind(kind)
		ev.Timestamp = fromMillis(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *AttemptStore) SaveForm(ctx context.Context, sub domain.FormSubmission) error {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO form_submissions (attempt_id, form_type, user_id, config_version, submitted_at, answers)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.AttemptID, string(sub.FormType), sub.UserID, sub.ConfigVersion, toMillis(sub.SubmittedAt), string(answers))
	switch {
	case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY):
		return domain.ErrFormSubmitted
	case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY):
		return domain.ErrAttemptNotFound
	case err != nil:
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

func (s *AttemptStore) Forms(ctx context.Context, attemptID string) ([]domain.FormSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT form_type, user_id, config_version, submitted_at, answers
		 FROM form_submissions WHERE attempt_id=? ORDER BY submitted_at, form_type`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	defer rows.Close()
	var out []domain.FormSubmission
	for rows.Next() {
		sub := domain.FormSubmission{AttemptID: attemptID}
		var (
			formType, answers string
			submittedAt       int64
		)
		if err := rows.Scan(&formType, &sub.UserID, &sub.ConfigVersion, &submittedAt, &answers); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		sub.FormType = domain.FormType(formType)
		sub.SubmittedAt = fromMillis(submittedAt)
		out = append(out, sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (domain.Attempt, error) {
	var (
		a               domain.Attempt
		status          string
		startedAt       int64
		endedAt         sql.NullInt64
		position, order string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.GroupID, &a.ConfigVersion, &startedAt, &endedAt, &status, &position, &order)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	if err := json.Unmarshal([]byte(position), &a.Position); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal position: %w", err)
	}
	if err := json.Unmarshal([]byte(order), &a.Order); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal order: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	a.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		a.EndedAt = &t
	}
	return a, nil
}

func encodeAttempt(a domain.Attempt) (string, string, error) {
	position, err := json.Marshal(a.Position)
	if err != nil {
		return "", "", fmt.Errorf("marshal position: %w", err)
	}
	order, err := json.Marshal(a.Order)
	if err != nil {
		return "", "", fmt.Errorf("marshal order: %w", err)
	}
	return string(position), string(order), nil
}

func endedMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func isConstraint(err error, code int) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == code
}
