package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"experiment-test-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// AttemptStore persists attempts, the append-only event log and form
// submissions. The partial unique index attempts_one_in_progress enforces a
// single in-progress attempt per user and config version.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, user_id, group_id, config_version, started_at, ended_at, status, position, attempt_order`

func (s *AttemptStore) CreateAttempt(ctx context.Context, a domain.Attempt) error {
	position, order, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempts (`+attemptColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)`,
		a.ID, a.UserID, a.GroupID, a.ConfigVersion, a.StartedAt, a.EndedAt, string(a.Status), position, order)
	if pgCode(err) == uniqueViolation {
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE attempts SET ended_at=$2, status=$3, position=$4::jsonb WHERE id=$1`,
		a.ID, a.EndedAt, string(a.Status), position)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	return scanAttempt(row)
}

func (s *AttemptStore) FindInProgress(ctx context.Context, userID string, version int) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id=$1 AND config_version=$2 AND status=$3`,
		userID, version, string(domain.AttemptInProgress))
	return scanAttempt(row)
}

func (s *AttemptStore) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if filter.ConfigVersion != 0 {
		add("config_version", filter.ConfigVersion)
	}
	if filter.GroupID != "" {
		add("group_id", filter.GroupID)
	}
	if filter.UserID != "" {
		add("user_id", filter.UserID)
	}
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
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
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO attempt_events (attempt_id, seq, type, question_id, option_id, kind, ts)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE NOT EXISTS (SELECT 1 FROM attempt_events WHERE attempt_id=$1 AND seq >= $2)`,
		ev.AttemptID, ev.Seq, string(ev.Type), ev.QuestionID, ev.OptionID, string(ev.Kind), ev.Timestamp)
	switch pgCode(err) {
	case foreignKeyViolation:
		return domain.ErrAttemptNotFound
	case uniqueViolation:
		return fmt.Errorf("attempt %s: seq %d already recorded", ev.AttemptID, ev.Seq)
	}
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attempt %s: seq %d does not extend the log", ev.AttemptID, ev.Seq)
	}
	return nil
}

func (s *AttemptStore) Events(ctx context.Context, attemptID string) ([]domain.SessionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.seq, e.type, e.question_id, e.option_id, e.kind, e.ts, a.user_id, a.config_version
		 FROM attempt_events e JOIN attempts a ON a.id = e.attempt_id
		 WHERE e.attempt_id=$1 ORDER BY e.seq`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()
	var out []domain.SessionEvent
	for rows.Next() {
		ev := domain.SessionEvent{AttemptID: attemptID}
		var typ, kind string
		if err := rows.Scan(&ev.Seq, &typ, &ev.QuestionID, &ev.OptionID, &kind, &ev.Timestamp, &ev.UserID, &ev.ConfigVersion); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.SessionEventType(typ)
		ev.Kind = domain.OptionEventKind(kind)
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *AttemptStore) SaveForm(ctx context.Context, sub domain.FormSubmission) error {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO form_submissions (attempt_id, form_type, user_id, config_version, submitted_at, answers)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		sub.AttemptID, string(sub.FormType), sub.UserID, sub.ConfigVersion, sub.SubmittedAt, string(answers))
	switch pgCode(err) {
	case uniqueViolation:
		return domain.ErrFormSubmitted
	case foreignKeyViolation:
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

func (s *AttemptStore) Forms(ctx context.Context, attemptID string) ([]domain.FormSubmission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT form_type, user_id, config_version, submitted_at, answers
		 FROM form_submissions WHERE attempt_id=$1 ORDER BY submitted_at, form_type`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	defer rows.Close()
	var out []domain.FormSubmission
	for rows.Next() {
		sub := domain.FormSubmission{AttemptID: attemptID}
		var (
			formType string
			raw      []byte
		)
		if err := rows.Scan(&formType, &sub.UserID, &sub.ConfigVersion, &sub.SubmittedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		if err := json.Unmarshal(raw, &sub.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		sub.FormType = domain.FormType(formType)
		sub.SubmittedAt = sub.SubmittedAt.UTC()
		out = append(out, sub)
	}
	return out, rows.Err()
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

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a               domain.Attempt
		status          string
		endedAt         *time.Time
		position, order []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.GroupID, &a.ConfigVersion, &a.StartedAt, &endedAt, &status, &position, &order)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	if err := json.Unmarshal(position, &a.Position); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal position: %w", err)
	}
	if err := json.Unmarshal(order, &a.Order); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal order: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	a.StartedAt = a.StartedAt.UTC()
	if endedAt != nil {
		t := endedAt.UTC()
		a.EndedAt = &t
	}
	return a, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
