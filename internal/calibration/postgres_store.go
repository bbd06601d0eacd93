package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
)

// PostgresStore persists sessions in calibration_sessions and the ledger
// in personal_thresholds.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed calibration store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO calibration_sessions (id, student_id, course_name, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.StudentID, s.CourseName, string(s.Status), s.CreatedAt, s.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionExists
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s := &Session{}
	var (
		status      string
		completedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_name, status, created_at, completed_at
		FROM calibration_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.StudentID, &s.CourseName, &status, &s.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = SessionStatus(status)
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return s, nil
}

func (p *PostgresStore) CompleteSession(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE calibration_sessions SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'in_progress'`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Distinguish a missing session from a terminal one.
	if _, err := p.GetSession(ctx, id); err != nil {
		return err
	}
	return ErrSessionCompleted
}

func (p *PostgresStore) AppendThreshold(ctx context.Context, t *PersonalThreshold) error {
	stats, err := json.Marshal(t.BaselineStats)
	if err != nil {
		return fmt.Errorf("encode baseline stats: %w", err)
	}
	details, err := json.Marshal(t.Details)
	if err != nil {
		return fmt.Errorf("encode threshold details: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO personal_thresholds (
			id, student_id, calibration_session_id, fusion_mean, fusion_std,
			threshold, method, sample_count, baseline_stats, details,
			course_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.StudentID, t.CalibrationSessionID, t.FusionMean, t.FusionStd,
		t.Threshold, string(t.Method), t.SampleCount, stats, details,
		t.CourseName, t.CreatedAt,
	)
	return err
}

func (p *PostgresStore) LatestThreshold(ctx context.Context, studentID string) (*PersonalThreshold, error) {
	rows, err := p.ListThresholds(ctx, studentID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (p *PostgresStore) ListThresholds(ctx context.Context, studentID string, limit int) ([]*PersonalThreshold, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, calibration_session_id, fusion_mean, fusion_std,
		       threshold, method, sample_count, baseline_stats, details,
		       course_name, created_at
		FROM personal_thresholds
		WHERE student_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*PersonalThreshold
	for rows.Next() {
		t := &PersonalThreshold{}
		var (
			method         string
			stats, details []byte
		)
		if err := rows.Scan(&t.ID, &t.StudentID, &t.CalibrationSessionID, &t.FusionMean, &t.FusionStd,
			&t.Threshold, &method, &t.SampleCount, &stats, &details,
			&t.CourseName, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Method = threshold.Method(method)
		if err := json.Unmarshal(stats, &t.BaselineStats); err != nil {
			return nil, fmt.Errorf("decode baseline stats of %s: %w", t.ID, err)
		}
		if err := json.Unmarshal(details, &t.Details); err != nil {
			return nil, fmt.Errorf("decode details of %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
