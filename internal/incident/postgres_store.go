package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
)

// PostgresStore persists incidents in the anomaly_incidents table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed incident store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, inc *Incident) error {
	details, err := json.Marshal(inc.Details)
	if err != nil {
		return fmt.Errorf("encode incident details: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO anomaly_incidents (
			id, session_id, student_id, incident_type, severity,
			description, severity_score, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inc.ID, inc.SessionID, inc.StudentID, inc.Type, string(inc.Severity),
		inc.Description, inc.SeverityScore, details, inc.CreatedAt,
	)
	return err
}

func (p *PostgresStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomaly_incidents WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int, after *pagination.Cursor) ([]*Incident, error) {
	const cols = `id, session_id, student_id, incident_type, severity,
		description, severity_score, details, created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+cols+` FROM anomaly_incidents
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, sessionID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+cols+` FROM anomaly_incidents
			WHERE session_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, sessionID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Incident
	for rows.Next() {
		inc := &Incident{}
		var (
			severity string
			details  []byte
		)
		if err := rows.Scan(&inc.ID, &inc.SessionID, &inc.StudentID, &inc.Type, &severity,
			&inc.Description, &inc.SeverityScore, &details, &inc.CreatedAt); err != nil {
			return nil, err
		}
		inc.Severity = Severity(severity)
		if err := json.Unmarshal(details, &inc.Details); err != nil {
			return nil, fmt.Errorf("decode incident %s details: %w", inc.ID, err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
