// Package calibration stores calibration sessions and the append-only
// ledger of personal thresholds derived from them.
package calibration

import (
	"context"
	"errors"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
)

var (
	ErrNotFound         = errors.New("calibration: not found")
	ErrSessionCompleted = errors.New("calibration: session already completed")
	ErrSessionExists    = errors.New("calibration: session already exists")
)

// SessionStatus is the lifecycle state of a calibration session.
// Completed is terminal.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Session is one calibration sitting of a student.
type Session struct {
	ID          string        `json:"id"`
	StudentID   string        `json:"student_id"`
	CourseName  string        `json:"course_name"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ThresholdDetails carries calibration diagnostics alongside a threshold.
type ThresholdDetails struct {
	KeystrokeMeanScore float64 `json:"keystroke_mean_score"`
	MouseMeanScore     float64 `json:"mouse_mean_score"`
	SegmentCount       int     `json:"segment_count"`
	Fallback           bool    `json:"fallback"`
	Layout             string  `json:"layout,omitempty"`
}

// PersonalThreshold is one ledger row. Rows are never updated; the newest
// row per student is authoritative.
type PersonalThreshold struct {
	ID                   string           `json:"id"`
	StudentID            string           `json:"student_id"`
	CalibrationSessionID string           `json:"calibration_session_id"`
	FusionMean           float64          `json:"fusion_mean"`
	FusionStd            float64          `json:"fusion_std"`
	Threshold            float64          `json:"threshold"`
	Method               threshold.Method `json:"method"`
	SampleCount          int              `json:"sample_count"`
	BaselineStats        baseline.Record  `json:"baseline_stats"`
	Details              ThresholdDetails `json:"details"`
	CourseName           string           `json:"course_name"`
	CreatedAt            time.Time        `json:"created_at"`
}

// Baseline rebuilds the normalization baseline stored with the row.
func (p *PersonalThreshold) Baseline() *baseline.Baseline {
	return baseline.FromRecord(p.BaselineStats)
}

// Store persists sessions and the threshold ledger.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// CompleteSession marks an in-progress session completed. Completing a
	// completed session returns ErrSessionCompleted.
	CompleteSession(ctx context.Context, id string, at time.Time) error

	AppendThreshold(ctx context.Context, t *PersonalThreshold) error
	// LatestThreshold returns the newest row for studentID or ErrNotFound.
	LatestThreshold(ctx context.Context, studentID string) (*PersonalThreshold, error)
	// ListThresholds returns a student's rows newest first.
	ListThresholds(ctx context.Context, studentID string, limit int) ([]*PersonalThreshold, error)
}
