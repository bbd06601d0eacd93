// Package incident decides whether a fused risk score is anomalous and
// keeps the append-only incident log of each exam session.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/idgen"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
)

// TypeBehavioralAnomaly is the incident type for fusion threshold crossings.
const TypeBehavioralAnomaly = "behavioral_anomaly"

// SuspiciousMargin widens the threshold downward for the suspicious level.
const SuspiciousMargin = 0.05

var ErrNotFound = errors.New("incident: not found")

// Severity buckets a fused score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps a score to high (≥0.8), medium (≥0.6) or low.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Level is the per-poll classification reported to clients.
type Level string

const (
	LevelNormal     Level = "normal"
	LevelSuspicious Level = "suspicious"
	LevelAnomalous  Level = "anomalous"
)

// Decision is the outcome of comparing one poll's score to the threshold.
// Polls are classified independently; nothing carries over between polls.
type Decision struct {
	Anomalous  bool     `json:"anomalous"`
	Level      Level    `json:"level"`
	Severity   Severity `json:"severity"`
	ExceededBy float64  `json:"exceeded_by"`
}

// Decide flags score ≥ threshold as anomalous.
func Decide(score, threshold float64) Decision {
	d := Decision{Severity: SeverityFor(score), Level: LevelNormal}
	switch {
	case score >= threshold:
		d.Anomalous = true
		d.Level = LevelAnomalous
		d.ExceededBy = score - threshold
	case score >= threshold-SuspiciousMargin:
		d.Level = LevelSuspicious
	}
	return d
}

// Details is the evidence recorded with an incident.
type Details struct {
	KeystrokeScore        float64 `json:"keystroke_score"`
	MouseScore            float64 `json:"mouse_score"`
	FusionScore           float64 `json:"fusion_score"`
	Threshold             float64 `json:"threshold"`
	Timestamp             float64 `json:"timestamp"`
	ExceededBy            float64 `json:"exceeded_by"`
	AvgKeystrokeDeviation float64 `json:"avg_keystroke_deviation"`
	AvgMouseDeviation     float64 `json:"avg_mouse_deviation"`
	KeystrokeEventCount   int     `json:"keystroke_event_count"`
	MouseEventCount       int     `json:"mouse_event_count"`
}

// Incident is one row of the incident log.
type Incident struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	StudentID     string    `json:"student_id"`
	Type          string    `json:"incident_type"`
	Severity      Severity  `json:"severity"`
	Description   string    `json:"description"`
	SeverityScore float64   `json:"severity_score"`
	Details       Details   `json:"details"`
	CreatedAt     time.Time `json:"created_at"`
}

// New builds a behavioural anomaly incident from a flagged decision,
// recorded at at.
func New(sessionID, studentID string, d Decision, details Details, at time.Time) *Incident {
	details.ExceededBy = d.ExceededBy
	return &Incident{
		ID:            idgen.New(),
		SessionID:     sessionID,
		StudentID:     studentID,
		Type:          TypeBehavioralAnomaly,
		Severity:      d.Severity,
		Description:   fmt.Sprintf("Fusion risk score of %.2f recorded.", details.FusionScore),
		SeverityScore: details.FusionScore,
		Details:       details,
		CreatedAt:     at.UTC(),
	}
}

// Store persists incidents. List returns a session's incidents newest
// first, strictly after the cursor when one is given, at most limit rows.
type Store interface {
	Create(ctx context.Context, inc *Incident) error
	CountBySession(ctx context.Context, sessionID string) (int, error)
	ListBySession(ctx context.Context, sessionID string, limit int, after *pagination.Cursor) ([]*Incident, error)
}

// before reports whether inc sorts after the cursor in newest-first order.
func before(inc *Incident, c *pagination.Cursor) bool {
	if c == nil {
		return true
	}
	if inc.CreatedAt.Equal(c.CreatedAt) {
		return inc.ID < c.ID
	}
	return inc.CreatedAt.Before(c.CreatedAt)
}
