// Package proctor orchestrates the scoring pipeline: calibration turns a
// student's calibration log into a baseline and personal threshold, and
// analysis scores each exam poll against them.
package proctor

import (
	"errors"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
)

var (
	// ErrInvalidRequest wraps every client input error.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStudentMismatch means a calibration session belongs to another student.
	ErrStudentMismatch = errors.New("calibration session belongs to another student")
)

// Status is the outcome class of an exam poll.
type Status string

const (
	StatusNoBaseline    Status = "no_baseline"
	StatusGatheringData Status = "gathering_data"
	StatusAnalyzed      Status = "analyzed"
)

// Baseline quality labels reported after calibration.
const (
	QualityGood = "good"
	QualityFair = "fair"

	goodQualityBelow = 0.3
)

// StartRequest opens a calibration session.
type StartRequest struct {
	StudentID  string `json:"student_id"`
	CourseName string `json:"course_name"`
}

// CalibrationRequest carries a student's calibration log. When Segments is
// empty the top-level event lists form a single segment.
type CalibrationRequest struct {
	StudentID            string             `json:"student_id"`
	CalibrationSessionID string             `json:"calibration_session_id"`
	CourseName           string             `json:"course_name"`
	KeystrokeEvents      []events.RawEvent  `json:"keystroke_events"`
	MouseEvents          []events.RawEvent  `json:"mouse_events"`
	Segments             []baseline.Segment `json:"segments,omitempty"`
}

// CalibrationResult summarizes a saved baseline.
type CalibrationResult struct {
	ThresholdID          string           `json:"threshold_id"`
	CalibrationSessionID string           `json:"calibration_session_id"`
	Threshold            float64          `json:"threshold"`
	Method               threshold.Method `json:"method"`
	Fallback             bool             `json:"fallback"`
	FusionMean           float64          `json:"fusion_mean"`
	FusionStd            float64          `json:"fusion_std"`
	SampleCount          int              `json:"sample_count"`
	SegmentCount         int              `json:"segment_count"`
	KeystrokeMeanScore   float64          `json:"keystroke_mean_score"`
	MouseMeanScore       float64          `json:"mouse_mean_score"`
	BaselineQuality      string           `json:"baseline_quality"`
}

// PollRequest is one exam-phase poll of captured events.
type PollRequest struct {
	StudentID     string            `json:"student_id"`
	ExamSessionID string            `json:"exam_session_id"`
	KeyEvents     []events.RawEvent `json:"key_events"`
	MouseEvents   []events.RawEvent `json:"mouse_events"`
	EndTimestamp  float64           `json:"end_timestamp"`
}

// DataQuality reports how much input a poll carried.
type DataQuality struct {
	KeystrokeEvents int  `json:"keystroke_events"`
	MouseEvents     int  `json:"mouse_events"`
	SufficientData  bool `json:"sufficient_data"`
}

// Result is the scored outcome of an analyzed poll.
type Result struct {
	KeystrokeScore        float64            `json:"keystroke_score"`
	MouseScore            float64            `json:"mouse_score"`
	FusionRiskScore       float64            `json:"fusion_risk_score"`
	PersonalizedThreshold float64            `json:"personalized_threshold"`
	ThresholdExceeded     bool               `json:"threshold_exceeded"`
	Level                 incident.Level     `json:"level"`
	Severity              incident.Severity  `json:"severity"`
	Boosted               bool               `json:"boosted"`
	Components            map[string]float64 `json:"components"`
	IncidentLogged        bool               `json:"incident_logged"`
	IncidentID            string             `json:"incident_id,omitempty"`
	IncidentCount         int                `json:"cheating_incident_count"`
	AvgKeystrokeDeviation float64            `json:"avg_keystroke_deviation"`
	AvgMouseDeviation     float64            `json:"avg_mouse_deviation"`
	DataQuality           DataQuality        `json:"data_quality"`
}

// Analysis is the response to a poll. Result is nil unless Status is
// StatusAnalyzed.
type Analysis struct {
	Status    Status  `json:"status"`
	RiskScore float64 `json:"risk_score"`
	Message   string  `json:"message,omitempty"`
	Result    *Result `json:"analysis"`
}
