// Package client is a Go client for the proctoring HTTP API. Exam clients
// and tooling use it to calibrate students and submit exam polls.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/proctor"
)

// Error is an API error response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *Error) Retryable() bool {
	return e.Status == http.StatusTooManyRequests ||
		e.Status == http.StatusServiceUnavailable ||
		e.Status == http.StatusGatewayTimeout
}

// ParseError reads an error body from resp. A body that is not JSON keeps
// the status text as the message.
func ParseError(resp *http.Response) *Error {
	e := &Error{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || json.Unmarshal(body, e) != nil || e.Code == "" {
		e.Code = "http_error"
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// retryAfter returns the Retry-After delay of resp in seconds, or fallback.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// BaselineResponse is returned by SaveBaseline.
type BaselineResponse struct {
	Success     bool                       `json:"success"`
	Calibration *proctor.CalibrationResult `json:"calibration"`
}

// IncidentPage is one page of a session's incidents, newest first.
type IncidentPage struct {
	Incidents  []*incident.Incident `json:"incidents"`
	Count      int                  `json:"count"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

type sessionEnvelope struct {
	Session *calibration.Session `json:"session"`
}

type thresholdEnvelope struct {
	Threshold *calibration.PersonalThreshold `json:"threshold"`
}

type historyEnvelope struct {
	Thresholds []*calibration.PersonalThreshold `json:"thresholds"`
}
