package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/proctor"
)

// Client wraps http.Client with the proctoring API routes and automatic
// backoff on rate limiting and unavailable dependencies.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// Configuration
	MaxRetries int           // retries after a retryable error (default: 2)
	RetryWait  time.Duration // wait when the server sends no Retry-After (default: 500ms)

	// Hooks
	OnRetry func(attempt int, err *Error) // called before each retry
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		MaxRetries: 2,
		RetryWait:  500 * time.Millisecond,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// do sends a JSON request and decodes a 2xx body into out. Retryable
// errors are retried up to MaxRetries times; other API errors are returned
// as *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode < 300 {
			defer func() { _ = resp.Body.Close() }()
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		apiErr := ParseError(resp)
		wait := retryAfter(resp, c.RetryWait)
		_ = resp.Body.Close()
		if !apiErr.Retryable() || attempt >= c.MaxRetries {
			return apiErr
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt+1, apiErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// StartCalibration opens a calibration session for studentID.
func (c *Client) StartCalibration(ctx context.Context, studentID, courseName string) (*calibration.Session, error) {
	var env sessionEnvelope
	err := c.do(ctx, http.MethodPost, "/v1/calibration/sessions",
		proctor.StartRequest{StudentID: studentID, CourseName: courseName}, &env)
	if err != nil {
		return nil, err
	}
	return env.Session, nil
}

// SaveBaseline submits a calibration log and returns the derived threshold.
func (c *Client) SaveBaseline(ctx context.Context, req proctor.CalibrationRequest) (*proctor.CalibrationResult, error) {
	var resp BaselineResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calibration/baseline", req, &resp); err != nil {
		return nil, err
	}
	return resp.Calibration, nil
}

// Analyze submits one exam poll.
func (c *Client) Analyze(ctx context.Context, req proctor.PollRequest) (*proctor.Analysis, error) {
	var a proctor.Analysis
	if err := c.do(ctx, http.MethodPost, "/v1/exam/analyze", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Threshold returns the student's latest personal threshold.
func (c *Client) Threshold(ctx context.Context, studentID string) (*calibration.PersonalThreshold, error) {
	var env thresholdEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/thresholds/"+url.PathEscape(studentID), nil, &env); err != nil {
		return nil, err
	}
	return env.Threshold, nil
}

// ThresholdHistory returns up to limit thresholds, newest first. A zero
// limit takes the server default.
func (c *Client) ThresholdHistory(ctx context.Context, studentID string, limit int) ([]*calibration.PersonalThreshold, error) {
	path := "/v1/thresholds/" + url.PathEscape(studentID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var env historyEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Thresholds, nil
}

// Incidents returns one page of a session's incidents. Pass the previous
// page's NextCursor to continue.
func (c *Client) Incidents(ctx context.Context, sessionID string, limit int, cursor string) (*IncidentPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/v1/exam/sessions/" + url.PathEscape(sessionID) + "/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page IncidentPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
