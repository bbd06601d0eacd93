package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/retry"
)

// Remote call defaults.
const (
	DefaultRemoteTimeout   = 2 * time.Second
	DefaultRemoteAttempts  = 3
	DefaultRemoteBaseDelay = 50 * time.Millisecond
	maxRemoteResponse      = 64 << 10
)

// RemoteOptions bounds every call to a model server.
type RemoteOptions struct {
	Client      *http.Client
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	Breaker     *circuitbreaker.Breaker
}

func (o RemoteOptions) withTimeout(d time.Duration) RemoteOptions {
	if d > 0 {
		o.Timeout = d
	}
	return o
}

func (o RemoteOptions) withDefaults() RemoteOptions {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultRemoteTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultRemoteAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultRemoteBaseDelay
	}
	if o.Breaker == nil {
		o.Breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return o
}

// RemoteModel calls a model server that accepts {"features": [...]} and
// answers {"probability": p} and/or {"margin": m}.
type RemoteModel struct {
	name     string
	endpoint string
	dim      int
	opts     RemoteOptions
}

// NewRemoteModel validates endpoint and returns a client for it.
func NewRemoteModel(name, endpoint string, dim int, opts RemoteOptions) (*RemoteModel, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("model %s: endpoint must be an absolute http(s) URL", name)
	}
	return &RemoteModel{
		name:     name,
		endpoint: endpoint,
		dim:      dim,
		opts:     opts.withDefaults(),
	}, nil
}

// InputDim implements ProbabilityModel and MarginModel.
func (m *RemoteModel) InputDim() int { return m.dim }

// PredictProbability implements ProbabilityModel.
func (m *RemoteModel) PredictProbability(ctx context.Context, x []float64) (float64, error) {
	resp, err := m.call(ctx, x)
	if err != nil {
		return 0, err
	}
	if resp.Probability == nil {
		return 0, fmt.Errorf("model %s returned no probability", m.name)
	}
	return *resp.Probability, nil
}

// DecisionMargin implements MarginModel.
func (m *RemoteModel) DecisionMargin(ctx context.Context, x []float64) (float64, error) {
	resp, err := m.call(ctx, x)
	if err != nil {
		return 0, err
	}
	if resp.Margin == nil {
		return 0, fmt.Errorf("model %s returned no margin", m.name)
	}
	return *resp.Margin, nil
}

type remoteRequest struct {
	Features []float64 `json:"features"`
}

type remoteResponse struct {
	Probability *float64 `json:"probability"`
	Margin      *float64 `json:"margin"`
}

func (m *RemoteModel) call(ctx context.Context, x []float64) (remoteResponse, error) {
	if !m.opts.Breaker.Allow(m.name) {
		return remoteResponse{}, fmt.Errorf("%w: circuit open for %s", ErrModelUnavailable, m.name)
	}

	body, err := json.Marshal(remoteRequest{Features: x})
	if err != nil {
		return remoteResponse{}, err
	}

	var out remoteResponse
	err = retry.Do(ctx, m.opts.MaxAttempts, m.opts.BaseDelay, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, m.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.opts.Client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("model server returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return retry.Permanent(fmt.Errorf("model server rejected request: %d", resp.StatusCode))
		}

		out = remoteResponse{}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteResponse)).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("decode model response: %w", err))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return remoteResponse{}, err
		}
		m.opts.Breaker.RecordFailure(m.name)
		return remoteResponse{}, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, m.name, err)
	}

	m.opts.Breaker.RecordSuccess(m.name)
	return out, nil
}
