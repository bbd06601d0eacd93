// Package scoring wraps the opaque keystroke and mouse classifiers behind a
// single contract: Score(vector) returns an anomaly likelihood in [0, 1].
//
// A classifier either exposes a calibrated probability (ProbabilityModel) or
// only a signed decision margin (MarginModel). Margins are mapped through the
// logistic function in every phase, so calibration and exam scores are
// always comparable.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

var (
	// ErrModelUnavailable means a classifier is not loaded or cannot be
	// reached. It is fatal for the current request.
	ErrModelUnavailable = errors.New("scoring: model unavailable")
	// ErrSchemaMismatch means the caller passed a vector whose length does
	// not match the model's trained input.
	ErrSchemaMismatch = errors.New("scoring: input length does not match model schema")
)

// ProbabilityModel natively returns P(anomalous | x).
type ProbabilityModel interface {
	PredictProbability(ctx context.Context, x []float64) (float64, error)
	InputDim() int
}

// MarginModel returns a signed decision value; positive means anomalous.
type MarginModel interface {
	DecisionMargin(ctx context.Context, x []float64) (float64, error)
	InputDim() int
}

// Scorer is the uniform contract used by the pipeline.
type Scorer interface {
	Score(ctx context.Context, x []float64) (float64, error)
	InputDim() int
	Kind() string
}

type probabilityScorer struct {
	model ProbabilityModel
}

// NewProbabilityScorer adapts a probability-native classifier.
func NewProbabilityScorer(m ProbabilityModel) Scorer {
	return &probabilityScorer{model: m}
}

func (s *probabilityScorer) Kind() string { return OutputProbability }

func (s *probabilityScorer) InputDim() int {
	if s.model == nil {
		return 0
	}
	return s.model.InputDim()
}

func (s *probabilityScorer) Score(ctx context.Context, x []float64) (float64, error) {
	if s.model == nil {
		return 0, ErrModelUnavailable
	}
	if err := checkDim(x, s.model.InputDim()); err != nil {
		return 0, err
	}
	p, err := s.model.PredictProbability(ctx, x)
	if err != nil {
		return 0, err
	}
	return stats.Clamp(p, 0, 1), nil
}

type marginScorer struct {
	model MarginModel
}

// NewMarginScorer adapts a margin-native classifier via 1/(1+e^-margin).
func NewMarginScorer(m MarginModel) Scorer {
	return &marginScorer{model: m}
}

func (s *marginScorer) Kind() string { return OutputMargin }

func (s *marginScorer) InputDim() int {
	if s.model == nil {
		return 0
	}
	return s.model.InputDim()
}

func (s *marginScorer) Score(ctx context.Context, x []float64) (float64, error) {
	if s.model == nil {
		return 0, ErrModelUnavailable
	}
	if err := checkDim(x, s.model.InputDim()); err != nil {
		return 0, err
	}
	margin, err := s.model.DecisionMargin(ctx, x)
	if err != nil {
		return 0, err
	}
	return stats.Sigmoid(margin), nil
}

func checkDim(x []float64, want int) error {
	if len(x) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, len(x), want)
	}
	return nil
}

// Job is one scoring request within a poll.
type Job struct {
	Modality features.Modality
	Input    []float64
}

// Pair holds the keystroke and mouse scorers.
type Pair struct {
	Keystroke Scorer
	Mouse     Scorer
}

// Loaded reports whether both scorers are present.
func (p *Pair) Loaded() bool {
	return p != nil && p.Keystroke != nil && p.Mouse != nil
}

// For returns the scorer of modality m.
func (p *Pair) For(m features.Modality) Scorer {
	if p == nil {
		return nil
	}
	if m == features.Mouse {
		return p.Mouse
	}
	return p.Keystroke
}

// ScoreAll runs jobs concurrently and returns their scores in job order.
// The first failure cancels the remaining calls.
func (p *Pair) ScoreAll(ctx context.Context, jobs []Job) ([]float64, error) {
	if !p.Loaded() {
		return nil, ErrModelUnavailable
	}

	out := make([]float64, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		scorer := p.For(job.Modality)
		g.Go(func() error {
			start := time.Now()
			score, err := scorer.Score(gctx, job.Input)
			metrics.ClassifierDuration.WithLabelValues(string(job.Modality)).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.ClassifierErrorsTotal.WithLabelValues(string(job.Modality)).Inc()
				return fmt.Errorf("score %s: %w", job.Modality, err)
			}
			out[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
