package scoring

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
)

// Output conventions a descriptor can declare.
const (
	OutputProbability = "probability"
	OutputMargin      = "margin"
)

// Descriptor describes an exported classifier. Linear models carry their
// coefficients inline; remote models point at a scoring endpoint.
//
//	name: keystroke-logreg
//	modality: keystroke
//	output: probability
//	features: [mean_du_key1_key1, ...]
//	weights: [0.8, ...]
//	intercept: -1.2
type Descriptor struct {
	Name      string            `yaml:"name"`
	Modality  features.Modality `yaml:"modality"`
	Output    string            `yaml:"output"`
	Features  []string          `yaml:"features"`
	Weights   []float64         `yaml:"weights"`
	Intercept float64           `yaml:"intercept"`
	Endpoint  string            `yaml:"endpoint"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// LoadDescriptor reads a YAML model descriptor from path.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied model path
	if err != nil {
		return nil, fmt.Errorf("read model descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse model descriptor %s: %w", path, err)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("model descriptor %s: %w", path, err)
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	if d.Output != OutputProbability && d.Output != OutputMargin {
		return fmt.Errorf("output must be %q or %q, got %q", OutputProbability, OutputMargin, d.Output)
	}
	if len(d.Features) == 0 {
		return fmt.Errorf("features must not be empty")
	}
	if d.Endpoint == "" && len(d.Weights) != len(d.Features) {
		return fmt.Errorf("got %d weights for %d features", len(d.Weights), len(d.Features))
	}
	return nil
}

// CheckSchema verifies the model was trained on exactly names, in order.
func (d *Descriptor) CheckSchema(names []string) error {
	if len(d.Features) != len(names) {
		return fmt.Errorf("%w: model %s expects %d features, pipeline produces %d",
			ErrSchemaMismatch, d.Name, len(d.Features), len(names))
	}
	for i := range names {
		if d.Features[i] != names[i] {
			return fmt.Errorf("%w: model %s feature %d is %q, pipeline produces %q",
				ErrSchemaMismatch, d.Name, i, d.Features[i], names[i])
		}
	}
	return nil
}

// LinearModel is an exported linear classifier (logistic regression or a
// linear SVM). It satisfies both ProbabilityModel and MarginModel; the
// descriptor's output field decides which adapter wraps it.
type LinearModel struct {
	Weights   []float64
	Intercept float64
}

// InputDim implements ProbabilityModel and MarginModel.
func (m *LinearModel) InputDim() int { return len(m.Weights) }

// DecisionMargin returns w·x + b.
func (m *LinearModel) DecisionMargin(_ context.Context, x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, len(x), len(m.Weights))
	}
	margin := m.Intercept
	for i, w := range m.Weights {
		margin += w * x[i]
	}
	return margin, nil
}

// PredictProbability returns the logistic of the margin.
func (m *LinearModel) PredictProbability(ctx context.Context, x []float64) (float64, error) {
	margin, err := m.DecisionMargin(ctx, x)
	if err != nil {
		return 0, err
	}
	return stats.Sigmoid(margin), nil
}

// NewScorer builds the scorer a descriptor declares. Remote descriptors are
// wired through the given RemoteOptions.
func NewScorer(d *Descriptor, opts RemoteOptions) (Scorer, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	var prob ProbabilityModel
	var margin MarginModel
	if d.Endpoint != "" {
		rm, err := NewRemoteModel(d.Name, d.Endpoint, len(d.Features), opts.withTimeout(d.Timeout))
		if err != nil {
			return nil, err
		}
		prob, margin = rm, rm
	} else {
		lm := &LinearModel{Weights: d.Weights, Intercept: d.Intercept}
		prob, margin = lm, lm
	}

	if d.Output == OutputMargin {
		return NewMarginScorer(margin), nil
	}
	return NewProbabilityScorer(prob), nil
}
