package scoring

import (
	"fmt"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
)

// Load builds the scorer pair from two descriptor files and checks each
// model against the input schema of layout. An empty path leaves that
// scorer unloaded; scoring then fails with ErrModelUnavailable.
func Load(keystrokePath, mousePath string, layout features.Layout, opts RemoteOptions) (*Pair, error) {
	p := &Pair{}
	for _, slot := range []struct {
		modality features.Modality
		path     string
		dst      *Scorer
	}{
		{features.Keystroke, keystrokePath, &p.Keystroke},
		{features.Mouse, mousePath, &p.Mouse},
	} {
		if slot.path == "" {
			continue
		}
		d, err := LoadDescriptor(slot.path)
		if err != nil {
			return nil, err
		}
		if d.Modality != "" && d.Modality != slot.modality {
			return nil, fmt.Errorf("model %s is a %s model, configured as %s", d.Name, d.Modality, slot.modality)
		}
		if err := d.CheckSchema(features.InputNames(layout, slot.modality)); err != nil {
			return nil, err
		}
		s, err := NewScorer(d, opts)
		if err != nil {
			return nil, err
		}
		*slot.dst = s
	}
	return p, nil
}

// CheckLayout verifies a loaded pair accepts the input dimensions of layout.
func (p *Pair) CheckLayout(layout features.Layout) error {
	for _, m := range []features.Modality{features.Keystroke, features.Mouse} {
		s := p.For(m)
		if s == nil {
			continue
		}
		if want := len(features.InputNames(layout, m)); s.InputDim() != want {
			return fmt.Errorf("%w: %s model takes %d inputs, layout %s produces %d",
				ErrSchemaMismatch, m, s.InputDim(), layout, want)
		}
	}
	return nil
}
