package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/profile"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
)

// pipelineFlags select the models and scoring profile shared by the
// subcommands that score.
type pipelineFlags struct {
	keystrokeModel string
	mouseModel     string
	profilePath    string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.keystrokeModel, "keystroke-model", "k", "", "keystroke model descriptor (YAML)")
	cmd.Flags().StringVarP(&f.mouseModel, "mouse-model", "m", "", "mouse model descriptor (YAML)")
	cmd.Flags().StringVarP(&f.profilePath, "profile", "p", "", "scoring profile (YAML); built-in default when empty")
}

func (f *pipelineFlags) load(logger *slog.Logger) (*profile.Watcher, *scoring.Pair, error) {
	profiles, err := profile.Load(f.profilePath, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	models, err := scoring.Load(f.keystrokeModel, f.mouseModel, profiles.Current().FeatureLayout(), scoring.RemoteOptions{})
	if err != nil {
		return nil, nil, err
	}
	return profiles, models, nil
}

type modelReport struct {
	Loaded bool     `json:"loaded"`
	Kind   string   `json:"kind,omitempty"`
	Inputs int      `json:"inputs,omitempty"`
	Names  []string `json:"expected_features"`
}

func newModelsCmd() *cobra.Command {
	var flags pipelineFlags
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Check model descriptors against the profile's feature layout",
		Example: `  proctorctl models -k models/keystroke.yaml -m models/mouse.yaml -p configs/profile.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, models, err := flags.load(stderrLogger(cmd))
			if err != nil {
				return err
			}
			layout := profiles.Current().FeatureLayout()
			report := map[string]any{"layout": layout}
			for _, m := range []features.Modality{features.Keystroke, features.Mouse} {
				r := modelReport{Names: features.InputNames(layout, m)}
				if s := models.For(m); s != nil {
					r.Loaded = true
					r.Kind = s.Kind()
					r.Inputs = s.InputDim()
				}
				report[string(m)] = r
			}
			report["ready"] = models.Loaded()
			return printJSON(cmd, report)
		},
	}
	flags.register(cmd)
	return cmd
}

func stderrLogger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}
