package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "proctorctl",
		Short: "Offline tools for the exam proctoring pipeline",
		Long: `proctorctl runs the proctoring pipeline on recorded event logs.

Use it to check model descriptors against a feature layout, to look at the
feature vectors a log produces, and to replay a calibration followed by
exam polls with the same scoring the server uses.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("proctorctl version %s\n", Version))

	root.AddCommand(newFeaturesCmd(), newModelsCmd(), newReplayCmd(), newSubmitCmd())
	return root
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied input
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
