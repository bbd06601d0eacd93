package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/proctor"
	"github.com/Natasha-Nyaga/online-exam-proctoring/pkg/client"
)

// remoteTarget adapts the API client to replayTarget.
type remoteTarget struct {
	c *client.Client
}

func (r remoteTarget) StartCalibration(ctx context.Context, req proctor.StartRequest) (*calibration.Session, error) {
	return r.c.StartCalibration(ctx, req.StudentID, req.CourseName)
}

func (r remoteTarget) SaveBaseline(ctx context.Context, req proctor.CalibrationRequest) (*proctor.CalibrationResult, error) {
	return r.c.SaveBaseline(ctx, req)
}

func (r remoteTarget) Analyze(ctx context.Context, req proctor.PollRequest) (*proctor.Analysis, error) {
	return r.c.Analyze(ctx, req)
}

func newSubmitCmd() *cobra.Command {
	var (
		serverURL string
		input     string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send a replay log to a running proctor server",
		Long: `Submit takes the same input as replay but sends the calibration and
every poll to a server, so the baseline and incidents are stored there.`,
		Example: `  proctorctl submit --server http://localhost:8080 -i exam.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			rec, err := parseReplayLog(data)
			if err != nil {
				return err
			}

			c := client.New(serverURL)
			c.OnRetry = func(attempt int, apiErr *client.Error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "retry %d after %s\n", attempt, apiErr.Code)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			report, err := replay(ctx, remoteTarget{c: c}, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "proctor server base URL")
	cmd.Flags().StringVarP(&input, "input", "i", "-", "replay log JSON file (- for stdin)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}
