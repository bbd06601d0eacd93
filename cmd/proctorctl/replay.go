package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/proctor"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/session"
)

// replayLog is a calibration followed by the polls of one exam session.
type replayLog struct {
	Calibration proctor.CalibrationRequest `json:"calibration"`
	Polls       []proctor.PollRequest      `json:"polls"`
}

// replayTarget is the calibration and poll surface shared by the
// in-process service and a remote server.
type replayTarget interface {
	StartCalibration(ctx context.Context, req proctor.StartRequest) (*calibration.Session, error)
	SaveBaseline(ctx context.Context, req proctor.CalibrationRequest) (*proctor.CalibrationResult, error)
	Analyze(ctx context.Context, req proctor.PollRequest) (*proctor.Analysis, error)
}

type replayReport struct {
	Calibration *proctor.CalibrationResult `json:"calibration"`
	Analyses    []*proctor.Analysis        `json:"analyses"`
	Incidents   int                        `json:"incidents"`
}

func newReplayCmd() *cobra.Command {
	var (
		flags pipelineFlags
		input string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Calibrate a baseline and score exam polls from a recorded log",
		Long: `Replay reads {"calibration": {...}, "polls": [...]} where calibration has
the body of POST /v1/calibration/baseline and each poll the body of
POST /v1/exam/analyze. Missing student and session ids are generated.
Everything runs in memory with the same scoring as the server.`,
		Example: `  proctorctl replay -k models/keystroke.yaml -m models/mouse.yaml -i exam.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			rec, err := parseReplayLog(data)
			if err != nil {
				return err
			}

			logger := stderrLogger(cmd)
			profiles, models, err := flags.load(logger)
			if err != nil {
				return err
			}
			if !models.Loaded() {
				return fmt.Errorf("replay needs both --keystroke-model and --mouse-model")
			}

			incidents := incident.NewLogger(incident.NewMemoryStore(), incident.LoggerOptions{})
			svc := proctor.NewService(calibration.NewMemoryStore(), incidents, models, profiles,
				session.NewRegistry(session.Options{}))

			ctx := logging.WithLogger(context.Background(), logger)
			report, err := replay(ctx, svc, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "-", "replay log JSON file (- for stdin)")
	return cmd
}

func replay(ctx context.Context, svc replayTarget, rec *replayLog) (*replayReport, error) {
	cal := rec.Calibration
	if cal.StudentID == "" {
		cal.StudentID = uuid.NewString()
	}
	sess, err := svc.StartCalibration(ctx, proctor.StartRequest{StudentID: cal.StudentID, CourseName: cal.CourseName})
	if err != nil {
		return nil, err
	}
	cal.CalibrationSessionID = sess.ID

	report := &replayReport{}
	if report.Calibration, err = svc.SaveBaseline(ctx, cal); err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}

	examID := uuid.NewString()
	for i, poll := range rec.Polls {
		poll.StudentID = cal.StudentID
		if poll.ExamSessionID == "" {
			poll.ExamSessionID = examID
		}
		a, err := svc.Analyze(ctx, poll)
		if err != nil {
			return nil, fmt.Errorf("poll %d: %w", i, err)
		}
		report.Analyses = append(report.Analyses, a)
		if a.Result != nil {
			report.Incidents = a.Result.IncidentCount
		}
	}
	return report, nil
}

func parseReplayLog(data []byte) (*replayLog, error) {
	var rec replayLog
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse replay log: %w", err)
	}
	return &rec, nil
}
