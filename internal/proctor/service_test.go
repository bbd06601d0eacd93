package proctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/fusion"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/profile"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/realtime"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/session"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
)

// constantScorer returns a linear-model scorer whose output is p for any
// input of the given dimension.
func constantScorer(p float64, dim int) scoring.Scorer {
	return scoring.NewProbabilityScorer(&scoring.LinearModel{
		Weights:   make([]float64, dim),
		Intercept: math.Log(p / (1 - p)),
	})
}

func constantPair(keystroke, mouse float64) *scoring.Pair {
	return &scoring.Pair{
		Keystroke: constantScorer(keystroke, 11),
		Mouse:     constantScorer(mouse, 4),
	}
}

type staticProfile struct{ p *profile.Profile }

func (s staticProfile) Current() *profile.Profile { return s.p }

func loadProfile(t *testing.T, body string) *profile.Profile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	w, err := profile.Load(path, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w.Current()
}

type recordingPublisher struct {
	mu        sync.Mutex
	incidents []*incident.Incident
	analyses  []realtime.AnalysisSummary
}

func (r *recordingPublisher) PublishIncident(inc *incident.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
}

func (r *recordingPublisher) PublishAnalysis(_, _ string, _ incident.Severity, s realtime.AnalysisSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, s)
}

type fixture struct {
	svc       *Service
	store     *calibration.MemoryStore
	incidents *incident.MemoryStore
	history   *session.Registry
	pub       *recordingPublisher
}

func newFixture(t *testing.T, models *scoring.Pair, prof *profile.Profile) *fixture {
	t.Helper()
	if prof == nil {
		prof = profile.Default()
	}
	f := &fixture{
		store:     calibration.NewMemoryStore(),
		incidents: incident.NewMemoryStore(),
		history:   session.NewRegistry(session.Options{}),
		pub:       &recordingPublisher{},
	}
	f.svc = NewService(f.store, incident.NewLogger(f.incidents, incident.LoggerOptions{}),
		models, staticProfile{prof}, f.history).WithPublisher(f.pub)
	return f
}

func ptr(v float64) *float64 { return &v }

// typing produces n keystrokes (down and up) starting at start. Timings
// are exact in binary so repeated streams yield identical features.
func typing(n int, start float64) []events.RawEvent {
	var evs []events.RawEvent
	for i := 0; i < n; i++ {
		key := string(rune('a' + i%26))
		down := start + float64(i)*0.25
		evs = append(evs,
			events.RawEvent{Type: events.KeyDown, Key: key, Timestamp: down, HasTimestamp: true},
			events.RawEvent{Type: events.KeyUp, Key: key, Timestamp: down + 0.125, HasTimestamp: true},
		)
	}
	return evs
}

// pointer produces n mouse moves plus one paste, all on the active tab.
func pointer(n int, start float64) []events.RawEvent {
	var evs []events.RawEvent
	for i := 0; i < n; i++ {
		evs = append(evs, events.RawEvent{
			Type: events.Move, Timestamp: start + float64(i)*0.125, HasTimestamp: true,
			X: ptr(float64(10 * i)), Y: ptr(20), TabState: events.TabActive,
		})
	}
	return append(evs, events.RawEvent{Type: events.Paste, Timestamp: start + float64(n)*0.125, HasTimestamp: true, TabState: events.TabActive})
}

func segments(n int) []baseline.Segment {
	segs := make([]baseline.Segment, n)
	for i := range segs {
		segs[i] = baseline.Segment{Keystroke: typing(20, 0), Mouse: pointer(15, 0)}
	}
	return segs
}

func calibrationRequest(studentID string, segs []baseline.Segment) CalibrationRequest {
	return CalibrationRequest{
		StudentID:            studentID,
		CalibrationSessionID: uuid.NewString(),
		CourseName:           "Algorithms",
		Segments:             segs,
	}
}

func TestSaveBaseline_FewSegmentsFallBack(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	student := uuid.NewString()

	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(student, segments(3)))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, threshold.Fallback, res.Threshold)
	assert.Equal(t, threshold.MethodFallback, res.Method)
	assert.Equal(t, 3, res.SegmentCount)

	row, err := f.store.LatestThreshold(context.Background(), student)
	require.NoError(t, err)
	assert.Equal(t, 0.7, row.Threshold)
	assert.True(t, row.Details.Fallback)

	sess, err := f.store.GetSession(context.Background(), row.CalibrationSessionID)
	require.NoError(t, err)
	assert.Equal(t, calibration.StatusCompleted, sess.Status)
}

func TestSaveBaseline_SingleLogIsOneSegment(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	req := CalibrationRequest{
		StudentID:            uuid.NewString(),
		CalibrationSessionID: uuid.NewString(),
		KeystrokeEvents:      typing(30, 0),
		MouseEvents:          pointer(20, 0),
	}
	res, err := f.svc.SaveBaseline(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SegmentCount)
	assert.True(t, res.Fallback)
}

func TestSaveBaseline_MomentThreshold(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)

	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(uuid.NewString(), segments(6)))
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, threshold.MethodMoment, res.Method)
	// Identical segments: mean 0.5, std 0.
	assert.InDelta(t, 0.5, res.Threshold, 1e-9)
	assert.InDelta(t, 0.5, res.FusionMean, 1e-9)
	assert.Equal(t, 6, res.SampleCount)
	assert.Equal(t, QualityFair, res.BaselineQuality)
}

func TestSaveBaseline_GoodQuality(t *testing.T) {
	f := newFixture(t, constantPair(0.1, 0.2), nil)
	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(uuid.NewString(), segments(5)))
	require.NoError(t, err)
	assert.Equal(t, QualityGood, res.BaselineQuality)
	assert.InDelta(t, 0.1, res.KeystrokeMeanScore, 1e-9)
	assert.InDelta(t, 0.2, res.MouseMeanScore, 1e-9)
	// clamp(0.15 + 0, 0.35, 0.85)
	assert.InDelta(t, 0.35, res.Threshold, 1e-9)
}

func TestSaveBaseline_Percentile(t *testing.T) {
	prof := loadProfile(t, "threshold:\n  method: percentile\n  percentile: 98\n")
	f := newFixture(t, constantPair(0.4, 0.6), prof)

	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(uuid.NewString(), segments(5)))
	require.NoError(t, err)
	assert.Equal(t, threshold.MethodPercentile, res.Method)
	assert.InDelta(t, 0.5, res.Threshold, 1e-9)
}

func TestSaveBaseline_Recalibration(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	ctx := context.Background()
	student := uuid.NewString()

	sess, err := f.svc.StartCalibration(ctx, StartRequest{StudentID: student, CourseName: "Databases"})
	require.NoError(t, err)
	assert.Equal(t, calibration.StatusInProgress, sess.Status)

	req := calibrationRequest(student, segments(3))
	req.CalibrationSessionID = sess.ID
	_, err = f.svc.SaveBaseline(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.SaveBaseline(ctx, req)
	assert.ErrorIs(t, err, calibration.ErrSessionCompleted)

	// A new session appends a new ledger row; the newest one wins.
	_, err = f.svc.SaveBaseline(ctx, calibrationRequest(student, segments(6)))
	require.NoError(t, err)
	rows, err := f.svc.ThresholdHistory(ctx, student, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	latest, err := f.svc.Threshold(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, latest.ID)
	assert.InDelta(t, 0.5, latest.Threshold, 1e-9)
}

func TestSaveBaseline_Rejections(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, constantPair(0.5, 0.5), nil)
	_, err := f.svc.SaveBaseline(ctx, CalibrationRequest{StudentID: "stu-1", CalibrationSessionID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.SaveBaseline(ctx, CalibrationRequest{StudentID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	sess, err := f.svc.StartCalibration(ctx, StartRequest{StudentID: uuid.NewString()})
	require.NoError(t, err)
	req := calibrationRequest(uuid.NewString(), segments(3))
	req.CalibrationSessionID = sess.ID
	_, err = f.svc.SaveBaseline(ctx, req)
	assert.ErrorIs(t, err, ErrStudentMismatch)

	noModels := newFixture(t, &scoring.Pair{}, nil)
	_, err = noModels.svc.SaveBaseline(ctx, calibrationRequest(uuid.NewString(), segments(3)))
	assert.ErrorIs(t, err, scoring.ErrModelUnavailable)
}

// calibrate stores a baseline built from the standard segments with the
// given threshold, bypassing classifier scoring.
func calibrate(t *testing.T, f *fixture, student string, thr float64) {
	t.Helper()
	b := baseline.NewCalibrator().Calibrate(context.Background(), segments(5))
	require.NoError(t, f.store.AppendThreshold(context.Background(), &calibration.PersonalThreshold{
		ID:                   uuid.NewString(),
		StudentID:            student,
		CalibrationSessionID: uuid.NewString(),
		Threshold:            thr,
		Method:               threshold.MethodMoment,
		BaselineStats:        b.ToRecord(thr),
	}))
}

func poll(student, sessionID string) PollRequest {
	return PollRequest{
		StudentID:     student,
		ExamSessionID: sessionID,
		KeyEvents:     typing(20, 100),
		MouseEvents:   pointer(15, 100),
		EndTimestamp:  105,
	}
}

func TestAnalyze_NoBaseline(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	a, err := f.svc.Analyze(context.Background(), poll(uuid.NewString(), uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, StatusNoBaseline, a.Status)
	assert.Nil(t, a.Result)
}

func TestAnalyze_GatheringData(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	student := uuid.NewString()
	calibrate(t, f, student, 0.7)

	req := poll(student, uuid.NewString())
	req.KeyEvents = typing(2, 0) // four events
	a, err := f.svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusGatheringData, a.Status)
	assert.Zero(t, a.RiskScore)
	assert.Contains(t, a.Message, "4/5")
	assert.Zero(t, f.history.Len())
}

func TestAnalyze_AnomalyLogsIncident(t *testing.T) {
	f := newFixture(t, constantPair(0.9, 0.9), nil)
	at := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return at }
	student, sessionID := uuid.NewString(), uuid.NewString()
	calibrate(t, f, student, 0.7)

	a, err := f.svc.Analyze(context.Background(), poll(student, sessionID))
	require.NoError(t, err)
	require.Equal(t, StatusAnalyzed, a.Status)

	r := a.Result
	assert.InDelta(t, 0.9, r.FusionRiskScore, 1e-9)
	assert.False(t, r.Boosted)
	assert.True(t, r.ThresholdExceeded)
	assert.Equal(t, incident.LevelAnomalous, r.Level)
	assert.Equal(t, incident.SeverityHigh, r.Severity)
	assert.True(t, r.IncidentLogged)
	assert.Equal(t, 1, r.IncidentCount)
	assert.True(t, r.DataQuality.SufficientData)
	assert.InDelta(t, 0, r.AvgKeystrokeDeviation, 1e-9)

	stored, err := f.incidents.ListBySession(context.Background(), sessionID, 10, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, incident.TypeBehavioralAnomaly, stored[0].Type)
	assert.Equal(t, "Fusion risk score of 0.90 recorded.", stored[0].Description)
	assert.InDelta(t, 0.2, stored[0].Details.ExceededBy, 1e-9)
	assert.Equal(t, 105.0, stored[0].Details.Timestamp)
	assert.Equal(t, at, stored[0].CreatedAt)

	assert.Len(t, f.pub.incidents, 1)
	assert.Len(t, f.pub.analyses, 1)

	// Every poll is classified on its own and logs its own incident.
	a, err = f.svc.Analyze(context.Background(), poll(student, sessionID))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Result.IncidentCount)
}

func TestAnalyze_NormalAndSuspicious(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		score float64
		level incident.Level
	}{
		{0.2, incident.LevelNormal},
		{0.67, incident.LevelSuspicious},
		{0.75, incident.LevelAnomalous},
	} {
		t.Run(fmt.Sprint(tt.score), func(t *testing.T) {
			f := newFixture(t, constantPair(tt.score, tt.score), nil)
			student := uuid.NewString()
			calibrate(t, f, student, 0.7)

			a, err := f.svc.Analyze(ctx, poll(student, uuid.NewString()))
			require.NoError(t, err)
			assert.Equal(t, tt.level, a.Result.Level)
			assert.Equal(t, tt.level == incident.LevelAnomalous, a.Result.IncidentLogged)
		})
	}
}

func TestAnalyze_DeviationBoost(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)
	student := uuid.NewString()
	calibrate(t, f, student, 0.7)

	// Typing at a quarter of the calibrated pace puts every latency far
	// above the baseline mean.
	req := poll(student, uuid.NewString())
	req.KeyEvents = nil
	for i := 0; i < 20; i++ {
		down := 100 + float64(i)
		req.KeyEvents = append(req.KeyEvents,
			events.RawEvent{Type: events.KeyDown, Key: "k", Timestamp: down, HasTimestamp: true},
			events.RawEvent{Type: events.KeyUp, Key: "k", Timestamp: down + 0.5, HasTimestamp: true},
		)
	}
	a, err := f.svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, a.Result.AvgKeystrokeDeviation, 1.0)
	assert.True(t, a.Result.Boosted)
	assert.InDelta(t, 0.7, a.Result.FusionRiskScore, 1e-9)
	assert.True(t, a.Result.ThresholdExceeded)
}

func TestAnalyze_HybridUsesHistory(t *testing.T) {
	prof := loadProfile(t, "fusion:\n  scheme: hybrid\nboost:\n  enabled: false\n")
	f := newFixture(t, constantPair(0.4, 0.6), prof)
	student, sessionID := uuid.NewString(), uuid.NewString()
	calibrate(t, f, student, 0.7)

	for i := 0; i < 3; i++ {
		a, err := f.svc.Analyze(context.Background(), poll(student, sessionID))
		require.NoError(t, err)
		c := a.Result.Components
		assert.InDelta(t, 0.4, c[fusion.KeystrokeRT], 1e-9)
		assert.InDelta(t, 0.6, c[fusion.MouseLT], 1e-9)
		assert.InDelta(t, 0, c[fusion.Deviation], 1e-9)
		// 0.3*0.4 + 0.15*0.4 + 0.3*0.6 + 0.15*0.6
		assert.InDelta(t, 0.45, a.Result.FusionRiskScore, 1e-9)
		assert.InDelta(t, 0.4, a.Result.KeystrokeScore, 1e-9)
	}
	assert.Equal(t, 1, f.history.Len())
}

func TestAnalyze_Errors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, &scoring.Pair{}, nil)
	student := uuid.NewString()
	calibrate(t, f, student, 0.7)
	_, err := f.svc.Analyze(ctx, poll(student, uuid.NewString()))
	assert.ErrorIs(t, err, scoring.ErrModelUnavailable)

	_, err = f.svc.Analyze(ctx, poll("not-a-uuid", uuid.NewString()))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.Analyze(ctx, poll(student, ""))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIncidentsPaging(t *testing.T) {
	f := newFixture(t, constantPair(0.95, 0.95), nil)
	ctx := context.Background()
	student, sessionID := uuid.NewString(), uuid.NewString()
	calibrate(t, f, student, 0.7)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Analyze(ctx, poll(student, sessionID))
		require.NoError(t, err)
	}

	page, err := f.svc.Incidents(ctx, sessionID, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	rest, err := f.svc.Incidents(ctx, sessionID, 2, page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
	assert.False(t, rest.HasMore)

	_, err = f.svc.Incidents(ctx, sessionID, 2, "!!")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// recordingScorer keeps every input it was asked to score.
type recordingScorer struct {
	scoring.Scorer
	mu     sync.Mutex
	inputs [][]float64
}

func (r *recordingScorer) Score(ctx context.Context, x []float64) (float64, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, append([]float64(nil), x...))
	r.mu.Unlock()
	return r.Scorer.Score(ctx, x)
}

func (r *recordingScorer) recorded() [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs
}

func TestAnalyze_MouseBelowFloorScoresZeroVector(t *testing.T) {
	mouse := &recordingScorer{Scorer: constantScorer(0.5, 4)}
	f := newFixture(t, &scoring.Pair{Keystroke: constantScorer(0.5, 11), Mouse: mouse}, nil)
	student := uuid.NewString()
	calibrate(t, f, student, 0.7)

	req := poll(student, uuid.NewString())
	req.MouseEvents = pointer(0, 100) // a single paste
	a, err := f.svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusAnalyzed, a.Status)

	require.Len(t, mouse.recorded(), 1)
	assert.Equal(t, []float64{0, 0, 0, 0}, mouse.recorded()[0])
	assert.Zero(t, a.Result.AvgMouseDeviation)
	assert.False(t, a.Result.Boosted)
	assert.InDelta(t, 0.5, a.Result.FusionRiskScore, 1e-9)
	assert.Equal(t, 1, a.Result.DataQuality.MouseEvents)
	assert.False(t, a.Result.DataQuality.SufficientData)
}

func TestSaveBaseline_KeystrokeOnlySegmentCarriesNoMouseSignal(t *testing.T) {
	mouse := &recordingScorer{Scorer: constantScorer(0.5, 4)}
	f := newFixture(t, &scoring.Pair{Keystroke: constantScorer(0.5, 11), Mouse: mouse}, nil)

	segs := segments(6)
	segs[5].Mouse = nil
	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(uuid.NewString(), segs))
	require.NoError(t, err)

	assert.Equal(t, 6, res.SampleCount)
	assert.Equal(t, 6, res.SegmentCount)
	// No boost on the keystroke-only segment keeps every fused score at 0.5.
	assert.InDelta(t, 0.5, res.FusionMean, 1e-9)
	assert.InDelta(t, 0, res.FusionStd, 1e-9)

	inputs := mouse.recorded()
	require.Len(t, inputs, 6)
	for _, in := range inputs {
		assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, in, 1e-9)
	}
	assert.Equal(t, []float64{0, 0, 0, 0}, inputs[5])
}

func TestSaveBaseline_KeystrokeOnlyCalibration(t *testing.T) {
	f := newFixture(t, constantPair(0.5, 0.5), nil)

	segs := segments(5)
	for i := range segs {
		segs[i].Mouse = nil
	}
	res, err := f.svc.SaveBaseline(context.Background(), calibrationRequest(uuid.NewString(), segs))
	require.NoError(t, err)
	assert.Equal(t, 5, res.SegmentCount)
	assert.False(t, res.Fallback)
	assert.InDelta(t, 0.5, res.Threshold, 1e-9)
}
