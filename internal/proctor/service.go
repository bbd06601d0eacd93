package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/baseline"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/events"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/features"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/fusion"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/idgen"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/profile"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/realtime"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/session"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/stats"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/threshold"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/traces"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/validation"
)

// ProfileSource supplies the active scoring profile.
type ProfileSource interface {
	Current() *profile.Profile
}

// Publisher pushes poll outcomes to live subscribers.
type Publisher interface {
	PublishIncident(inc *incident.Incident)
	PublishAnalysis(sessionID, studentID string, severity incident.Severity, summary realtime.AnalysisSummary)
}

// Service implements calibration and exam analysis.
type Service struct {
	store      calibration.Store
	incidents  *incident.Logger
	models     *scoring.Pair
	profiles   ProfileSource
	history    *session.Registry
	calibrator *baseline.Calibrator
	publisher  Publisher
	now        func() time.Time
}

// NewService creates a proctoring service.
func NewService(store calibration.Store, incidents *incident.Logger, models *scoring.Pair, profiles ProfileSource, history *session.Registry) *Service {
	return &Service{
		store:      store,
		incidents:  incidents,
		models:     models,
		profiles:   profiles,
		history:    history,
		calibrator: baseline.NewCalibrator(),
		now:        time.Now,
	}
}

// WithPublisher adds a live feed for incidents and analyses.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// ModelsLoaded reports whether both classifiers are available.
func (s *Service) ModelsLoaded() bool {
	return s.models.Loaded()
}

func invalid(errs validation.ValidationErrors) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, errs.Error())
}

// StartCalibration opens an in-progress calibration session.
func (s *Service) StartCalibration(ctx context.Context, req StartRequest) (*calibration.Session, error) {
	if errs := validation.Validate(
		validation.Required("student_id", req.StudentID),
		validation.UUID("student_id", req.StudentID),
		validation.MaxLength("course_name", req.CourseName, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, invalid(errs)
	}

	sess := &calibration.Session{
		ID:         idgen.New(),
		StudentID:  req.StudentID,
		CourseName: validation.SanitizeString(req.CourseName, validation.MaxStringLength),
		Status:     calibration.StatusInProgress,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create calibration session: %w", err)
	}
	logging.L(ctx).Info("calibration started", "calibration_session_id", sess.ID, "student_id", sess.StudentID)
	return sess, nil
}

// SaveBaseline calibrates a student's baseline from req, derives the
// personal threshold and completes the calibration session. Calibration
// segments are scored exactly as exam polls are, so the threshold and
// later scores share one scale.
func (s *Service) SaveBaseline(ctx context.Context, req CalibrationRequest) (_ *CalibrationResult, retErr error) {
	if errs := validation.Validate(
		validation.Required("student_id", req.StudentID),
		validation.UUID("student_id", req.StudentID),
		validation.Required("calibration_session_id", req.CalibrationSessionID),
		validation.UUID("calibration_session_id", req.CalibrationSessionID),
		validation.MaxLength("course_name", req.CourseName, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, invalid(errs)
	}

	ctx = logging.WithStudent(ctx, req.StudentID, req.CalibrationSessionID)
	ctx, span := traces.StartSpan(ctx, "proctor.SaveBaseline",
		traces.StudentID(req.StudentID),
		traces.SessionID(req.CalibrationSessionID),
	)
	defer func() { traces.End(span, retErr) }()

	if !s.models.Loaded() {
		return nil, scoring.ErrModelUnavailable
	}

	sess, err := s.store.GetSession(ctx, req.CalibrationSessionID)
	switch {
	case errors.Is(err, calibration.ErrNotFound):
		sess = nil
	case err != nil:
		return nil, fmt.Errorf("load calibration session: %w", err)
	case sess.Status == calibration.StatusCompleted:
		return nil, calibration.ErrSessionCompleted
	case sess.StudentID != req.StudentID:
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrStudentMismatch)
	}

	prof := s.profiles.Current()
	segments := req.Segments
	if len(segments) == 0 {
		segments = []baseline.Segment{{Keystroke: req.KeystrokeEvents, Mouse: req.MouseEvents}}
	}
	for i := range segments {
		segments[i].Keystroke = events.Normalize(ctx, segments[i].Keystroke)
		segments[i].Mouse = events.Normalize(ctx, segments[i].Mouse)
	}

	b := s.calibrator.Calibrate(ctx, segments)
	scored, err := s.scoreSegments(ctx, prof, b, segments)
	if err != nil {
		return nil, err
	}

	var res threshold.Result
	if threshold.Method(prof.Threshold.Method) == threshold.MethodPercentile {
		res, err = threshold.Percentile(scored.perKey, prof.Threshold.Percentile, prof.Weights())
	} else {
		res, err = threshold.Moment(scored.fused, prof.Threshold.Moment)
	}
	switch {
	case errors.Is(err, threshold.ErrInsufficientSamples):
		logging.L(ctx).Warn("too few calibration samples, using fallback threshold",
			"samples", res.SampleCount, "threshold", res.Value)
	case err != nil:
		return nil, fmt.Errorf("derive threshold: %w", err)
	}

	kMean, mMean := stats.Mean(scored.keystroke), stats.Mean(scored.mouse)
	row := &calibration.PersonalThreshold{
		ID:                   idgen.New(),
		StudentID:            req.StudentID,
		CalibrationSessionID: req.CalibrationSessionID,
		FusionMean:           res.Mean,
		FusionStd:            res.Std,
		Threshold:            res.Value,
		Method:               res.Method,
		SampleCount:          res.SampleCount,
		BaselineStats:        b.ToRecord(res.Value),
		Details: calibration.ThresholdDetails{
			KeystrokeMeanScore: kMean,
			MouseMeanScore:     mMean,
			SegmentCount:       b.SegmentCount,
			Fallback:           res.Fallback,
			Layout:             string(prof.FeatureLayout()),
		},
		CourseName: validation.SanitizeString(req.CourseName, validation.MaxStringLength),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AppendThreshold(ctx, row); err != nil {
		return nil, fmt.Errorf("save personal threshold: %w", err)
	}
	if err := s.completeSession(ctx, sess, req); err != nil {
		return nil, err
	}

	metrics.CalibrationsTotal.WithLabelValues(string(res.Method)).Inc()
	span.SetAttributes(traces.Score("threshold", res.Value))
	logging.L(ctx).Info("baseline saved",
		"threshold", res.Value,
		"method", res.Method,
		"segments", b.SegmentCount,
		"keystroke_mean_score", kMean,
		"mouse_mean_score", mMean,
	)

	quality := QualityFair
	if kMean < goodQualityBelow && mMean < goodQualityBelow {
		quality = QualityGood
	}
	return &CalibrationResult{
		ThresholdID:          row.ID,
		CalibrationSessionID: req.CalibrationSessionID,
		Threshold:            res.Value,
		Method:               res.Method,
		Fallback:             res.Fallback,
		FusionMean:           res.Mean,
		FusionStd:            res.Std,
		SampleCount:          res.SampleCount,
		SegmentCount:         b.SegmentCount,
		KeystrokeMeanScore:   kMean,
		MouseMeanScore:       mMean,
		BaselineQuality:      quality,
	}, nil
}

func (s *Service) completeSession(ctx context.Context, sess *calibration.Session, req CalibrationRequest) error {
	if sess == nil {
		sess = &calibration.Session{
			ID:         req.CalibrationSessionID,
			StudentID:  req.StudentID,
			CourseName: validation.SanitizeString(req.CourseName, validation.MaxStringLength),
			Status:     calibration.StatusInProgress,
			CreatedAt:  s.now().UTC(),
		}
		if err := s.store.CreateSession(ctx, sess); err != nil && !errors.Is(err, calibration.ErrSessionExists) {
			return fmt.Errorf("create calibration session: %w", err)
		}
	}
	if err := s.store.CompleteSession(ctx, sess.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("complete calibration session: %w", err)
	}
	return nil
}

// segmentScores are the per-segment calibration scores.
type segmentScores struct {
	fused     []float64
	keystroke []float64
	mouse     []float64
	perKey    map[string][]float64
}

// scoreSegments replays the segments in order as if each were one exam
// poll, growing the real-time and long-term windows as it goes.
func (s *Service) scoreSegments(ctx context.Context, prof *profile.Profile, b *baseline.Baseline, segments []baseline.Segment) (segmentScores, error) {
	out := segmentScores{perKey: make(map[string][]float64)}
	var kHist, mHist [][]float64

	for _, seg := range segments {
		o := observe(ctx, b, seg.Keystroke, seg.Mouse, prof.ClipBound)
		if !o.keystrokeRaw.Calculated && !o.mouseRaw.Calculated {
			continue
		}
		kHist = append(kHist, o.keystrokeNorm)
		mHist = append(mHist, o.mouseNorm)

		comps, err := components(ctx, s.models, prof,
			window{current: o.keystrokeNorm, realTime: session.Tail(kHist, prof.RealTimeWindow), longTerm: kHist},
			window{current: o.mouseNorm, realTime: session.Tail(mHist, prof.RealTimeWindow), longTerm: mHist},
			o.keystrokeDev, o.mouseDev,
		)
		if err != nil {
			return segmentScores{}, err
		}
		score, _ := fuse(prof, comps, o.keystrokeDev, o.mouseDev)

		out.fused = append(out.fused, score)
		out.keystroke = append(out.keystroke, modalityScore(comps, fusion.Keystroke, fusion.KeystrokeRT))
		out.mouse = append(out.mouse, modalityScore(comps, fusion.Mouse, fusion.MouseRT))
		for k, v := range comps {
			out.perKey[k] = append(out.perKey[k], v)
		}
	}
	return out, nil
}

// Analyze scores one exam poll against the student's latest baseline.
// Polls of one exam session are serialized; each is classified on its own.
func (s *Service) Analyze(ctx context.Context, req PollRequest) (_ *Analysis, retErr error) {
	if errs := validation.Validate(
		validation.Required("student_id", req.StudentID),
		validation.UUID("student_id", req.StudentID),
		validation.Required("exam_session_id", req.ExamSessionID),
		validation.UUID("exam_session_id", req.ExamSessionID),
	); len(errs) > 0 {
		return nil, invalid(errs)
	}

	ctx = logging.WithStudent(ctx, req.StudentID, req.ExamSessionID)
	ctx, span := traces.StartSpan(ctx, "proctor.Analyze",
		traces.StudentID(req.StudentID),
		traces.SessionID(req.ExamSessionID),
		traces.EventCount("keystroke", len(req.KeyEvents)),
		traces.EventCount("mouse", len(req.MouseEvents)),
	)
	status := "error"
	defer func() {
		metrics.AnalysesTotal.WithLabelValues(status).Inc()
		traces.End(span, retErr)
	}()

	row, err := s.store.LatestThreshold(ctx, req.StudentID)
	if err != nil {
		if !errors.Is(err, calibration.ErrNotFound) {
			logging.L(ctx).Error("baseline lookup failed, treating as missing", "error", err)
		}
		status = string(StatusNoBaseline)
		return &Analysis{Status: StatusNoBaseline, Message: "Please complete calibration first"}, nil
	}

	prof := s.profiles.Current()
	keys := events.Normalize(ctx, req.KeyEvents)
	mouse := events.Normalize(ctx, req.MouseEvents)
	if len(keys) < prof.MinKeyEvents {
		status = string(StatusGatheringData)
		return &Analysis{
			Status:  StatusGatheringData,
			Message: fmt.Sprintf("Need more keystroke data (%d/%d minimum)", len(keys), prof.MinKeyEvents),
		}, nil
	}
	if len(mouse) < prof.MinMouseEvents {
		logging.L(ctx).Warn("low mouse event count", "mouse_events", len(mouse), "recommended", prof.MinMouseEvents)
	}
	if !s.models.Loaded() {
		return nil, scoring.ErrModelUnavailable
	}

	b := row.Baseline()
	o := observe(ctx, b, keys, mouse, prof.ClipBound)

	var comps map[string]float64
	err = s.history.With(ctx, req.ExamSessionID, func(h *session.History) error {
		h.Append(o.keystrokeNorm, o.mouseNorm)
		var err error
		comps, err = components(ctx, s.models, prof,
			window{current: o.keystrokeNorm, realTime: h.RealTime(features.Keystroke, prof.RealTimeWindow), longTerm: h.LongTerm(features.Keystroke)},
			window{current: o.mouseNorm, realTime: h.RealTime(features.Mouse, prof.RealTimeWindow), longTerm: h.LongTerm(features.Mouse)},
			o.keystrokeDev, o.mouseDev,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	score, boosted := fuse(prof, comps, o.keystrokeDev, o.mouseDev)
	decision := incident.Decide(score, row.Threshold)
	res := &Result{
		KeystrokeScore:        modalityScore(comps, fusion.Keystroke, fusion.KeystrokeRT),
		MouseScore:            modalityScore(comps, fusion.Mouse, fusion.MouseRT),
		FusionRiskScore:       score,
		PersonalizedThreshold: row.Threshold,
		ThresholdExceeded:     decision.Anomalous,
		Level:                 decision.Level,
		Severity:              decision.Severity,
		Boosted:               boosted,
		Components:            comps,
		AvgKeystrokeDeviation: o.keystrokeDev,
		AvgMouseDeviation:     o.mouseDev,
		DataQuality: DataQuality{
			KeystrokeEvents: len(keys),
			MouseEvents:     len(mouse),
			SufficientData:  len(keys) >= prof.MinKeyEvents && len(mouse) >= prof.MinMouseEvents,
		},
	}

	if decision.Anomalous {
		inc := incident.New(req.ExamSessionID, req.StudentID, decision, incident.Details{
			KeystrokeScore:        res.KeystrokeScore,
			MouseScore:            res.MouseScore,
			FusionScore:           score,
			Threshold:             row.Threshold,
			Timestamp:             req.EndTimestamp,
			AvgKeystrokeDeviation: o.keystrokeDev,
			AvgMouseDeviation:     o.mouseDev,
			KeystrokeEventCount:   len(keys),
			MouseEventCount:       len(mouse),
		}, s.now())
		res.IncidentLogged = s.incidents.Log(ctx, inc)
		if res.IncidentLogged {
			res.IncidentID = inc.ID
			if s.publisher != nil {
				s.publisher.PublishIncident(inc)
			}
		}
	}
	res.IncidentCount = s.incidents.Count(ctx, req.ExamSessionID)

	if s.publisher != nil {
		s.publisher.PublishAnalysis(req.ExamSessionID, req.StudentID, decision.Severity, realtime.AnalysisSummary{
			FusionScore: score,
			Threshold:   row.Threshold,
			Level:       decision.Level,
		})
	}

	metrics.FusionScore.Observe(score)
	span.SetAttributes(
		traces.Score("fusion", score),
		traces.Score("threshold", row.Threshold),
	)
	logging.L(ctx).Debug("poll analyzed",
		"fusion_score", score,
		"threshold", row.Threshold,
		"level", decision.Level,
		"boosted", boosted,
	)

	status = string(StatusAnalyzed)
	return &Analysis{Status: StatusAnalyzed, RiskScore: score, Result: res}, nil
}

// Threshold returns the authoritative (newest) personal threshold.
func (s *Service) Threshold(ctx context.Context, studentID string) (*calibration.PersonalThreshold, error) {
	if errs := validation.Validate(validation.Required("student_id", studentID), validation.UUID("student_id", studentID)); len(errs) > 0 {
		return nil, invalid(errs)
	}
	return s.store.LatestThreshold(ctx, studentID)
}

// ThresholdHistory returns a student's threshold ledger, newest first.
func (s *Service) ThresholdHistory(ctx context.Context, studentID string, limit int) ([]*calibration.PersonalThreshold, error) {
	if errs := validation.Validate(validation.Required("student_id", studentID), validation.UUID("student_id", studentID)); len(errs) > 0 {
		return nil, invalid(errs)
	}
	return s.store.ListThresholds(ctx, studentID, pagination.ClampLimit(limit))
}

// Incidents pages through an exam session's incident log, newest first.
func (s *Service) Incidents(ctx context.Context, sessionID string, limit int, cursor string) (pagination.Page[*incident.Incident], error) {
	if errs := validation.Validate(validation.Required("exam_session_id", sessionID), validation.UUID("exam_session_id", sessionID)); len(errs) > 0 {
		return pagination.Page[*incident.Incident]{}, invalid(errs)
	}
	page, err := s.incidents.Page(ctx, sessionID, limit, cursor)
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return page, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return page, err
}
