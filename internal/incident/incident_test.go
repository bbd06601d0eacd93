package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
)

const (
	testSession = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testStudent = "3f2b8c4e-1d2a-4e5f-9a0b-c1d2e3f4a5b6"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityHigh},
		{0.8, SeverityHigh},
		{0.79, SeverityMedium},
		{0.6, SeverityMedium},
		{0.59, SeverityLow},
		{0, SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.score), "score %v", tt.score)
	}
}

func TestDecide(t *testing.T) {
	d := Decide(0.9, 0.7)
	assert.True(t, d.Anomalous)
	assert.Equal(t, LevelAnomalous, d.Level)
	assert.Equal(t, SeverityHigh, d.Severity)
	assert.InDelta(t, 0.2, d.ExceededBy, 1e-12)

	// Equality counts as anomalous.
	assert.True(t, Decide(0.7, 0.7).Anomalous)

	d = Decide(0.67, 0.7)
	assert.False(t, d.Anomalous)
	assert.Equal(t, LevelSuspicious, d.Level)
	assert.Zero(t, d.ExceededBy)

	assert.Equal(t, LevelNormal, Decide(0.3, 0.7).Level)
}

func TestLoggerRecordsHighSeverityIncident(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLogger(store, LoggerOptions{})

	d := Decide(0.9, 0.7)
	require.True(t, d.Anomalous)
	inc := New(testSession, testStudent, d, Details{
		KeystrokeScore: 0.95, MouseScore: 0.85, FusionScore: 0.9, Threshold: 0.7,
		KeystrokeEventCount: 40, MouseEventCount: 120,
	}, time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("EAT", 3*3600)))

	assert.True(t, l.Log(ctx, inc))
	assert.Equal(t, 1, l.Count(ctx, testSession))

	page, err := l.Page(ctx, testSession, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	got := page.Items[0]
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.Equal(t, TypeBehavioralAnomaly, got.Type)
	assert.Equal(t, "Fusion risk score of 0.90 recorded.", got.Description)
	assert.InDelta(t, 0.2, got.Details.ExceededBy, 1e-12)
	assert.Equal(t, 0.9, got.SeverityScore)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC), got.CreatedAt)
}

func TestPageWalksNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLogger(store, LoggerOptions{})

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		inc := New(testSession, testStudent, Decide(0.8, 0.7), Details{FusionScore: 0.8}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Create(ctx, inc))
	}

	var seen []time.Time
	cursor := ""
	for {
		page, err := l.Page(ctx, testSession, 2, cursor)
		require.NoError(t, err)
		for _, inc := range page.Items {
			seen = append(seen, inc.CreatedAt)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].Before(seen[i-1]))
	}

	_, err := l.Page(ctx, testSession, 2, "%%%")
	assert.ErrorIs(t, err, pagination.ErrInvalidCursor)
}

type failingStore struct {
	MemoryStore
	creates int
}

func (f *failingStore) Create(context.Context, *Incident) error {
	f.creates++
	return errors.New("connection refused")
}

func (f *failingStore) CountBySession(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}

func TestLoggerWriteFailureIsSoft(t *testing.T) {
	store := &failingStore{}
	l := NewLogger(store, LoggerOptions{MaxAttempts: 2, BaseDelay: time.Millisecond, Breaker: circuitbreaker.New(100, time.Minute)})

	ok := l.Log(context.Background(), New(testSession, testStudent, Decide(0.9, 0.7), Details{FusionScore: 0.9}, time.Now()))
	assert.False(t, ok)
	assert.Equal(t, 2, store.creates)
	assert.Equal(t, 0, l.Count(context.Background(), testSession))
}

func TestLoggerStopsCallingOpenCircuit(t *testing.T) {
	store := &failingStore{}
	l := NewLogger(store, LoggerOptions{MaxAttempts: 1, BaseDelay: time.Millisecond, Breaker: circuitbreaker.New(1, time.Minute)})

	inc := New(testSession, testStudent, Decide(0.9, 0.7), Details{FusionScore: 0.9}, time.Now())
	assert.False(t, l.Log(context.Background(), inc))
	assert.False(t, l.Log(context.Background(), inc))
	assert.Equal(t, 1, store.creates)
}
