package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
}

func register(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 16), sub: sub}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestSubscriptionMatches(t *testing.T) {
	high := &Event{Type: EventIncident, SessionID: "s1", StudentID: "u1", Severity: incident.SeverityHigh}
	low := &Event{Type: EventAnalysis, SessionID: "s2", StudentID: "u2", Severity: incident.SeverityLow}

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all", Subscription{AllEvents: true}, low, true},
		{"empty matches", Subscription{}, low, true},
		{"type hit", Subscription{EventTypes: []EventType{EventIncident}}, high, true},
		{"type miss", Subscription{EventTypes: []EventType{EventIncident}}, low, false},
		{"session hit", Subscription{SessionIDs: []string{"s1"}}, high, true},
		{"session miss", Subscription{SessionIDs: []string{"s1"}}, low, false},
		{"student miss", Subscription{StudentIDs: []string{"u1"}}, low, false},
		{"severity hit", Subscription{MinSeverity: incident.SeverityMedium}, high, true},
		{"severity miss", Subscription{MinSeverity: incident.SeverityMedium}, low, false},
		{"unknown severity ignored", Subscription{MinSeverity: "critical"}, low, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.ev))
		})
	}
}

func TestHub_StatsInitial(t *testing.T) {
	stats := testHub().Stats()
	assert.Equal(t, 0, stats["connected_clients"])
	assert.Equal(t, int64(0), stats["total_events"])
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	runHub(t, h)

	c := register(t, h, Subscription{AllEvents: true})
	assert.Eventually(t, func() bool { return h.Stats()["connected_clients"] == 1 }, time.Second, 10*time.Millisecond)

	h.unregister <- c
	assert.Eventually(t, func() bool { return h.Stats()["connected_clients"] == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peak_clients"])
}

func TestHub_PublishIncident(t *testing.T) {
	h := testHub()
	runHub(t, h)
	c := register(t, h, Subscription{SessionIDs: []string{"sess-1"}})

	inc := incident.New("sess-1", "stu-1",
		incident.Decide(0.9, 0.7), incident.Details{FusionScore: 0.9, Threshold: 0.7}, time.Now())
	h.PublishIncident(inc)

	ev := receive(t, c)
	assert.Equal(t, EventIncident, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "stu-1", ev.StudentID)
	assert.Equal(t, incident.SeverityHigh, ev.Severity)
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	runHub(t, h)
	c := register(t, h, Subscription{EventTypes: []EventType{EventIncident}})

	h.PublishAnalysis("sess-1", "stu-1", incident.SeverityLow, AnalysisSummary{FusionScore: 0.2, Threshold: 0.7})
	time.Sleep(100 * time.Millisecond)
	select {
	case <-c.send:
		t.Fatal("analysis event should be filtered out")
	default:
	}

	h.PublishIncident(incident.New("sess-1", "stu-1", incident.Decide(0.75, 0.7), incident.Details{FusionScore: 0.75}, time.Now()))
	assert.Equal(t, EventIncident, receive(t, c).Type)
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	runHub(t, h)
	c := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- c

	h.PublishAnalysis("s", "u", incident.SeverityLow, AnalysisSummary{})
	assert.Eventually(t, func() bool { return h.Stats()["connected_clients"] == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/v1/feed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h := testHub()
	runHub(t, h)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(Subscription{StudentIDs: []string{"stu-2"}}))
	assert.Eventually(t, func() bool { return h.Stats()["connected_clients"] == 1 }, time.Second, 10*time.Millisecond)
	// Give the read pump time to apply the subscription.
	time.Sleep(100 * time.Millisecond)

	h.PublishAnalysis("sess-1", "stu-1", incident.SeverityLow, AnalysisSummary{})
	h.PublishAnalysis("sess-2", "stu-2", incident.SeverityMedium, AnalysisSummary{FusionScore: 0.65})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "stu-2", ev.StudentID)
	assert.Equal(t, EventAnalysis, ev.Type)
}

func TestOriginAllowed(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://proctor.local/v1/feed", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, originAllowed(req(""), nil))
	assert.True(t, originAllowed(req("http://proctor.local"), nil))
	assert.False(t, originAllowed(req("https://evil.example"), nil))
	assert.True(t, originAllowed(req("https://admin.example.edu"), []string{"https://admin.example.edu"}))
	assert.True(t, originAllowed(req("https://any.example"), []string{"*"}))
}
