package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/audit"
	"github.com/lexreview/lexreview/internal/db"
	"github.com/lexreview/lexreview/internal/review"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestHealthCheck(t *testing.T) {
	srv := New(Config{Port: 0}, Features{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Status   string          `json:"status"`
		Features map[string]bool `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", body.Status)
	}
	if body.Features["bias_review"] || body.Features["audit"] {
		t.Errorf("expected features disabled, got %v", body.Features)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := New(Config{Port: 0, AllowAll: true}, Features{})

	req := httptest.NewRequest("OPTIONS", "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestUnmountedFeatureIs404(t *testing.T) {
	srv := New(Config{}, Features{})
	req := httptest.NewRequest("POST", "/api/v1/explain", strings.NewReader(`{"query":"x"}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func newReviewFeatures(t *testing.T) (Features, *review.Manager) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	auditStore := audit.NewStore(database)
	hub := review.NewHub()
	m := review.NewManager(review.NewMemoryStore(time.Hour, time.Minute),
		review.WithPublisher(hub),
		review.WithPublisher(audit.NewRecorder(auditStore)),
	)
	return Features{
		Review: review.NewHandler(m, nil, hub, 0.7),
		Audit:  auditStore,
	}, m
}

func TestMountsReviewAndAudit(t *testing.T) {
	features, m := newReviewFeatures(t)
	s, err := m.CreateSession(context.Background(), "memo.txt", "text/plain", []review.NewItem{{Text: "A neutral line."}}, []byte("A neutral line."))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	srv := New(Config{RequestTimeout: time.Second}, features)

	for _, path := range []string{
		review.RoutePrefix + "/health",
		review.RoutePrefix + "/session/" + s.ID,
		"/api/v1/audit/?session_id=" + s.ID,
	} {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d (%s)", path, w.Code, w.Body.String())
		}
	}
}

func TestWebsocketBypassesTimeout(t *testing.T) {
	features, m := newReviewFeatures(t)
	s, err := m.CreateSession(context.Background(), "memo.txt", "text/plain", []review.NewItem{{Text: "A neutral line."}}, []byte("A neutral line."))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ts := httptest.NewServer(New(Config{RequestTimeout: 50 * time.Millisecond}, features).Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + review.RoutePrefix + "/session/" + s.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var snapshot review.Event
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := m.MarkCompleted(context.Background(), s.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev review.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event after timeout window: %v", err)
	}
	if ev.Type != review.EventSessionCompleted {
		t.Errorf("expected %s, got %s", review.EventSessionCompleted, ev.Type)
	}
}
