package review

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	manager *Manager
	hub     *Hub
	router  chi.Router
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hub := NewHub()
	sugg := &stubSuggester{reply: "Any person may apply."}
	m := newTestManager(t, WithSuggester(sugg), WithPublisher(hub))
	ing := NewIngestor(m, &keywordClassifier{}, sugg, 2)
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(m, ing, hub, 0.7))
	return &testAPI{manager: m, hub: hub, router: r}
}

func (a *testAPI) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, RoutePrefix+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) upload(t *testing.T, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, RoutePrefix+"/start-review", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func startReview(t *testing.T, a *testAPI) startReviewResponse {
	t.Helper()
	rec := a.upload(t, "notice.txt", "The office opens at nine. Only men may apply.", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp startReviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRoute_StartReview(t *testing.T) {
	a := newTestAPI(t)
	resp := startReview(t, a)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "notice.txt", resp.Filename)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.BiasedCount)
	assert.Equal(t, 1, resp.NeutralCount)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "Any person may apply.", *resp.Items[1].Suggestion)
}

func TestRoute_StartReviewValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.upload(t, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "file is required")

	rec = a.upload(t, "a.txt", "He must sign.", map[string]string{"confidence_threshold": "1.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.upload(t, "a.pdf", "%PDF-1.4", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.upload(t, "a.txt", "FAIL.", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = a.upload(t, "a.txt", "He must sign.", map[string]string{"confidence_threshold": "0.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["biased_count"])
}

func TestRoute_ApproveRejectRegenerateFinalize(t *testing.T) {
	a := newTestAPI(t)
	resp := startReview(t, a)
	itemID := resp.Items[1].ID

	// Approve without text is a validation error.
	rec := a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": resp.SessionID, "item_id": itemID, "action": "approve",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": resp.SessionID, "item_id": itemID, "action": "archive",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Invalid action")

	rec = a.postJSON(t, "/approve-suggestion", map[string]any{"item_id": itemID, "action": "reject"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "session_id is required")

	// Finalize is blocked while the item is outstanding.
	rec = a.postJSON(t, "/generate-document", map[string]any{"session_id": resp.SessionID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["pending_count"])
	assert.EqualValues(t, 0, body["needs_regeneration_count"])

	rec = a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": resp.SessionID, "item_id": itemID, "action": "reject",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Suggestion rejected. Please regenerate a new suggestion.", decodeBody(t, rec)["message"])

	rec = a.postJSON(t, "/regenerate-suggestion", map[string]any{"session_id": resp.SessionID, "item_id": itemID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Any person may apply.", decodeBody(t, rec)["suggestion"])

	rec = a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": resp.SessionID, "item_id": itemID, "action": "approve",
		"approved_text": "Any person may apply.",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Suggestion approved successfully", decodeBody(t, rec)["message"])

	rec = a.postJSON(t, "/generate-document", map[string]any{"session_id": resp.SessionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "The office opens at nine. Any person may apply.", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Changes-Applied"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="debiased_notice.txt"`)

	// Completed sessions reject further edits.
	rec = a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": resp.SessionID, "item_id": itemID, "action": "approve", "approved_text": "x",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoute_NotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.postJSON(t, "/approve-suggestion", map[string]any{
		"session_id": "missing", "item_id": "x", "action": "reject",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, RoutePrefix+"/session/missing", nil)
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.postJSON(t, "/regenerate-suggestion", map[string]any{"session_id": "missing", "item_id": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoute_GetSessionAndHealth(t *testing.T) {
	a := newTestAPI(t)
	resp := startReview(t, a)

	req := httptest.NewRequest(http.MethodGet, RoutePrefix+"/session/"+resp.SessionID, nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, SessionInReview, got.Status)
	assert.Equal(t, Stats{Total: 2, Pending: 1, Approved: 1}, got.Stats)
	assert.False(t, got.Ready)
	assert.Len(t, got.Items, 2)
	assert.NotContains(t, rec.Body.String(), "raw_source")

	req = httptest.NewRequest(http.MethodGet, RoutePrefix+"/health", nil)
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["active_sessions"])
	features := body["features"].(map[string]any)
	assert.Equal(t, true, features["llm_suggestions"])
}

func TestRoute_EventStream(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	resp := startReview(t, a)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + RoutePrefix + "/session/" + resp.SessionID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap Event
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, EventSnapshot, snap.Type)
	assert.Equal(t, 1, snap.Stats.Pending)

	_, err = a.manager.UpdateItemStatus(context.Background(), resp.SessionID, resp.Items[1].ID, StatusApproved, strPtr("Any person may apply."))
	require.NoError(t, err)

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventItemUpdated, ev.Type)
	assert.Equal(t, resp.Items[1].ID, ev.ItemID)
	assert.Equal(t, 0, ev.Stats.Pending)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+RoutePrefix+"/session/missing/events", nil)
	assert.Error(t, err)
}
