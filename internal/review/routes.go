package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/bias"
	"github.com/lexreview/lexreview/internal/document"
)

// RoutePrefix is where RegisterRoutes mounts the review API.
const RoutePrefix = "/api/v1/bias-detection-hitl"

const maxUploadBytes = 32 << 20

var errBadRequest = eris.New("bad request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the review API.
type Handler struct {
	manager   *Manager
	ingestor  *Ingestor
	hub       *Hub
	threshold float64
}

// NewHandler creates a handler. threshold is the confidence applied when a
// start-review request does not send one. hub may be nil, which disables the
// event stream.
func NewHandler(m *Manager, ing *Ingestor, hub *Hub, threshold float64) *Handler {
	return &Handler{manager: m, ingestor: ing, hub: hub, threshold: threshold}
}

// RegisterRoutes mounts review endpoints under RoutePrefix.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route(RoutePrefix, func(r chi.Router) {
		r.Post("/start-review", h.handleStartReview)
		r.Post("/approve-suggestion", h.handleApprove)
		r.Post("/regenerate-suggestion", h.handleRegenerate)
		r.Post("/generate-document", h.handleGenerateDocument)
		r.Get("/session/{id}", h.handleGetSession)
		r.Get("/session/{id}/events", h.handleEvents)
		r.Get("/health", h.handleHealth)
	})
}

type startReviewResponse struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"session_id"`
	Filename     string `json:"filename"`
	Total        int    `json:"total"`
	BiasedCount  int    `json:"biased_count"`
	NeutralCount int    `json:"neutral_count"`
	FailedCount  int    `json:"failed_count"`
	Items        []Item `json:"items"`
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, eris.Wrapf(errBadRequest, "invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, eris.Wrap(errBadRequest, "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, eris.Wrapf(errBadRequest, "reading upload: %v", err))
		return
	}

	threshold := h.threshold
	if v := r.FormValue("confidence_threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			writeError(w, eris.Wrap(errBadRequest, "confidence_threshold must be a number within [0,1]"))
			return
		}
		threshold = t
	}

	res, err := h.ingestor.Ingest(r.Context(), IngestRequest{
		Filename:    header.Filename,
		ContentType: document.DetectContentType(header.Filename, data),
		Data:        data,
		Threshold:   threshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startReviewResponse{
		Success:      true,
		SessionID:    res.Session.ID,
		Filename:     res.Session.SourceFilename,
		Total:        len(res.Session.Items),
		BiasedCount:  res.BiasedCount,
		NeutralCount: res.NeutralCount,
		FailedCount:  res.FailedCount,
		Items:        res.Session.Items,
	})
}

type approveRequest struct {
	SessionID    string  `json:"session_id" validate:"required"`
	ItemID       string  `json:"item_id" validate:"required"`
	Action       string  `json:"action" validate:"required,oneof=approve reject"`
	ApprovedText *string `json:"approved_text"`
}

type approveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Item    *Item  `json:"item"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		item *Item
		err  error
		msg  string
	)
	if req.Action == "approve" {
		item, err = h.manager.UpdateItemStatus(r.Context(), req.SessionID, req.ItemID, StatusApproved, req.ApprovedText)
		msg = "Suggestion approved successfully"
	} else {
		item, err = h.manager.UpdateItemStatus(r.Context(), req.SessionID, req.ItemID, StatusNeedsRegeneration, nil)
		msg = "Suggestion rejected. Please regenerate a new suggestion."
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{Success: true, Message: msg, Item: item})
}

type regenerateRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	ItemID    string `json:"item_id" validate:"required"`
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	suggestion, err := h.manager.RegenerateSuggestion(r.Context(), req.SessionID, req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"item_id":    req.ItemID,
		"suggestion": suggestion,
	})
}

type generateRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (h *Handler) handleGenerateDocument(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.manager.Finalize(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("X-Changes-Applied", strconv.Itoa(res.Changes))
	if res.Rebuilt {
		w.Header().Set("X-Regeneration-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

type sessionResponse struct {
	Success   bool          `json:"success"`
	SessionID string        `json:"session_id"`
	Filename  string        `json:"filename"`
	Status    SessionStatus `json:"status"`
	Stats     Stats         `json:"stats"`
	Ready     bool          `json:"ready_for_finalization"`
	Items     []Item        `json:"items"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	st := s.Stats()
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		SessionID: s.ID,
		Filename:  s.SourceFilename,
		Status:    s.Status,
		Stats:     st,
		Ready:     st.Ready(),
		Items:     s.Items,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	})
}

// EventSnapshot is the first message on an event stream, carrying the
// session's stats at subscription time.
const EventSnapshot EventType = "snapshot"

const wsPingInterval = 30 * time.Second

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, eris.New("event stream disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	s, err := h.manager.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("review: websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping control messages are handled.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := Event{Type: EventSnapshot, SessionID: id, Stats: s.Stats(), Timestamp: time.Now().UTC()}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				zap.L().Debug("review: websocket write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         "bias-detection-hitl",
		"active_sessions": h.manager.ActiveCount(r.Context()),
		"features": map[string]bool{
			"session_management":    true,
			"document_regeneration": true,
			"llm_suggestions":       h.manager.suggester != nil,
			"event_stream":          h.hub != nil,
		},
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrapf(errBadRequest, "invalid JSON body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return eris.Wrap(errBadRequest, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch {
		case fe.Field() == "action" && fe.Tag() == "oneof":
			msgs = append(msgs, "Invalid action. Use 'approve' or 'reject'")
		case fe.Tag() == "required":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ErrApprovedTextRequired),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, document.ErrUnsupportedContentType),
		errors.Is(err, document.ErrInvalidEncoding):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionNotReady),
		errors.Is(err, ErrSessionCompleted),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, bias.ErrGeneration),
		errors.Is(err, bias.ErrClassification),
		errors.Is(err, ErrClassificationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": errorMessage(err)}

	var nr *NotReadyError
	if errors.As(err, &nr) {
		body["pending_count"] = nr.Stats.Pending
		body["needs_regeneration_count"] = nr.Stats.NeedsRegeneration
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("review: request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

// errorMessage strips the internal bad-request sentinel from client-facing
// messages.
func errorMessage(err error) string {
	msg := err.Error()
	msg = strings.TrimSuffix(msg, ": "+errBadRequest.Error())
	return strings.TrimPrefix(msg, errBadRequest.Error()+": ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
