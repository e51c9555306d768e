package explain

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/retrieval"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterRoutes mounts the explanation endpoint under /api/v1.
func RegisterRoutes(r chi.Router, c *Chain) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/explain", handleExplain(c))
	})
}

type explainRequest struct {
	Query string `json:"query" validate:"required"`
	K     int    `json:"k" validate:"gte=0,lte=50"`
}

func handleExplain(c *Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req explainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		out, err := c.Explain(r.Context(), req.Query, req.K)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, retrieval.ErrEmptyQuery):
				status = http.StatusBadRequest
			case errors.Is(err, retrieval.ErrBackendUnavailable):
				status = http.StatusBadGateway
			}
			if status >= http.StatusInternalServerError {
				zap.L().Error("explain: request failed", zap.Error(err))
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
