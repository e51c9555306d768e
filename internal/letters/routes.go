package letters

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/llm"
	"github.com/lexreview/lexreview/internal/retrieval"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterRoutes mounts letter endpoints under /api/v1.
func RegisterRoutes(r chi.Router, g *Generator) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/templates", handleListTemplates(g))
		r.Post("/generate-letter", handleGenerate(g))
		r.Post("/analyze-requirements", handleAnalyze(g))
		r.Post("/fill-template", handleFill(g))
		r.Post("/refine-letter", handleRefine(g))
	})
}

// letterResponse mirrors the letter API schema; unused fields are omitted.
type letterResponse struct {
	Success              bool     `json:"success"`
	Letter               string   `json:"letter,omitempty"`
	TemplateUsed         string   `json:"template_used,omitempty"`
	RetrievalScore       *float64 `json:"retrieval_score,omitempty"`
	DetectedPlaceholders []string `json:"detected_placeholders,omitempty"`
	MissingFields        []string `json:"missing_fields,omitempty"`
	Method               string   `json:"method,omitempty"`
	Error                string   `json:"error,omitempty"`
}

func handleListTemplates(g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := g.Loader().List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "templates": names})
	}
}

type generateRequest struct {
	Description    string            `json:"description" validate:"required"`
	AdditionalData map[string]string `json:"additional_data"`
	TemplateName   string            `json:"template_name"`
}

func handleGenerate(g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decode(w, r, &req) {
			return
		}
		letter, err := g.Generate(r.Context(), GenerateRequest{
			Description:    req.Description,
			AdditionalData: req.AdditionalData,
			TemplateName:   req.TemplateName,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, letterResponse{
			Success:        true,
			Letter:         letter.Text,
			TemplateUsed:   letter.TemplateUsed,
			RetrievalScore: &letter.RetrievalScore,
			Method:         letter.Method,
		})
	}
}

type analyzeRequest struct {
	Description string `json:"description" validate:"required"`
}

func handleAnalyze(g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if !decode(w, r, &req) {
			return
		}
		a, err := g.Analyze(r.Context(), req.Description)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":               true,
			"template_used":         a.TemplateName,
			"detected_placeholders": a.DetectedPlaceholders,
			"missing_fields":        a.MissingFields,
			"retrieval_score":       a.RetrievalScore,
		})
	}
}

type fillRequest struct {
	TemplateName string            `json:"template_name" validate:"required"`
	Data         map[string]string `json:"data"`
}

func handleFill(g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fillRequest
		if !decode(w, r, &req) {
			return
		}
		letter, err := g.Fill(req.TemplateName, req.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, letterResponse{
			Success:      true,
			Letter:       letter.Text,
			TemplateUsed: letter.TemplateUsed,
			Method:       letter.Method,
		})
	}
}

type refineRequest struct {
	Draft        string `json:"draft" validate:"required"`
	Instructions string `json:"instructions"`
}

func handleRefine(g *Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refineRequest
		if !decode(w, r, &req) {
			return
		}
		text, err := g.Refine(r.Context(), req.Draft, req.Instructions)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, letterResponse{Success: true, Letter: text, Method: "llm_refinement"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, letterResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, letterResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrNoTemplateMatch):
		status = http.StatusNotFound
	case errors.Is(err, retrieval.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNoProvider):
		status = http.StatusServiceUnavailable
	case errors.Is(err, llm.ErrCompletion), errors.Is(err, retrieval.ErrBackendUnavailable):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("letters: request failed", zap.Error(err))
	}
	writeJSON(w, status, letterResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
