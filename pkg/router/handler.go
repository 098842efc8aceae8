package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wiggzz/diogenes/internal/httpserver"
)

// Handler exposes the OpenAI-compatible inference surface over HTTP.
type Handler struct {
	router *Router
	logger *slog.Logger
}

// NewHandler creates a Handler backed by router.
func NewHandler(router *Router, logger *slog.Logger) *Handler {
	return &Handler{router: router, logger: logger}
}

// Routes returns a chi.Router with the OpenAI-compatible endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/models", h.handleListModels)
	r.Post("/chat/completions", h.handleInference("/v1/chat/completions"))
	r.Post("/completions", h.handleInference("/v1/completions"))
	return r
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp, err := h.router.ListModels(r.Context())
	if err != nil {
		h.logger.Error("listing models", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list models")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// inferenceRequest captures only the field the router needs to route on;
// the remainder of the body is forwarded to the worker verbatim.
type inferenceRequest struct {
	Model string `json:"model"`
}

func (h *Handler) handleInference(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
			return
		}

		var parsed inferenceRequest
		if err := json.Unmarshal(body, &parsed); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
			return
		}

		resp := h.router.HandleInference(r.Context(), parsed.Model, body, path)

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	}
}
