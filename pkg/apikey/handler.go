package apikey

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wiggzz/diogenes/internal/auth"
	"github.com/wiggzz/diogenes/internal/events"
	"github.com/wiggzz/diogenes/internal/httpserver"
)

// Handler provides HTTP handlers for the API keys API.
type Handler struct {
	logger  *slog.Logger
	events  *events.Writer
	service *Service
}

// NewHandler creates an API key Handler. events may be nil when no
// database is configured, in which case key lifecycle events are simply
// not recorded.
func NewHandler(logger *slog.Logger, events *events.Writer, service *Service) *Handler {
	return &Handler{
		logger:  logger,
		events:  events,
		service: service,
	}
}

// Routes returns a chi.Router with all API key routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	resp, err := h.service.CreateKey(r.Context(), id.Email, req.Name)
	if err != nil {
		h.logger.Error("creating api key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create api key")
		return
	}

	if h.events != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.events.LogFromRequest(r, "key_created", "api_key", resp.KeyID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	items, err := h.service.ListKeys(r.Context(), id.Email)
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list api keys")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"keys":  items,
		"count": len(items),
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	deleted, err := h.service.DeleteKey(r.Context(), keyID, id.Email)
	if err != nil {
		h.logger.Error("deleting api key", "error", err, "key_id", keyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete api key")
		return
	}

	if deleted && h.events != nil {
		h.events.LogFromRequest(r, "key_deleted", "api_key", keyID, nil)
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
