package cluster

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wiggzz/diogenes/internal/httpserver"
)

// Handler exposes cluster state and manual scaling over HTTP.
type Handler struct {
	cluster *Cluster
	logger  *slog.Logger
}

// NewHandler creates a Handler backed by cluster.
func NewHandler(cluster *Cluster, logger *slog.Logger) *Handler {
	return &Handler{cluster: cluster, logger: logger}
}

// Routes returns a chi.Router with the cluster endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGetState)
	r.Post("/scale", h.handleScale)
	return r
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.cluster.GetClusterState(r.Context())
	if err != nil {
		h.logger.Error("getting cluster state", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get cluster state")
		return
	}
	httpserver.Respond(w, http.StatusOK, state)
}

type scaleRequest struct {
	Model  string `json:"model" validate:"required"`
	Action string `json:"action" validate:"required,oneof=up down"`
}

func (h *Handler) handleScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.cluster.ManualScale(r.Context(), req.Model, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, ErrUnknownModel):
			httpserver.RespondError(w, http.StatusBadRequest, "unknown_model", err.Error())
		default:
			h.logger.Error("manual scale failed", "model", req.Model, "action", req.Action, "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to scale model")
		}
		return
	}

	httpserver.Respond(w, http.StatusOK, result)
}
