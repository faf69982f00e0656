package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var cfg domain.DeploymentConfig
	if !h.decode(w, r, &cfg) {
		return
	}

	status, err := h.deployments.Submit(r.Context(), cfg)
	if err != nil {
		h.writeFailure(w, r, "submit deployment", err)
		return
	}

	w.Header().Set("Location", "/api/v1/deployments/"+status.ID)
	h.writeJSON(w, http.StatusAccepted, DeploymentAccepted{ID: status.ID, Status: status.Status})
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	deployments, err := h.deployments.List(r.Context(), opts)
	if err != nil {
		h.writeFailure(w, r, "list deployments", err)
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[domain.DeploymentStatus]{
		Data:   nonNil(deployments),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.deployments.GetStatus(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "get deployment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleListDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.deployments.Events(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "list deployment events", err)
		return
	}

	h.writeJSON(w, http.StatusOK, nonNil(events))
}

func (h *Handler) handleRollbackDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.deployments.Rollback(r.Context(), id); err != nil {
		h.writeFailure(w, r, "roll back deployment", err)
		return
	}

	status, err := h.deployments.GetStatus(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "get deployment", err)
		return
	}

	h.logger.Info("rollback requested", "deployment_id", id, "status", status.Status)
	h.writeJSON(w, http.StatusAccepted, DeploymentAccepted{ID: id, Status: status.Status})
}
