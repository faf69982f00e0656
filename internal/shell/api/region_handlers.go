package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// =============================================================================
// Region Handlers
// =============================================================================

func (h *Handler) handleListRegions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, nonNil(h.regions.List()))
}

func (h *Handler) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	region, err := h.regions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, "get region", err)
		return
	}
	h.writeJSON(w, http.StatusOK, region)
}

func (h *Handler) handleUpdateCapacity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateCapacityRequest
	if !h.decode(w, r, &req) {
		return
	}

	region, err := h.regions.UpdateCapacity(id, domain.Capacity{
		MinInstances: req.MinInstances,
		MaxInstances: req.MaxInstances,
	})
	if err != nil {
		h.writeFailure(w, r, "update capacity", err)
		return
	}

	h.logger.Info("region capacity updated",
		"region", id,
		"min_instances", req.MinInstances,
		"max_instances", req.MaxInstances,
	)
	h.writeJSON(w, http.StatusOK, region)
}

// =============================================================================
// Health Handlers
// =============================================================================

// handleRegionHealth returns the last sample, probing when there is none yet
// or when refresh=true.
func (h *Handler) handleRegionHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.regions.Get(id); err != nil {
		h.writeFailure(w, r, "get region health", err)
		return
	}

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if !refresh {
		if health, ok := h.monitor.Health(id); ok {
			h.writeJSON(w, http.StatusOK, health)
			return
		}
	}

	health, err := h.monitor.CheckHealth(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "check region health", err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

func (h *Handler) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, nonNil(h.monitor.AllHealth()))
}

func (h *Handler) handleGlobalMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.GlobalMetrics())
}

// handleListIncidents reads incident history. Without a history store only
// the monitor's open incidents are available.
func (h *Handler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := listOptions(r)
	openOnly, _ := strconv.ParseBool(q.Get("open"))
	region := q.Get("region")

	if h.history == nil {
		var out []domain.Incident
		for _, inc := range h.monitor.OpenIncidents() {
			if region == "" || inc.Region == region {
				out = append(out, inc)
			}
		}
		h.writeJSON(w, http.StatusOK, ListResponse[domain.Incident]{Data: nonNil(out), Limit: opts.Limit})
		return
	}

	incidents, err := h.history.ListIncidents(r.Context(), store.IncidentFilter{
		Region:      region,
		OpenOnly:    openOnly,
		ListOptions: opts,
	})
	if err != nil {
		h.writeFailure(w, r, "list incidents", err)
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[domain.Incident]{
		Data:   nonNil(incidents),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
