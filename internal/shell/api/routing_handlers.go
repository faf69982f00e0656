package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/routing"
)

// =============================================================================
// Routing Handlers
// =============================================================================

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	op := routing.Operation(q.Get("operation"))
	if op == "" {
		op = routing.OpRead
	}
	if !op.Valid() {
		h.writeFailure(w, r, "route operation", domain.NewValidationError("operation", "must be read or write"))
		return
	}
	level, err := routing.ParseLevel(q.Get("consistency"))
	if err != nil {
		h.writeFailure(w, r, "route operation", domain.NewValidationError("consistency", err.Error()))
		return
	}

	result, err := h.router.Route(r.Context(), op, level, q.Get("caller"))
	if err != nil {
		h.writeFailure(w, r, "route operation", err)
		return
	}

	reasons := result.FilteredOutReasons
	if reasons == nil {
		reasons = map[string]int{}
	}
	h.writeJSON(w, http.StatusOK, RouteResponse{
		Region:             result.Region,
		Operation:          string(op),
		Consistency:        string(level),
		Distance:           result.Distance,
		ConsideredCount:    result.ConsideredCount,
		FilteredOutReasons: reasons,
		Fallback:           result.Fallback,
	})
}

func (h *Handler) handleTopology(w http.ResponseWriter, r *http.Request) {
	primary := h.router.Primary()
	resp := TopologyResponse{Primary: primary, Members: []TopologyMember{}}
	for _, m := range h.router.Members() {
		member := TopologyMember{
			Region:  m.Region,
			Primary: m.Region == primary,
			Sync:    m.Sync,
		}
		if m.MaxLag > 0 {
			member.MaxLag = m.MaxLag.String()
		}
		resp.Members = append(resp.Members, member)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req FailoverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Region) == "" {
		h.writeFailure(w, r, "fail over", domain.NewValidationError("region", "required"))
		return
	}

	prev, err := h.router.Failover(req.Region)
	if err != nil {
		h.writeFailure(w, r, "fail over", err)
		return
	}

	h.logger.Warn("primary failover requested", "from", prev, "to", req.Region)
	h.writeJSON(w, http.StatusOK, FailoverResponse{
		Previous: prev,
		Primary:  req.Region,
		At:       time.Now().UTC(),
	})
}
