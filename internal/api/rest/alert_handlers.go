package rest

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/alert"
)

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	page, size, err := paging(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := alert.Filter{
		TenantID:  claims.TenantID,
		Status:    alert.Status(r.URL.Query().Get("status")),
		Severity:  alert.Severity(r.URL.Query().Get("severity")),
		AlertType: alert.Type(r.URL.Query().Get("type")),
		Start:     start,
		End:       end,
	}

	alerts, total, err := h.alerts.ListAlerts(r.Context(), filter, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.SecurityAlert{}
	}
	h.writeJSON(w, http.StatusOK, pagedResponse{
		Data:       alerts,
		Pagination: pagination{Page: page, PageSize: size, Total: total},
	})
}

func (h *Handler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.sameTenant(w, r, a.TenantID) {
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// handleAlertTransition factors the shared load, tenant check and response
// shape of the lifecycle endpoints.
func (h *Handler) handleAlertTransition(w http.ResponseWriter, r *http.Request, apply func(alertID uuid.UUID) (*alert.SecurityAlert, error)) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	existing, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.sameTenant(w, r, existing.TenantID) {
		return
	}

	updated, err := apply(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AlertTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.Acknowledge(r.Context(), alertID, claims.UserID)
	})
}

func (h *Handler) handleAssignAlert(w http.ResponseWriter, r *http.Request) {
	var req assignAlertRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.Assign(r.Context(), alertID, req.AssigneeID)
	})
}

func (h *Handler) handleAlertInProgress(w http.ResponseWriter, r *http.Request) {
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.MarkInProgress(r.Context(), alertID)
	})
}

func (h *Handler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req resolveAlertRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.Resolve(r.Context(), alertID, claims.UserID, req.Notes)
	})
}

func (h *Handler) handleAlertFalsePositive(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req falsePositiveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.MarkFalsePositive(r.Context(), alertID, claims.UserID, req.Reason)
	})
}

func (h *Handler) handleEscalateAlert(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req escalateAlertRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handleAlertTransition(w, r, func(alertID uuid.UUID) (*alert.SecurityAlert, error) {
		return h.alerts.Escalate(r.Context(), alertID, req.Target, claims.UserID)
	})
}

func (h *Handler) handleAlertCounts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	counts, err := h.stats.AlertCounts(r.Context(), claims.TenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}
