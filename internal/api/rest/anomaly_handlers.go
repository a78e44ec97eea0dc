package rest

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

func (h *Handler) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
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
	subjectID, err := queryUUID(r, "subject_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := anomaly.Filter{
		TenantID:  claims.TenantID,
		SubjectID: subjectID,
		Type:      anomaly.Type(r.URL.Query().Get("type")),
		RiskLevel: anomaly.RiskLevel(r.URL.Query().Get("risk_level")),
		Status:    anomaly.Status(r.URL.Query().Get("status")),
		Start:     start,
		End:       end,
	}

	records, total, err := h.anomalies.ListAnomalies(r.Context(), filter, anomaly.Page{Number: page, Size: size})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*anomaly.Record{}
	}
	h.writeJSON(w, http.StatusOK, pagedResponse{
		Data:       records,
		Pagination: pagination{Page: page, PageSize: size, Total: total},
	})
}

func (h *Handler) handleGetAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.anomalies.GetAnomaly(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.sameTenant(w, r, record.TenantID) {
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleUpdateAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateAnomalyStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.anomalies.GetAnomaly(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.sameTenant(w, r, record.TenantID) {
		return
	}

	updated, err := h.anomalies.UpdateStatus(r.Context(), id,
		anomaly.Status(req.Status), claims.UserID, req.Notes, req.Resolution)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleAnomalyStatistics(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
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

	statistics, err := h.stats.AnomalyStatistics(r.Context(), claims.TenantID, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statistics)
}

func (h *Handler) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	daysBack, err := queryInt(r, "days_back", 30)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	topN, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	users, err := h.stats.TopUsers(r.Context(), claims.TenantID, daysBack, topN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

func (h *Handler) handleRecentCritical(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	hours, err := queryInt(r, "hours_back", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.stats.RecentCritical(r.Context(), claims.TenantID, hours)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*anomaly.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

// sameTenant enforces tenant isolation on single-resource access. Cross
// tenant IDs surface as not found rather than forbidden so resource
// existence does not leak.
func (h *Handler) sameTenant(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID) bool {
	claims := claimsFrom(r.Context())
	if claims.TenantID != tenantID {
		h.writeError(w, r, errors.NewNotFoundError("resource"))
		return false
	}
	return true
}
