package rest

import (
	"net/http"
	"time"

	"github.com/novahr/security-engine/internal/service/correlation"
)

func (h *Handler) handleCorrelateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	userID, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hoursBack, err := queryInt(r, "hours_back", 24)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.correlation.CorrelateUserActivity(r.Context(),
		claims.TenantID, userID, time.Duration(hoursBack)*time.Hour)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CorrelationRunsTotal.Inc()
		for _, p := range result.Patterns {
			h.metrics.PatternsDetectedTotal.WithLabelValues(p.Tag).Inc()
		}
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCrossUserPatterns(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	daysBack, err := queryInt(r, "days_back", 7)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	start := time.Now()
	results, err := h.correlation.DetectPatternsAcrossUsers(r.Context(), claims.TenantID, daysBack)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []*correlation.Result{}
	}
	if h.metrics != nil {
		h.metrics.CorrelationRunsTotal.Inc()
		h.metrics.CorrelationScanDuration.Observe(time.Since(start).Seconds())
		for _, res := range results {
			for _, p := range res.Patterns {
				h.metrics.PatternsDetectedTotal.WithLabelValues(p.Tag).Inc()
			}
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"data": results})
}
