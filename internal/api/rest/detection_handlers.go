package rest

import (
	"net/http"
	"time"

	"github.com/novahr/security-engine/internal/domain/errors"
)

func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	req := triggerRunRequest{LookbackMinutes: h.defaultLookback}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		if req.LookbackMinutes == 0 {
			req.LookbackMinutes = h.defaultLookback
		}
	}

	start := time.Now()
	run, err := h.coordinator.TriggerRun(r.Context(), claims.TenantID, req.LookbackMinutes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveRun(string(run.Status), time.Since(start))
	}

	status := http.StatusCreated
	// A rerun of an already completed window returns the recorded run.
	if run.CompletedAt != nil && run.CompletedAt.Before(start) {
		status = http.StatusOK
	}
	h.writeJSON(w, status, run)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, r, errors.NewValidationError("MISSING_RUN_KEY", "run key is required"))
		return
	}
	run, err := h.coordinator.GetRun(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.sameTenant(w, r, run.TenantID) {
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}
