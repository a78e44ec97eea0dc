package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/errors"
)

const maxBodySize = 1 << 20 // 1MB

var validate = validator.New()

type updateAnomalyStatusRequest struct {
	Status     string `json:"status" validate:"required,oneof=open under_investigation resolved false_positive"`
	Notes      string `json:"notes" validate:"omitempty,max=4000"`
	Resolution string `json:"resolution" validate:"omitempty,max=4000"`
}

type triggerRunRequest struct {
	LookbackMinutes int `json:"lookback_minutes" validate:"omitempty,min=1,max=1440"`
}

type assignAlertRequest struct {
	AssigneeID uuid.UUID `json:"assignee_id" validate:"required"`
}

type resolveAlertRequest struct {
	Notes string `json:"notes" validate:"required,max=4000"`
}

type falsePositiveRequest struct {
	Reason string `json:"reason" validate:"required,max=4000"`
}

type escalateAlertRequest struct {
	Target string `json:"target" validate:"required,max=255"`
}

// decodeBody parses and validates a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_JSON", "request body is not valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		return errors.NewValidationError("VALIDATION_FAILED", err.Error())
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", name+" must be a valid UUID")
	}
	return id, nil
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError("INVALID_QUERY", name+" must be an integer")
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("INVALID_QUERY", name+" must be RFC 3339")
	}
	return t, nil
}

func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_QUERY", name+" must be a valid UUID")
	}
	return id, nil
}

func paging(r *http.Request) (page, size int, err error) {
	page, err = queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	size, err = queryInt(r, "page_size", 20)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}
