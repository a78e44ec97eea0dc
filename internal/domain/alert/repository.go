package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows alert listing queries. Zero values mean no constraint.
type Filter struct {
	TenantID  uuid.UUID
	Status    Status
	Severity  Severity
	AlertType Type
	Start     time.Time
	End       time.Time
}

// Repository is the persistence contract for security alerts. All writes
// compare-and-swap on Version; a mismatch returns errors.ErrVersionMismatch.
type Repository interface {
	// Create inserts a new alert (Version 1).
	Create(ctx context.Context, a *SecurityAlert) error

	// Update persists a transitioned alert only if the stored Version
	// matches a.Version; on success the stored version is incremented.
	Update(ctx context.Context, a *SecurityAlert) error

	// GetByID returns the alert or errors.ErrAlertNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*SecurityAlert, error)

	// FindBySourceAnomaly returns the alert created for an anomaly, or
	// errors.ErrAlertNotFound. Used to keep alert creation idempotent
	// per source anomaly.
	FindBySourceAnomaly(ctx context.Context, anomalyID uuid.UUID) (*SecurityAlert, error)

	// List returns a page of alerts matching the filter, ordered by
	// CreatedAt descending, along with the unpaged total count.
	List(ctx context.Context, filter Filter, pageNumber, pageSize int) ([]*SecurityAlert, int, error)
}
