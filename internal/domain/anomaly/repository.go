package anomaly

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows anomaly listing queries. Zero values mean no constraint.
type Filter struct {
	TenantID  uuid.UUID
	SubjectID uuid.UUID
	Type      Type
	RiskLevel RiskLevel
	Status    Status
	Start     time.Time
	End       time.Time
}

// Page is validated 1-based pagination. The service layer rejects sizes
// above 100 before reaching the store.
type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Repository is the persistence contract for anomaly records. Save uses
// optimistic versioning: an update whose Version does not match the
// persisted row fails with a conflict.
type Repository interface {
	// Save inserts a new record (Version 1) or updates an existing one.
	// On update the implementation compares-and-swaps on Version and
	// increments it; a mismatch returns errors.ErrVersionMismatch.
	Save(ctx context.Context, record *Record) error

	// GetByID returns the record or errors.ErrAnomalyNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// FindOpen returns the Open record for the dedup identity, or
	// errors.ErrAnomalyNotFound when no open record exists.
	FindOpen(ctx context.Context, tenantID, subjectUserID uuid.UUID, t Type, windowKey string) (*Record, error)

	// List returns a page of records matching the filter, ordered by
	// DetectedAt descending, along with the unpaged total count.
	List(ctx context.Context, filter Filter, page Page) ([]*Record, int, error)
}
