package detection

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/errors"
)

// RunStatus tracks the progress of one batch detection run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one batch detection pass over a tenant time window. Runs are
// retained for audit and deduplicated by IdempotencyKey so the same window
// is never double-processed.
type Run struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	WindowStart      time.Time  `json:"window_start"`
	WindowEnd        time.Time  `json:"window_end"`
	LookbackMinutes  int        `json:"lookback_minutes"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	AnomaliesCreated int        `json:"anomalies_created"`
	IdempotencyKey   string     `json:"idempotency_key"`
}

// NewRun registers a running detection run for the window.
func NewRun(tenantID uuid.UUID, windowStart, windowEnd time.Time, lookbackMinutes int) (*Run, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if !windowEnd.After(windowStart) {
		return nil, errors.NewValidationError("INVALID_WINDOW", "window end must be after window start")
	}
	if lookbackMinutes <= 0 {
		return nil, errors.NewValidationError("INVALID_LOOKBACK", "lookback minutes must be positive")
	}

	return &Run{
		ID:              uuid.New(),
		TenantID:        tenantID,
		WindowStart:     windowStart.UTC(),
		WindowEnd:       windowEnd.UTC(),
		LookbackMinutes: lookbackMinutes,
		Status:          RunRunning,
		StartedAt:       time.Now().UTC(),
		IdempotencyKey:  IdempotencyKey(tenantID, windowStart, windowEnd),
	}, nil
}

// IdempotencyKey derives the deterministic dedup key for a tenant window.
func IdempotencyKey(tenantID uuid.UUID, windowStart, windowEnd time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d",
		tenantID, windowStart.UTC().Unix(), windowEnd.UTC().Unix())))
	return fmt.Sprintf("%x", sum)
}

// Complete marks the run finished with the number of anomalies it created.
func (r *Run) Complete(anomaliesCreated int) {
	now := time.Now().UTC()
	r.Status = RunCompleted
	r.CompletedAt = &now
	r.AnomaliesCreated = anomaliesCreated
}

// Fail marks the run failed. Failed runs do not block re-triggering.
func (r *Run) Fail() {
	now := time.Now().UTC()
	r.Status = RunFailed
	r.CompletedAt = &now
}

// RunRepository persists detection runs keyed by idempotency key.
type RunRepository interface {
	// Create registers a run; a duplicate idempotency key returns
	// errors.ErrDuplicateRunKey.
	Create(ctx context.Context, run *Run) error

	// Update persists completion state.
	Update(ctx context.Context, run *Run) error

	// FindByKey returns the most recent non-failed run for the key, or
	// errors.ErrRunNotFound.
	FindByKey(ctx context.Context, idempotencyKey string) (*Run, error)
}
