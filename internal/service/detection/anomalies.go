package detection

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

const maxPageSize = 100

// AnomalyWorkflow serves anomaly reads and the investigation status
// transitions. Detection owns record creation; this type only ever touches
// records that already exist.
type AnomalyWorkflow struct {
	anomalies anomaly.Repository
	logger    *zap.Logger
}

func NewAnomalyWorkflow(anomalies anomaly.Repository, logger *zap.Logger) *AnomalyWorkflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyWorkflow{anomalies: anomalies, logger: logger}
}

func (w *AnomalyWorkflow) GetAnomaly(ctx context.Context, id uuid.UUID) (*anomaly.Record, error) {
	if id == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_ANOMALY_ID", "anomaly ID is required")
	}
	return w.anomalies.GetByID(ctx, id)
}

// ListAnomalies returns one page of records plus the total match count.
func (w *AnomalyWorkflow) ListAnomalies(ctx context.Context, filter anomaly.Filter, page anomaly.Page) ([]*anomaly.Record, int, error) {
	if page.Number < 1 || page.Size < 1 || page.Size > maxPageSize {
		return nil, 0, errors.ErrInvalidPaging
	}
	return w.anomalies.List(ctx, filter, page)
}

// UpdateStatus applies an investigation workflow transition under
// optimistic concurrency. A version conflict means another investigator
// changed the record first; callers should re-read and retry.
func (w *AnomalyWorkflow) UpdateStatus(ctx context.Context, id uuid.UUID, status anomaly.Status, investigatorID uuid.UUID, notes, resolution string) (*anomaly.Record, error) {
	record, err := w.anomalies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := record.UpdateStatus(status, investigatorID, notes, resolution); err != nil {
		return nil, err
	}
	if err := w.anomalies.Save(ctx, record); err != nil {
		return nil, err
	}

	w.logger.Info("anomaly status updated",
		zap.String("anomaly_id", record.ID.String()),
		zap.String("tenant_id", record.TenantID.String()),
		zap.String("status", string(record.Status)),
		zap.String("investigator_id", investigatorID.String()))
	return record, nil
}
