package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/novahr/security-engine/internal/domain/detection"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// runRepository implements detection.RunRepository on PostgreSQL. A partial
// unique index on idempotency_key (excluding failed runs) makes the window
// claim atomic.
type runRepository struct {
	db querier
}

func NewRunRepository(db *sql.DB) detection.RunRepository {
	return &runRepository{db: db}
}

const runColumns = `
	id, tenant_id, window_start, window_end, lookback_minutes, status,
	started_at, completed_at, anomalies_created, idempotency_key
`

func (r *runRepository) Create(ctx context.Context, run *detection.Run) error {
	query := `
		INSERT INTO detection_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TenantID, run.WindowStart, run.WindowEnd, run.LookbackMinutes,
		run.Status, run.StartedAt, run.CompletedAt, run.AnomaliesCreated, run.IdempotencyKey,
	)
	if isDuplicateKey(err) {
		return errors.ErrDuplicateRunKey
	}
	if err != nil {
		return fmt.Errorf("inserting detection run: %w", err)
	}
	return nil
}

func (r *runRepository) Update(ctx context.Context, run *detection.Run) error {
	query := `
		UPDATE detection_runs SET
			status = $2, completed_at = $3, anomalies_created = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		run.ID, run.Status, run.CompletedAt, run.AnomaliesCreated)
	if err != nil {
		return fmt.Errorf("updating detection run: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating detection run: %w", err)
	} else if n == 0 {
		return errors.ErrRunNotFound
	}
	return nil
}

func (r *runRepository) FindByKey(ctx context.Context, idempotencyKey string) (*detection.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM detection_runs
		WHERE idempotency_key = $1 AND status <> $2
		ORDER BY started_at DESC
		LIMIT 1
	`, idempotencyKey, detection.RunFailed)

	var run detection.Run
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.TenantID, &run.WindowStart, &run.WindowEnd, &run.LookbackMinutes,
		&run.Status, &run.StartedAt, &completedAt, &run.AnomaliesCreated, &run.IdempotencyKey,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying detection run: %w", err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}
