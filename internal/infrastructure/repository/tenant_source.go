package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantSource lists tenants with recent audit activity. The scheduler
// sweeps only these; a tenant with no events cannot produce anomalies.
type TenantSource struct {
	db       querier
	activity time.Duration
}

func NewTenantSource(db *sql.DB, activityWindow time.Duration) *TenantSource {
	if activityWindow <= 0 {
		activityWindow = 24 * time.Hour
	}
	return &TenantSource{db: db, activity: activityWindow}
}

func (s *TenantSource) ActiveTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM audit_events
		WHERE timestamp >= $1
		ORDER BY tenant_id
	`, time.Now().UTC().Add(-s.activity))
	if err != nil {
		return nil, fmt.Errorf("querying active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}
