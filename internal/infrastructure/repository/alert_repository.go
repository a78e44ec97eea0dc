package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/alert"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// alertRepository implements alert.Repository on PostgreSQL. A unique index
// on source_anomaly_id (where set) keeps alert creation idempotent per
// anomaly.
type alertRepository struct {
	db querier
}

func NewAlertRepository(db *sql.DB) alert.Repository {
	return &alertRepository{db: db}
}

func NewAlertRepositoryWithTx(tx *sql.Tx) alert.Repository {
	return &alertRepository{db: tx}
}

const alertColumns = `
	id, tenant_id, alert_type, severity, status, risk_score, title,
	description, subject_user_id, subject_email, ip_address,
	source_anomaly_id, source_correlation_tag, assigned_to,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	resolution_notes, false_positive_reason, escalated_to, escalated_by,
	escalated_at, detected_at, created_at, updated_at, version
`

func (r *alertRepository) Create(ctx context.Context, a *alert.SecurityAlert) error {
	query := `
		INSERT INTO security_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.AlertType, a.Severity, a.Status, a.RiskScore, a.Title,
		a.Description, nullUUID(a.SubjectUserID), nullString(a.SubjectEmail), nullString(a.IPAddress),
		nullUUID(a.SourceAnomalyID), nullString(a.SourceCorrelationTag), nullUUID(a.AssignedTo),
		nullUUID(a.AcknowledgedBy), a.AcknowledgedAt, nullUUID(a.ResolvedBy), a.ResolvedAt,
		nullString(a.ResolutionNotes), nullString(a.FalsePositiveReason), nullString(a.EscalatedTo),
		nullUUID(a.EscalatedBy), a.EscalatedAt, a.DetectedAt, a.CreatedAt, a.UpdatedAt, a.Version,
	)
	if isDuplicateKey(err) {
		return errors.NewConflictError("alert already exists for anomaly")
	}
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *alertRepository) Update(ctx context.Context, a *alert.SecurityAlert) error {
	query := `
		UPDATE security_alerts SET
			status = $2, assigned_to = $3, acknowledged_by = $4,
			acknowledged_at = $5, resolved_by = $6, resolved_at = $7,
			resolution_notes = $8, false_positive_reason = $9,
			escalated_to = $10, escalated_by = $11, escalated_at = $12,
			updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $14
	`
	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.Status, nullUUID(a.AssignedTo), nullUUID(a.AcknowledgedBy),
		a.AcknowledgedAt, nullUUID(a.ResolvedBy), a.ResolvedAt,
		nullString(a.ResolutionNotes), nullString(a.FalsePositiveReason),
		nullString(a.EscalatedTo), nullUUID(a.EscalatedBy), a.EscalatedAt,
		a.UpdatedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM security_alerts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking alert existence: %w", err)
		}
		if !exists {
			return errors.ErrAlertNotFound
		}
		return errors.ErrVersionMismatch
	}
	a.Version++
	return nil
}

func (r *alertRepository) GetByID(ctx context.Context, id uuid.UUID) (*alert.SecurityAlert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM security_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

func (r *alertRepository) FindBySourceAnomaly(ctx context.Context, anomalyID uuid.UUID) (*alert.SecurityAlert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM security_alerts WHERE source_anomaly_id = $1`, anomalyID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert by anomaly: %w", err)
	}
	return a, nil
}

func (r *alertRepository) List(ctx context.Context, filter alert.Filter, pageNumber, pageSize int) ([]*alert.SecurityAlert, int, error) {
	where, args := alertWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting alerts: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+alertColumns+` FROM security_alerts%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, pageSize, (pageNumber-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*alert.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

func alertWhere(filter alert.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.TenantID != uuid.Nil {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.AlertType != "" {
		add("alert_type = $%d", filter.AlertType)
	}
	if !filter.Start.IsZero() {
		add("created_at >= $%d", filter.Start)
	}
	if !filter.End.IsZero() {
		add("created_at < $%d", filter.End)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + joinAnd(clauses), args
}

func scanAlert(row rowScanner) (*alert.SecurityAlert, error) {
	var a alert.SecurityAlert
	var subjectID, sourceAnomalyID, assignedTo, ackedBy, resolvedBy, escalatedBy uuid.NullUUID
	var subjectEmail, ipAddress, correlationTag, notes, fpReason, escalatedTo sql.NullString
	var ackedAt, resolvedAt, escalatedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.TenantID, &a.AlertType, &a.Severity, &a.Status, &a.RiskScore, &a.Title,
		&a.Description, &subjectID, &subjectEmail, &ipAddress,
		&sourceAnomalyID, &correlationTag, &assignedTo,
		&ackedBy, &ackedAt, &resolvedBy, &resolvedAt,
		&notes, &fpReason, &escalatedTo, &escalatedBy,
		&escalatedAt, &a.DetectedAt, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.SubjectUserID = subjectID.UUID
	a.SubjectEmail = subjectEmail.String
	a.IPAddress = ipAddress.String
	a.SourceAnomalyID = sourceAnomalyID.UUID
	a.SourceCorrelationTag = correlationTag.String
	a.AssignedTo = assignedTo.UUID
	a.AcknowledgedBy = ackedBy.UUID
	if ackedAt.Valid {
		a.AcknowledgedAt = &ackedAt.Time
	}
	a.ResolvedBy = resolvedBy.UUID
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	a.ResolutionNotes = notes.String
	a.FalsePositiveReason = fpReason.String
	a.EscalatedTo = escalatedTo.String
	a.EscalatedBy = escalatedBy.UUID
	if escalatedAt.Valid {
		a.EscalatedAt = &escalatedAt.Time
	}
	return &a, nil
}
