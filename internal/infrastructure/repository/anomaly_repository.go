package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// anomalyRepository implements anomaly.Repository on PostgreSQL. Open
// records are deduplicated by a partial unique index on
// (tenant_id, subject_user_id, type, window_key) WHERE status = 'open'.
type anomalyRepository struct {
	db querier
}

func NewAnomalyRepository(db *sql.DB) anomaly.Repository {
	return &anomalyRepository{db: db}
}

func NewAnomalyRepositoryWithTx(tx *sql.Tx) anomaly.Repository {
	return &anomalyRepository{db: tx}
}

const anomalyColumns = `
	id, tenant_id, subject_user_id, subject_email, type, score, risk_level,
	status, window_key, detected_at, description, evidence, detection_rule,
	investigator_id, investigated_at, investigation_notes, resolution,
	resolved_at, created_at, updated_at, version
`

func (r *anomalyRepository) Save(ctx context.Context, record *anomaly.Record) error {
	evidence, err := json.Marshal(record.Evidence)
	if err != nil {
		return fmt.Errorf("marshaling evidence: %w", err)
	}

	update := `
		UPDATE anomalies SET
			subject_email = $2, score = $3, risk_level = $4, status = $5,
			description = $6, evidence = $7, investigator_id = $8,
			investigated_at = $9, investigation_notes = $10, resolution = $11,
			resolved_at = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $14
	`
	res, err := r.db.ExecContext(ctx, update,
		record.ID, record.SubjectEmail, record.Score, record.RiskLevel, record.Status,
		record.Description, evidence, nullUUID(record.InvestigatorID),
		record.InvestigatedAt, nullString(record.InvestigationNotes), nullString(record.Resolution),
		record.ResolvedAt, record.UpdatedAt, record.Version,
	)
	if err != nil {
		return fmt.Errorf("updating anomaly: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating anomaly: %w", err)
	} else if n > 0 {
		record.Version++
		return nil
	}

	// No row matched: either the record is new or the version is stale.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM anomalies WHERE id = $1)`, record.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking anomaly existence: %w", err)
	}
	if exists {
		return errors.ErrVersionMismatch
	}

	insert := `
		INSERT INTO anomalies (` + anomalyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = r.db.ExecContext(ctx, insert,
		record.ID, record.TenantID, record.SubjectUserID, record.SubjectEmail,
		record.Type, record.Score, record.RiskLevel, record.Status,
		record.WindowKey, record.DetectedAt, record.Description, evidence,
		record.DetectionRule, nullUUID(record.InvestigatorID), record.InvestigatedAt,
		nullString(record.InvestigationNotes), nullString(record.Resolution),
		record.ResolvedAt, record.CreatedAt, record.UpdatedAt, record.Version,
	)
	if isDuplicateKey(err) {
		return errors.NewConflictError("open anomaly already exists for window")
	}
	if err != nil {
		return fmt.Errorf("inserting anomaly: %w", err)
	}
	return nil
}

func (r *anomalyRepository) GetByID(ctx context.Context, id uuid.UUID) (*anomaly.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE id = $1`, id)
	record, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAnomalyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying anomaly: %w", err)
	}
	return record, nil
}

func (r *anomalyRepository) FindOpen(ctx context.Context, tenantID, subjectUserID uuid.UUID, t anomaly.Type, windowKey string) (*anomaly.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE tenant_id = $1 AND subject_user_id = $2 AND type = $3
			AND window_key = $4 AND status = $5
	`, tenantID, subjectUserID, t, windowKey, anomaly.StatusOpen)
	record, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAnomalyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying open anomaly: %w", err)
	}
	return record, nil
}

func (r *anomalyRepository) List(ctx context.Context, filter anomaly.Filter, page anomaly.Page) ([]*anomaly.Record, int, error) {
	where, args := anomalyWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anomalies`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting anomalies: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+anomalyColumns+` FROM anomalies%s
		ORDER BY detected_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing anomalies: %w", err)
	}
	defer rows.Close()

	var records []*anomaly.Record
	for rows.Next() {
		record, err := scanAnomaly(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning anomaly: %w", err)
		}
		records = append(records, record)
	}
	return records, total, rows.Err()
}

func anomalyWhere(filter anomaly.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.TenantID != uuid.Nil {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.SubjectID != uuid.Nil {
		add("subject_user_id = $%d", filter.SubjectID)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.RiskLevel != "" {
		add("risk_level = $%d", filter.RiskLevel)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.Start.IsZero() {
		add("detected_at >= $%d", filter.Start)
	}
	if !filter.End.IsZero() {
		add("detected_at < $%d", filter.End)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + joinAnd(clauses), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*anomaly.Record, error) {
	var record anomaly.Record
	var evidence []byte
	var investigatorID uuid.NullUUID
	var investigatedAt, resolvedAt sql.NullTime
	var notes, resolution sql.NullString

	err := row.Scan(
		&record.ID, &record.TenantID, &record.SubjectUserID, &record.SubjectEmail,
		&record.Type, &record.Score, &record.RiskLevel, &record.Status,
		&record.WindowKey, &record.DetectedAt, &record.Description, &evidence,
		&record.DetectionRule, &investigatorID, &investigatedAt, &notes,
		&resolution, &resolvedAt, &record.CreatedAt, &record.UpdatedAt, &record.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &record.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshaling evidence: %w", err)
		}
	}
	record.InvestigatorID = investigatorID.UUID
	if investigatedAt.Valid {
		record.InvestigatedAt = &investigatedAt.Time
	}
	record.InvestigationNotes = notes.String
	record.Resolution = resolution.String
	if resolvedAt.Valid {
		record.ResolvedAt = &resolvedAt.Time
	}
	return &record, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
