package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/novahr/security-engine/internal/domain/audit"
)

// auditEventFeed is a read-only view over the platform audit log. The
// audit_events table is populated by the wider platform, never by this
// service.
type auditEventFeed struct {
	db querier
}

func NewAuditEventFeed(db *sql.DB) audit.EventFeed {
	return &auditEventFeed{db: db}
}

func (f *auditEventFeed) Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	args := []any{}
	conds := []string{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != uuid.Nil {
		conds = append(conds, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.ActorUserID != uuid.Nil {
		conds = append(conds, "actor_user_id = "+arg(filter.ActorUserID))
	}
	if len(filter.ActionTypes) > 0 {
		types := make([]string, len(filter.ActionTypes))
		for i, t := range filter.ActionTypes {
			types[i] = string(t)
		}
		conds = append(conds, "action_type = ANY("+arg(types)+")")
	}
	if !filter.Start.IsZero() {
		conds = append(conds, "timestamp >= "+arg(filter.Start))
	}
	if !filter.End.IsZero() {
		conds = append(conds, "timestamp < "+arg(filter.End))
	}

	query := `
		SELECT id, tenant_id, actor_user_id, actor_email, action_type, severity,
		       entity_type, entity_id, timestamp, ip_address, geolocation,
		       user_agent, metadata
		FROM audit_events
	`
	if len(conds) > 0 {
		query += " WHERE " + joinAnd(conds)
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (*audit.Event, error) {
	var e audit.Event
	var actorEmail, entityType, ipAddress, geolocation, userAgent sql.NullString
	var entityID uuid.NullUUID
	var metadata []byte

	err := row.Scan(
		&e.ID, &e.TenantID, &e.ActorUserID, &actorEmail, &e.ActionType, &e.Severity,
		&entityType, &entityID, &e.Timestamp, &ipAddress, &geolocation,
		&userAgent, &metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning audit event: %w", err)
	}

	e.ActorEmail = actorEmail.String
	e.EntityType = entityType.String
	e.EntityID = entityID.UUID
	e.IPAddress = ipAddress.String
	e.Geolocation = geolocation.String
	e.UserAgent = userAgent.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit event metadata: %w", err)
		}
	}
	return &e, nil
}
