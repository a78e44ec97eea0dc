// Package fixtures provides builders for test entities.
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/audit"
)

// EventBuilder builds test audit events.
type EventBuilder struct {
	event audit.Event
}

// NewEvent creates a builder with sensible defaults for the tenant.
func NewEvent(tenantID uuid.UUID) *EventBuilder {
	return &EventBuilder{event: audit.Event{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ActionType: audit.ActionLoginSuccess,
		Severity:   audit.SeverityInfo,
		Timestamp:  time.Now().UTC(),
		IPAddress:  "203.0.113.10",
	}}
}

func (b *EventBuilder) WithActor(userID uuid.UUID, email string) *EventBuilder {
	b.event.ActorUserID = userID
	b.event.ActorEmail = email
	return b
}

func (b *EventBuilder) WithAction(action audit.ActionType) *EventBuilder {
	b.event.ActionType = action
	return b
}

func (b *EventBuilder) WithSeverity(severity audit.Severity) *EventBuilder {
	b.event.Severity = severity
	return b
}

func (b *EventBuilder) WithEntity(entityType string, entityID uuid.UUID) *EventBuilder {
	b.event.EntityType = entityType
	b.event.EntityID = entityID
	return b
}

func (b *EventBuilder) At(t time.Time) *EventBuilder {
	b.event.Timestamp = t.UTC()
	return b
}

func (b *EventBuilder) FromIP(ip string) *EventBuilder {
	b.event.IPAddress = ip
	return b
}

func (b *EventBuilder) FromLocation(geo string) *EventBuilder {
	b.event.Geolocation = geo
	return b
}

func (b *EventBuilder) WithMetadata(key string, value any) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]any)
	}
	b.event.Metadata[key] = value
	return b
}

func (b *EventBuilder) WithRecordCount(n int) *EventBuilder {
	return b.WithMetadata("record_count", n)
}

func (b *EventBuilder) WithSalaryChange(oldSalary, newSalary float64) *EventBuilder {
	return b.WithMetadata("old_salary", oldSalary).WithMetadata("new_salary", newSalary)
}

// Build returns the assembled event.
func (b *EventBuilder) Build() *audit.Event {
	cp := b.event
	return &cp
}

// Repeat builds n copies of the event spaced gap apart, each with a fresh
// ID, starting at the builder's timestamp.
func (b *EventBuilder) Repeat(n int, gap time.Duration) []*audit.Event {
	events := make([]*audit.Event, n)
	for i := 0; i < n; i++ {
		cp := b.event
		cp.ID = uuid.New()
		cp.Timestamp = b.event.Timestamp.Add(time.Duration(i) * gap)
		events[i] = &cp
	}
	return events
}
