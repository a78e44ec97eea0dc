package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single entry from the platform audit log. Events are produced
// by the surrounding HR platform and are immutable once recorded; this
// module only ever reads them.
type Event struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	ActorUserID uuid.UUID `json:"actor_user_id"`
	ActorEmail  string    `json:"actor_email,omitempty"`

	ActionType ActionType `json:"action_type"`
	Severity   Severity   `json:"severity"`
	EntityType string     `json:"entity_type,omitempty"`
	EntityID   uuid.UUID  `json:"entity_id,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Geolocation string    `json:"geolocation,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`

	// Free-form context recorded with the event, e.g. record_count on
	// export actions or old/new values on field changes.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecordCount extracts the exported record count from event metadata.
// Returns 0 when absent or malformed.
func (e *Event) RecordCount() int {
	if e.Metadata == nil {
		return 0
	}
	switch v := e.Metadata["record_count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// SalaryChange extracts old and new salary values from event metadata.
// ok is false when either value is absent or malformed.
func (e *Event) SalaryChange() (oldSalary, newSalary float64, ok bool) {
	if e.Metadata == nil {
		return 0, 0, false
	}
	oldSalary, okOld := toFloat(e.Metadata["old_salary"])
	newSalary, okNew := toFloat(e.Metadata["new_salary"])
	return oldSalary, newSalary, okOld && okNew
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Filter narrows an event feed query. Zero values mean "no constraint"
// except for the time window, which callers must always bound.
type Filter struct {
	TenantID    uuid.UUID
	ActorUserID uuid.UUID
	ActionTypes []ActionType
	Start       time.Time
	End         time.Time
	Limit       int
}
