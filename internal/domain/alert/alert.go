package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// SecurityAlert is a tracked, investigable unit of work created from an
// anomaly or a correlation finding. Type, tenant, source and creation
// fields are immutable after creation; everything else mutates only
// through guarded transitions.
type SecurityAlert struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	AlertType Type      `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	Status    Status    `json:"status"`
	RiskScore int       `json:"risk_score"`

	Title       string `json:"title"`
	Description string `json:"description"`

	SubjectUserID uuid.UUID `json:"subject_user_id,omitempty"`
	SubjectEmail  string    `json:"subject_email,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`

	// Exactly one source is set at creation.
	SourceAnomalyID      uuid.UUID `json:"source_anomaly_id,omitempty"`
	SourceCorrelationTag string    `json:"source_correlation_tag,omitempty"`

	AssignedTo uuid.UUID `json:"assigned_to,omitempty"`

	AcknowledgedBy uuid.UUID  `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	ResolvedBy      uuid.UUID  `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	FalsePositiveReason string `json:"false_positive_reason,omitempty"`

	EscalatedTo string     `json:"escalated_to,omitempty"`
	EscalatedBy uuid.UUID  `json:"escalated_by,omitempty"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Version is the optimistic concurrency token checked on every write.
	Version int64 `json:"version"`
}

// NewFromAnomaly creates a New alert tracking a high or critical anomaly.
func NewFromAnomaly(rec *anomaly.Record) (*SecurityAlert, error) {
	if rec == nil {
		return nil, errors.NewValidationError("MISSING_SOURCE", "source anomaly is required")
	}
	alertType, ok := typeForAnomaly[rec.Type]
	if !ok {
		alertType = TypeGeneralSecurityEvent
	}

	now := time.Now().UTC()
	return &SecurityAlert{
		ID:              uuid.New(),
		TenantID:        rec.TenantID,
		AlertType:       alertType,
		Severity:        severityForRisk(rec.RiskLevel),
		Status:          StatusNew,
		RiskScore:       rec.Score,
		Title:           fmt.Sprintf("%s detected for %s", alertType, rec.SubjectEmail),
		Description:     rec.Description,
		SubjectUserID:   rec.SubjectUserID,
		SubjectEmail:    rec.SubjectEmail,
		SourceAnomalyID: rec.ID,
		DetectedAt:      rec.DetectedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}, nil
}

// NewFromCorrelation creates a New alert seeded by a correlation finding.
func NewFromCorrelation(tenantID uuid.UUID, patternTag string, confidence float64, description string) (*SecurityAlert, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if patternTag == "" {
		return nil, errors.NewValidationError("MISSING_PATTERN_TAG", "correlation pattern tag is required")
	}

	severity := SeverityWarning
	if confidence >= 0.8 {
		severity = SeverityCritical
	}

	now := time.Now().UTC()
	return &SecurityAlert{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		AlertType:            TypeCoordinatedActivity,
		Severity:             severity,
		Status:               StatusNew,
		RiskScore:            int(confidence * 100),
		Title:                fmt.Sprintf("Correlated pattern: %s", patternTag),
		Description:          description,
		SourceCorrelationTag: patternTag,
		DetectedAt:           now,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}, nil
}

func severityForRisk(level anomaly.RiskLevel) Severity {
	if level == anomaly.RiskCritical {
		return SeverityEmergency
	}
	return SeverityCritical
}

var typeForAnomaly = map[anomaly.Type]Type{
	anomaly.TypeBruteForceLogin:       TypeFailedLoginThreshold,
	anomaly.TypeOffHoursAccess:        TypeAfterHoursAccess,
	anomaly.TypeGeoVelocity:           TypeImpossibleTravel,
	anomaly.TypeExcessiveDataExport:   TypeMassDataExport,
	anomaly.TypePrivilegeProbing:      TypePrivilegeEscalation,
	anomaly.TypeConcurrentSessions:    TypeConcurrentSessions,
	anomaly.TypeRapidHighRiskActions:  TypeRapidHighRiskActions,
	anomaly.TypeSecuritySettingChange: TypeSecuritySettingChange,
	anomaly.TypeLargeSalaryChange:     TypeSalaryChange,
}

// ThrottleKey identifies alerts that are duplicates for throttling
// purposes: same tenant, type and subject within the cooldown window.
func (a *SecurityAlert) ThrottleKey() string {
	return fmt.Sprintf("%s|%s|%s", a.TenantID, a.AlertType, a.SubjectUserID)
}
