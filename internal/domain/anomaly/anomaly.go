package anomaly

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/errors"
)

// Record is a scored deviation from expected behavior, attributed to one
// user within one tenant and detection window.
type Record struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	SubjectUserID uuid.UUID `json:"subject_user_id"`
	SubjectEmail  string    `json:"subject_email,omitempty"`

	Type      Type      `json:"type"`
	Score     int       `json:"score"`
	RiskLevel RiskLevel `json:"risk_level"`
	Status    Status    `json:"status"`

	// WindowKey identifies the detection window the record belongs to.
	// At most one Open record exists per (tenant, subject, type, window key);
	// re-detection within the same window updates in place.
	WindowKey  string    `json:"window_key"`
	DetectedAt time.Time `json:"detected_at"`

	Description   string   `json:"description"`
	Evidence      Evidence `json:"evidence"`
	DetectionRule string   `json:"detection_rule"`

	InvestigatorID     uuid.UUID  `json:"investigator_id,omitempty"`
	InvestigatedAt     *time.Time `json:"investigated_at,omitempty"`
	InvestigationNotes string     `json:"investigation_notes,omitempty"`
	Resolution         string     `json:"resolution,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the optimistic concurrency token. Store writes succeed
	// only when the persisted version matches.
	Version int64 `json:"version"`
}

// Evidence summarizes why the record was created and which audit events
// contributed to it.
type Evidence struct {
	Summary  string         `json:"summary,omitempty"`
	EventIDs []uuid.UUID    `json:"event_ids,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// NewRecord creates an Open anomaly record with validation.
func NewRecord(tenantID, subjectUserID uuid.UUID, anomalyType Type, score int, windowKey string) (*Record, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if subjectUserID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_SUBJECT_ID", "subject user ID is required")
	}
	if !anomalyType.IsValid() {
		return nil, errors.NewValidationError("INVALID_ANOMALY_TYPE",
			fmt.Sprintf("unknown anomaly type: %s", anomalyType))
	}
	if score < 0 || score > 100 {
		return nil, errors.NewValidationError("INVALID_SCORE", "score must be between 0 and 100")
	}
	if windowKey == "" {
		return nil, errors.NewValidationError("MISSING_WINDOW_KEY", "window key is required")
	}

	now := time.Now().UTC()
	return &Record{
		ID:            uuid.New(),
		TenantID:      tenantID,
		SubjectUserID: subjectUserID,
		Type:          anomalyType,
		Score:         score,
		RiskLevel:     RiskLevelForScore(score),
		Status:        StatusOpen,
		WindowKey:     windowKey,
		DetectedAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// DedupKey returns the identity under which Open records are deduplicated.
func (r *Record) DedupKey() string {
	return DedupKey(r.TenantID, r.SubjectUserID, r.Type, r.WindowKey)
}

// DedupKey derives the dedup identity for an (tenant, subject, type, window).
func DedupKey(tenantID, subjectUserID uuid.UUID, t Type, windowKey string) string {
	return fmt.Sprintf("%s|%s|%s|%s", tenantID, subjectUserID, t, windowKey)
}

// WindowKeyFor derives a stable window key from the detection window bounds.
func WindowKeyFor(windowStart, windowEnd time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d", windowStart.UTC().Unix(), windowEnd.UTC().Unix())))
	return fmt.Sprintf("%x", sum[:8])
}

// Merge folds a re-detection of the same anomaly into the existing Open
// record: the higher score wins and evidence is replaced with the fresher
// observation. Only Open records may be merged.
func (r *Record) Merge(score int, evidence Evidence, description string) error {
	if r.Status != StatusOpen {
		return errors.NewConflictError("only open anomalies can be updated by re-detection")
	}
	if score > r.Score {
		r.Score = score
		r.RiskLevel = RiskLevelForScore(score)
	}
	r.Evidence = evidence
	if description != "" {
		r.Description = description
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus moves the record through the investigation workflow.
// Resolution text is required when closing as Resolved or FalsePositive.
func (r *Record) UpdateStatus(status Status, investigatorID uuid.UUID, notes, resolution string) error {
	if !status.IsValid() {
		return errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("unknown anomaly status: %s", status))
	}
	if investigatorID == uuid.Nil {
		return errors.NewValidationError("MISSING_INVESTIGATOR", "investigator ID is required")
	}
	if r.Status.IsTerminal() {
		return errors.NewConflictError("anomaly already finalized")
	}
	if status.IsTerminal() && resolution == "" {
		return errors.NewValidationError("MISSING_RESOLUTION",
			"resolution is required when resolving or dismissing an anomaly")
	}

	now := time.Now().UTC()
	r.Status = status
	r.InvestigatorID = investigatorID
	r.InvestigatedAt = &now
	if notes != "" {
		r.InvestigationNotes = notes
	}
	if status.IsTerminal() {
		r.Resolution = resolution
		r.ResolvedAt = &now
	}
	r.UpdatedAt = now
	return nil
}
