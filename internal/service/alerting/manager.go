// Package alerting owns the security alert lifecycle: creation from
// detection and correlation findings, duplicate suppression, and the
// guarded workflow transitions.
package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/alert"
	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// DefaultCooldown suppresses duplicate alerts for the same tenant, type and
// subject raised within this window.
const DefaultCooldown = 15 * time.Minute

// Throttle claims a suppression key for the cooldown duration. Claim
// returns false when the key is already held, meaning an equivalent alert
// was raised recently.
type Throttle interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Instruments receives alert creation counters.
type Instruments interface {
	AlertCreated(alertType, severity string)
	AlertThrottled()
}

// Manager creates alerts and drives them through the investigation
// workflow. All writes go through optimistic versioning; a lost race
// surfaces as a retryable conflict for the caller to reload and retry.
type Manager struct {
	alerts      alert.Repository
	throttle    Throttle
	notifiers   []Notifier
	cooldown    time.Duration
	instruments Instruments
	logger      *zap.Logger
}

// WithInstruments attaches creation counters. Nil leaves the manager
// uninstrumented.
func (m *Manager) WithInstruments(in Instruments) *Manager {
	m.instruments = in
	return m
}

// NewManager wires an alert lifecycle manager. throttle may be nil to
// disable duplicate suppression; cooldown <= 0 uses DefaultCooldown.
func NewManager(alerts alert.Repository, throttle Throttle, cooldown time.Duration, logger *zap.Logger, notifiers ...Notifier) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Manager{
		alerts:    alerts,
		throttle:  throttle,
		notifiers: notifiers,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// CreateFromAnomaly raises an alert tracking a high or critical anomaly.
// Creation is idempotent per source anomaly and throttled per
// (tenant, type, subject): within the cooldown the prior alert is returned
// and nothing new is created. A nil alert with nil error means the alert
// was suppressed and no prior one could be located.
func (m *Manager) CreateFromAnomaly(ctx context.Context, rec *anomaly.Record) (*alert.SecurityAlert, error) {
	if existing, err := m.alerts.FindBySourceAnomaly(ctx, rec.ID); err == nil {
		return existing, nil
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	a, err := alert.NewFromAnomaly(rec)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, a)
}

// CreateFromCorrelation raises an alert for a correlation finding, throttled
// by its pattern tag.
func (m *Manager) CreateFromCorrelation(ctx context.Context, tenantID uuid.UUID, patternTag string, confidence float64, description string) (*alert.SecurityAlert, error) {
	a, err := alert.NewFromCorrelation(tenantID, patternTag, confidence, description)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, a)
}

func (m *Manager) create(ctx context.Context, a *alert.SecurityAlert) (*alert.SecurityAlert, error) {
	if m.throttle != nil {
		claimed, err := m.throttle.Claim(ctx, a.ThrottleKey(), m.cooldown)
		if err != nil {
			m.logger.Warn("alert throttle unavailable, creating without suppression", zap.Error(err))
		} else if !claimed {
			if m.instruments != nil {
				m.instruments.AlertThrottled()
			}
			prior := m.findRecent(ctx, a)
			m.logger.Info("alert suppressed by cooldown",
				zap.String("throttle_key", a.ThrottleKey()),
				zap.Bool("prior_found", prior != nil))
			return prior, nil
		}
	}

	if err := m.alerts.Create(ctx, a); err != nil {
		if errors.IsConflict(err) && a.SourceAnomalyID != uuid.Nil {
			// Lost the insert race for this anomaly; the winner's alert stands.
			return m.alerts.FindBySourceAnomaly(ctx, a.SourceAnomalyID)
		}
		return nil, err
	}

	if m.instruments != nil {
		m.instruments.AlertCreated(string(a.AlertType), string(a.Severity))
	}
	m.notify(ctx, func(n Notifier) error { return n.AlertCreated(ctx, a) })
	return a, nil
}

// findRecent locates the alert that caused the throttle hit.
func (m *Manager) findRecent(ctx context.Context, a *alert.SecurityAlert) *alert.SecurityAlert {
	recent, _, err := m.alerts.List(ctx, alert.Filter{
		TenantID:  a.TenantID,
		AlertType: a.AlertType,
		Start:     time.Now().UTC().Add(-m.cooldown),
	}, 1, 50)
	if err != nil {
		return nil
	}
	for _, prior := range recent {
		if prior.SubjectUserID == a.SubjectUserID {
			return prior
		}
	}
	return nil
}

// GetAlert returns one alert by ID.
func (m *Manager) GetAlert(ctx context.Context, id uuid.UUID) (*alert.SecurityAlert, error) {
	return m.alerts.GetByID(ctx, id)
}

// ListAlerts returns a page of alerts plus the unpaged total.
func (m *Manager) ListAlerts(ctx context.Context, filter alert.Filter, pageNumber, pageSize int) ([]*alert.SecurityAlert, int, error) {
	if pageNumber < 1 || pageSize < 1 || pageSize > 100 {
		return nil, 0, errors.ErrInvalidPaging
	}
	return m.alerts.List(ctx, filter, pageNumber, pageSize)
}

// Acknowledge marks a New alert as seen by the actor.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actorID uuid.UUID) (*alert.SecurityAlert, error) {
	return m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.Acknowledge(actorID)
	})
}

// Assign attaches an investigator without changing the workflow status.
func (m *Manager) Assign(ctx context.Context, alertID, assigneeID uuid.UUID) (*alert.SecurityAlert, error) {
	return m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.Assign(assigneeID)
	})
}

// MarkInProgress moves an alert into active investigation.
func (m *Manager) MarkInProgress(ctx context.Context, alertID uuid.UUID) (*alert.SecurityAlert, error) {
	return m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.MarkInProgress()
	})
}

// Resolve closes an alert with resolution notes.
func (m *Manager) Resolve(ctx context.Context, alertID, actorID uuid.UUID, notes string) (*alert.SecurityAlert, error) {
	return m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.Resolve(actorID, notes)
	})
}

// MarkFalsePositive closes an alert as a false alarm.
func (m *Manager) MarkFalsePositive(ctx context.Context, alertID, actorID uuid.UUID, reason string) (*alert.SecurityAlert, error) {
	return m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.MarkFalsePositive(actorID, reason)
	})
}

// Escalate hands an alert to a higher tier and notifies subscribers.
func (m *Manager) Escalate(ctx context.Context, alertID uuid.UUID, target string, actorID uuid.UUID) (*alert.SecurityAlert, error) {
	a, err := m.transition(ctx, alertID, func(a *alert.SecurityAlert) error {
		return a.Escalate(target, actorID)
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, func(n Notifier) error { return n.AlertEscalated(ctx, a) })
	return a, nil
}

// transition loads, applies a guarded mutation and writes back under the
// version check. Guard failures surface unchanged; a stale version is a
// retryable conflict for the caller.
func (m *Manager) transition(ctx context.Context, alertID uuid.UUID, apply func(*alert.SecurityAlert) error) (*alert.SecurityAlert, error) {
	a, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := apply(a); err != nil {
		return nil, err
	}
	if err := m.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Creator adapts the Manager to the error-only creation port the detection
// service consumes.
type Creator struct {
	Manager *Manager
}

func (c Creator) CreateFromAnomaly(ctx context.Context, rec *anomaly.Record) error {
	_, err := c.Manager.CreateFromAnomaly(ctx, rec)
	return err
}

func (m *Manager) notify(ctx context.Context, deliver func(Notifier) error) {
	for _, n := range m.notifiers {
		if err := deliver(n); err != nil {
			m.logger.Error("alert notification failed",
				zap.String("notifier", n.Name()),
				zap.Error(err))
		}
	}
}
