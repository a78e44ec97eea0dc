package alerting

import (
	"context"

	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/alert"
)

// Notifier receives alert lifecycle events. Implementations must be safe
// for concurrent use; delivery failures are logged by the manager and never
// fail the triggering operation.
type Notifier interface {
	Name() string
	AlertCreated(ctx context.Context, a *alert.SecurityAlert) error
	AlertEscalated(ctx context.Context, a *alert.SecurityAlert) error
}

// LogNotifier writes alert events to the structured log. Always registered
// so every alert leaves an operational trace even with no other sinks.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) AlertCreated(_ context.Context, a *alert.SecurityAlert) error {
	n.logger.Warn("security alert created",
		zap.String("alert_id", a.ID.String()),
		zap.String("tenant_id", a.TenantID.String()),
		zap.String("alert_type", string(a.AlertType)),
		zap.String("severity", string(a.Severity)),
		zap.Int("risk_score", a.RiskScore),
		zap.String("subject_email", a.SubjectEmail))
	return nil
}

func (n *LogNotifier) AlertEscalated(_ context.Context, a *alert.SecurityAlert) error {
	n.logger.Error("security alert escalated",
		zap.String("alert_id", a.ID.String()),
		zap.String("tenant_id", a.TenantID.String()),
		zap.String("alert_type", string(a.AlertType)),
		zap.String("escalated_to", a.EscalatedTo))
	return nil
}
