package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/errors"
)

// EventKind names a lifecycle event applied to an alert.
type EventKind string

const (
	EventAcknowledge       EventKind = "acknowledge"
	EventAssign            EventKind = "assign"
	EventMarkInProgress    EventKind = "mark_in_progress"
	EventResolve           EventKind = "resolve"
	EventMarkFalsePositive EventKind = "mark_false_positive"
	EventEscalate          EventKind = "escalate"
)

// transitionTable declares which statuses admit which events. Assign is a
// status-preserving event; all others move the alert to a fixed target.
var transitionTable = map[EventKind]map[Status]bool{
	EventAcknowledge: {
		StatusNew: true,
	},
	EventAssign: {
		StatusNew:          true,
		StatusAcknowledged: true,
	},
	EventMarkInProgress: {
		StatusNew:          true,
		StatusAcknowledged: true,
	},
	EventResolve: {
		StatusNew:          true,
		StatusAcknowledged: true,
		StatusInProgress:   true,
	},
	EventMarkFalsePositive: {
		StatusNew:          true,
		StatusAcknowledged: true,
		StatusInProgress:   true,
	},
	EventEscalate: {
		StatusNew:          true,
		StatusAcknowledged: true,
		StatusInProgress:   true,
	},
}

// CanApply reports whether the event is admissible from the current status.
func (a *SecurityAlert) CanApply(event EventKind) bool {
	allowed, ok := transitionTable[event]
	return ok && allowed[a.Status]
}

func (a *SecurityAlert) checkTransition(event EventKind) error {
	if a.Status.IsTerminal() {
		return errors.ErrAlertFinalized
	}
	if !a.CanApply(event) {
		return errors.NewConflictError(
			"event " + string(event) + " not allowed from status " + string(a.Status))
	}
	return nil
}

// Acknowledge records that an investigator has seen the alert.
func (a *SecurityAlert) Acknowledge(userID uuid.UUID) error {
	if userID == uuid.Nil {
		return errors.NewValidationError("MISSING_USER_ID", "acknowledging user is required")
	}
	if err := a.checkTransition(EventAcknowledge); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = userID
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	return nil
}

// Assign hands the alert to an investigator without changing status.
func (a *SecurityAlert) Assign(assigneeID uuid.UUID) error {
	if assigneeID == uuid.Nil {
		return errors.NewValidationError("MISSING_ASSIGNEE", "assignee is required")
	}
	if err := a.checkTransition(EventAssign); err != nil {
		return err
	}
	a.AssignedTo = assigneeID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkInProgress signals active investigation.
func (a *SecurityAlert) MarkInProgress() error {
	if err := a.checkTransition(EventMarkInProgress); err != nil {
		return err
	}
	a.Status = StatusInProgress
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve closes the alert as handled. Notes are mandatory.
func (a *SecurityAlert) Resolve(userID uuid.UUID, notes string) error {
	if userID == uuid.Nil {
		return errors.NewValidationError("MISSING_USER_ID", "resolving user is required")
	}
	if notes == "" {
		return errors.NewValidationError("MISSING_RESOLUTION_NOTES", "resolution notes are required")
	}
	if err := a.checkTransition(EventResolve); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedBy = userID
	a.ResolvedAt = &now
	a.ResolutionNotes = notes
	a.UpdatedAt = now
	return nil
}

// MarkFalsePositive closes the alert as a benign detection. A reason is
// mandatory.
func (a *SecurityAlert) MarkFalsePositive(userID uuid.UUID, reason string) error {
	if userID == uuid.Nil {
		return errors.NewValidationError("MISSING_USER_ID", "dismissing user is required")
	}
	if reason == "" {
		return errors.NewValidationError("MISSING_FALSE_POSITIVE_REASON", "false positive reason is required")
	}
	if err := a.checkTransition(EventMarkFalsePositive); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Status = StatusFalsePositive
	a.ResolvedBy = userID
	a.ResolvedAt = &now
	a.FalsePositiveReason = reason
	a.UpdatedAt = now
	return nil
}

// Escalate transfers ownership to a senior target. Terminal for this
// manager's lifecycle.
func (a *SecurityAlert) Escalate(target string, byUserID uuid.UUID) error {
	if target == "" {
		return errors.NewValidationError("MISSING_ESCALATION_TARGET", "escalation target is required")
	}
	if err := a.checkTransition(EventEscalate); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Status = StatusEscalated
	a.EscalatedTo = target
	a.EscalatedBy = byUserID
	a.EscalatedAt = &now
	a.UpdatedAt = now
	return nil
}
