package alert

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

func newTestAlert(t *testing.T) *SecurityAlert {
	t.Helper()
	rec, err := anomaly.NewRecord(uuid.New(), uuid.New(), anomaly.TypeBruteForceLogin, 75, "w1")
	require.NoError(t, err)
	a, err := NewFromAnomaly(rec)
	require.NoError(t, err)
	return a
}

func TestNewFromAnomaly(t *testing.T) {
	a := newTestAlert(t)

	assert.Equal(t, StatusNew, a.Status)
	assert.Equal(t, TypeFailedLoginThreshold, a.AlertType)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, 75, a.RiskScore)
	assert.Equal(t, int64(1), a.Version)
	assert.NotEqual(t, uuid.Nil, a.SourceAnomalyID)

	_, err := NewFromAnomaly(nil)
	require.Error(t, err)
}

func TestNewFromAnomaly_CriticalMapsToEmergency(t *testing.T) {
	rec, err := anomaly.NewRecord(uuid.New(), uuid.New(), anomaly.TypeGeoVelocity, 90, "w1")
	require.NoError(t, err)
	a, err := NewFromAnomaly(rec)
	require.NoError(t, err)
	assert.Equal(t, SeverityEmergency, a.Severity)
	assert.Equal(t, TypeImpossibleTravel, a.AlertType)
}

func TestTransitions_HappyPath(t *testing.T) {
	investigator := uuid.New()
	a := newTestAlert(t)

	require.NoError(t, a.Acknowledge(investigator))
	assert.Equal(t, StatusAcknowledged, a.Status)
	assert.Equal(t, investigator, a.AcknowledgedBy)
	assert.NotNil(t, a.AcknowledgedAt)

	require.NoError(t, a.Assign(investigator))
	assert.Equal(t, StatusAcknowledged, a.Status, "assign must not change status")
	assert.Equal(t, investigator, a.AssignedTo)

	require.NoError(t, a.MarkInProgress())
	assert.Equal(t, StatusInProgress, a.Status)

	require.NoError(t, a.Resolve(investigator, "blocked the source IP"))
	assert.Equal(t, StatusResolved, a.Status)
	assert.Equal(t, "blocked the source IP", a.ResolutionNotes)
	assert.NotNil(t, a.ResolvedAt)
}

func TestTransitions_ResolveDirectlyFromNew(t *testing.T) {
	a := newTestAlert(t)
	require.NoError(t, a.Resolve(uuid.New(), "confirmed benign"))
	assert.Equal(t, StatusResolved, a.Status)
}

func TestTransitions_Guards(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name    string
		apply   func(a *SecurityAlert) error
		wantErr string
	}{
		{
			name:    "resolve with empty notes",
			apply:   func(a *SecurityAlert) error { return a.Resolve(userID, "") },
			wantErr: "resolution notes are required",
		},
		{
			name:    "false positive with empty reason",
			apply:   func(a *SecurityAlert) error { return a.MarkFalsePositive(userID, "") },
			wantErr: "false positive reason is required",
		},
		{
			name:    "escalate with empty target",
			apply:   func(a *SecurityAlert) error { return a.Escalate("", userID) },
			wantErr: "escalation target is required",
		},
		{
			name:    "assign nil identity",
			apply:   func(a *SecurityAlert) error { return a.Assign(uuid.Nil) },
			wantErr: "assignee is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAlert(t)
			err := tt.apply(a)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			assert.Equal(t, StatusNew, a.Status, "failed guard must not mutate state")
		})
	}
}

func TestTransitions_TerminalStatesRejectEverything(t *testing.T) {
	userID := uuid.New()

	finalize := map[string]func(a *SecurityAlert) error{
		"resolved":       func(a *SecurityAlert) error { return a.Resolve(userID, "done") },
		"false positive": func(a *SecurityAlert) error { return a.MarkFalsePositive(userID, "test data") },
		"escalated":      func(a *SecurityAlert) error { return a.Escalate("secops-lead", userID) },
	}

	for name, fin := range finalize {
		t.Run(name, func(t *testing.T) {
			a := newTestAlert(t)
			require.NoError(t, fin(a))
			require.True(t, a.Status.IsTerminal())
			statusBefore := a.Status

			attempts := []error{
				a.Acknowledge(userID),
				a.Assign(userID),
				a.MarkInProgress(),
				a.Resolve(userID, "again"),
				a.MarkFalsePositive(userID, "again"),
				a.Escalate("someone-else", userID),
			}
			for _, err := range attempts {
				require.Error(t, err)
				assert.True(t, errors.IsConflict(err), "expected conflict, got %v", err)
			}
			assert.Equal(t, statusBefore, a.Status)
		})
	}
}

func TestTransitions_InvalidSequences(t *testing.T) {
	a := newTestAlert(t)
	require.NoError(t, a.MarkInProgress())

	// Acknowledge is only admissible from New.
	err := a.Acknowledge(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Assign is not admissible once in progress.
	err = a.Assign(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestEscalate_FromEveryNonTerminalState(t *testing.T) {
	userID := uuid.New()

	prepare := map[string]func(a *SecurityAlert){
		"new":          func(a *SecurityAlert) {},
		"acknowledged": func(a *SecurityAlert) { require.NoError(t, a.Acknowledge(userID)) },
		"in progress":  func(a *SecurityAlert) { require.NoError(t, a.MarkInProgress()) },
	}

	for name, prep := range prepare {
		t.Run(name, func(t *testing.T) {
			a := newTestAlert(t)
			prep(a)
			require.NoError(t, a.Escalate("security-director", userID))
			assert.Equal(t, StatusEscalated, a.Status)
			assert.Equal(t, "security-director", a.EscalatedTo)
			assert.NotNil(t, a.EscalatedAt)
		})
	}
}
