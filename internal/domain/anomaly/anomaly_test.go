package anomaly

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novahr/security-engine/internal/domain/errors"
)

func TestNewRecord(t *testing.T) {
	tenantID := uuid.New()
	subjectID := uuid.New()

	tests := []struct {
		name      string
		tenantID  uuid.UUID
		subjectID uuid.UUID
		aType     Type
		score     int
		windowKey string
		wantErr   string
	}{
		{
			name:      "valid record",
			tenantID:  tenantID,
			subjectID: subjectID,
			aType:     TypeBruteForceLogin,
			score:     75,
			windowKey: "abc123",
		},
		{
			name:      "missing tenant",
			tenantID:  uuid.Nil,
			subjectID: subjectID,
			aType:     TypeBruteForceLogin,
			score:     75,
			windowKey: "abc123",
			wantErr:   "tenant ID is required",
		},
		{
			name:      "missing subject",
			tenantID:  tenantID,
			subjectID: uuid.Nil,
			aType:     TypeBruteForceLogin,
			score:     75,
			windowKey: "abc123",
			wantErr:   "subject user ID is required",
		},
		{
			name:      "unknown type",
			tenantID:  tenantID,
			subjectID: subjectID,
			aType:     Type("BOGUS"),
			score:     75,
			windowKey: "abc123",
			wantErr:   "unknown anomaly type",
		},
		{
			name:      "score out of range",
			tenantID:  tenantID,
			subjectID: subjectID,
			aType:     TypeBruteForceLogin,
			score:     120,
			windowKey: "abc123",
			wantErr:   "score must be between 0 and 100",
		},
		{
			name:      "missing window key",
			tenantID:  tenantID,
			subjectID: subjectID,
			aType:     TypeBruteForceLogin,
			score:     75,
			windowKey: "",
			wantErr:   "window key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRecord(tt.tenantID, tt.subjectID, tt.aType, tt.score, tt.windowKey)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, rec.ID)
			assert.Equal(t, StatusOpen, rec.Status)
			assert.Equal(t, RiskHigh, rec.RiskLevel)
			assert.Equal(t, int64(1), rec.Version)
		})
	}
}

func TestRiskLevelForScore_MonotonicStepFunction(t *testing.T) {
	prev := RiskLow
	for score := 0; score <= 100; score++ {
		level := RiskLevelForScore(score)
		assert.GreaterOrEqual(t, level.Rank(), prev.Rank(),
			"risk level must never decrease as score increases (score=%d)", score)
		prev = level
	}

	assert.Equal(t, RiskLow, RiskLevelForScore(25))
	assert.Equal(t, RiskMedium, RiskLevelForScore(50))
	assert.Equal(t, RiskHigh, RiskLevelForScore(75))
	assert.Equal(t, RiskCritical, RiskLevelForScore(90))
}

func TestRiskLevel_RequiresAlert(t *testing.T) {
	assert.False(t, RiskLow.RequiresAlert())
	assert.False(t, RiskMedium.RequiresAlert())
	assert.True(t, RiskHigh.RequiresAlert())
	assert.True(t, RiskCritical.RequiresAlert())
}

func TestRecord_Merge(t *testing.T) {
	rec, err := NewRecord(uuid.New(), uuid.New(), TypeBruteForceLogin, 75, "w1")
	require.NoError(t, err)

	evidence := Evidence{Summary: "8 failed logins", EventIDs: []uuid.UUID{uuid.New()}}
	require.NoError(t, rec.Merge(90, evidence, "8 failed login attempts in 10 minutes"))

	assert.Equal(t, 90, rec.Score)
	assert.Equal(t, RiskCritical, rec.RiskLevel)
	assert.Equal(t, evidence, rec.Evidence)

	// Lower score never downgrades an existing record.
	require.NoError(t, rec.Merge(60, Evidence{Summary: "fewer"}, ""))
	assert.Equal(t, 90, rec.Score)
	assert.Equal(t, RiskCritical, rec.RiskLevel)

	// Closed records refuse re-detection merges.
	require.NoError(t, rec.UpdateStatus(StatusResolved, uuid.New(), "", "handled"))
	err = rec.Merge(95, Evidence{}, "")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestRecord_UpdateStatus(t *testing.T) {
	investigator := uuid.New()

	t.Run("resolution required for terminal statuses", func(t *testing.T) {
		rec, err := NewRecord(uuid.New(), uuid.New(), TypeOffHoursAccess, 50, "w1")
		require.NoError(t, err)

		err = rec.UpdateStatus(StatusResolved, investigator, "looked into it", "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

		err = rec.UpdateStatus(StatusFalsePositive, investigator, "", "")
		require.Error(t, err)
	})

	t.Run("terminal record rejects further updates", func(t *testing.T) {
		rec, err := NewRecord(uuid.New(), uuid.New(), TypeOffHoursAccess, 50, "w1")
		require.NoError(t, err)

		require.NoError(t, rec.UpdateStatus(StatusFalsePositive, investigator, "", "scheduled maintenance"))
		assert.Equal(t, "scheduled maintenance", rec.Resolution)
		assert.NotNil(t, rec.ResolvedAt)

		err = rec.UpdateStatus(StatusUnderInvestigation, investigator, "", "")
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("investigation stamps investigator and timestamp", func(t *testing.T) {
		rec, err := NewRecord(uuid.New(), uuid.New(), TypeGeoVelocity, 90, "w1")
		require.NoError(t, err)

		before := time.Now().UTC()
		require.NoError(t, rec.UpdateStatus(StatusUnderInvestigation, investigator, "checking VPN logs", ""))
		assert.Equal(t, investigator, rec.InvestigatorID)
		require.NotNil(t, rec.InvestigatedAt)
		assert.False(t, rec.InvestigatedAt.Before(before))
		assert.Equal(t, "checking VPN logs", rec.InvestigationNotes)
	})
}

func TestWindowKeyFor_Deterministic(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	assert.Equal(t, WindowKeyFor(start, end), WindowKeyFor(start, end))
	assert.NotEqual(t, WindowKeyFor(start, end), WindowKeyFor(start, end.Add(time.Minute)))

	// Same instant in a different location yields the same key.
	loc := time.FixedZone("UTC+2", 2*3600)
	assert.Equal(t, WindowKeyFor(start, end), WindowKeyFor(start.In(loc), end.In(loc)))
}
