package detection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/audit"
	"github.com/novahr/security-engine/internal/testutil"
	"github.com/novahr/security-engine/internal/testutil/fixtures"
)

var windowStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ruleInput(tenantID uuid.UUID, events []*audit.Event) *RuleInput {
	end := windowStart.Add(time.Hour)
	return &RuleInput{
		TenantID:    tenantID,
		WindowStart: windowStart,
		WindowEnd:   end,
		WindowKey:   anomaly.WindowKeyFor(windowStart, end),
		Events:      events,
		ByUser:      groupByActor(events),
		Feed:        &testutil.StaticFeed{Events: events},
		Thresholds:  DefaultThresholds(),
	}
}

func TestBruteForceLoginRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name      string
		attempts  int
		gap       time.Duration
		wantScore int
	}{
		{"below threshold", 4, time.Minute, 0},
		{"at threshold", 5, time.Minute, scoreHigh},
		{"critical volume", 10, 30 * time.Second, scoreCritical},
		{"spread too thin", 5, 11 * time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := fixtures.NewEvent(tenantID).
				WithActor(userID, "user@corp.test").
				WithAction(audit.ActionLoginFailed).
				At(windowStart).
				Repeat(tt.attempts, tt.gap)

			findings, err := (bruteForceLoginRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
			require.NoError(t, err)

			if tt.wantScore == 0 {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, userID, findings[0].SubjectUserID)
			assert.Equal(t, tt.wantScore, findings[0].Score)
			assert.NotEmpty(t, findings[0].Evidence.EventIDs)
		})
	}
}

func TestOffHoursAccessRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	night := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	build := func(at time.Time, action audit.ActionType) *audit.Event {
		return fixtures.NewEvent(tenantID).WithActor(userID, "hr@corp.test").WithAction(action).At(at).Build()
	}

	t.Run("sensitive action at night triggers", func(t *testing.T) {
		events := []*audit.Event{build(night, audit.ActionSalaryUpdated)}
		findings, err := (offHoursAccessRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreMedium, findings[0].Score)
	})

	t.Run("early morning counts as off hours", func(t *testing.T) {
		events := []*audit.Event{build(earlyMorning, audit.ActionDataExported)}
		findings, err := (offHoursAccessRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Len(t, findings, 1)
	})

	t.Run("midday sensitive action ignored", func(t *testing.T) {
		events := []*audit.Event{build(midday, audit.ActionSalaryUpdated)}
		findings, err := (offHoursAccessRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("non-sensitive action at night ignored", func(t *testing.T) {
		events := []*audit.Event{build(night, audit.ActionRecordViewed)}
		findings, err := (offHoursAccessRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestGeoVelocityRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	login := func(at time.Time, geo string) *audit.Event {
		return fixtures.NewEvent(tenantID).
			WithActor(userID, "traveler@corp.test").
			WithAction(audit.ActionLoginSuccess).
			At(at).FromLocation(geo).Build()
	}

	t.Run("distant logins minutes apart trigger", func(t *testing.T) {
		events := []*audit.Event{
			login(windowStart, "Berlin, DE"),
			login(windowStart.Add(10*time.Minute), "Singapore, SG"),
		}
		findings, err := (geoVelocityRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreCritical, findings[0].Score)
		assert.Len(t, findings[0].Evidence.EventIDs, 2)
	})

	t.Run("same location ignored", func(t *testing.T) {
		events := []*audit.Event{
			login(windowStart, "Berlin, DE"),
			login(windowStart.Add(10*time.Minute), "Berlin, DE"),
		}
		findings, err := (geoVelocityRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("hours between logins is plausible travel", func(t *testing.T) {
		events := []*audit.Event{
			login(windowStart, "Berlin, DE"),
			login(windowStart.Add(3*time.Hour), "Singapore, SG"),
		}
		findings, err := (geoVelocityRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("missing geolocation ignored", func(t *testing.T) {
		events := []*audit.Event{
			login(windowStart, ""),
			login(windowStart.Add(time.Minute), "Singapore, SG"),
		}
		findings, err := (geoVelocityRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestExcessiveExportRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	export := func(count int) *audit.Event {
		return fixtures.NewEvent(tenantID).
			WithActor(userID, "analyst@corp.test").
			WithAction(audit.ActionDataExported).
			At(windowStart).WithRecordCount(count).Build()
	}

	tests := []struct {
		name      string
		counts    []int
		wantScore int
	}{
		{"below threshold", []int{100, 200}, 0},
		{"cumulative exports cross threshold", []int{300, 250}, scoreHigh},
		{"critical volume", []int{600, 500}, scoreCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []*audit.Event
			for _, c := range tt.counts {
				events = append(events, export(c))
			}
			findings, err := (excessiveExportRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
			require.NoError(t, err)
			if tt.wantScore == 0 {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, tt.wantScore, findings[0].Score)
		})
	}
}

func TestPrivilegeProbingRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	t.Run("self permission grant is critical", func(t *testing.T) {
		events := []*audit.Event{
			fixtures.NewEvent(tenantID).
				WithActor(userID, "admin@corp.test").
				WithAction(audit.ActionPermissionGranted).
				WithEntity("user", userID).
				At(windowStart).Build(),
		}
		findings, err := (privilegeProbingRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreCritical, findings[0].Score)
	})

	t.Run("granting others is normal", func(t *testing.T) {
		events := []*audit.Event{
			fixtures.NewEvent(tenantID).
				WithActor(userID, "admin@corp.test").
				WithAction(audit.ActionPermissionGranted).
				WithEntity("user", uuid.New()).
				At(windowStart).Build(),
		}
		findings, err := (privilegeProbingRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("repeated denials flag probing", func(t *testing.T) {
		events := fixtures.NewEvent(tenantID).
			WithActor(userID, "intern@corp.test").
			WithAction(audit.ActionAccessDenied).
			At(windowStart).
			Repeat(6, time.Minute)
		findings, err := (privilegeProbingRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreHigh, findings[0].Score)
	})
}

func TestConcurrentSessionsRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	login := func(ip string, offset time.Duration) *audit.Event {
		return fixtures.NewEvent(tenantID).
			WithActor(userID, "user@corp.test").
			WithAction(audit.ActionLoginSuccess).
			At(windowStart.Add(offset)).FromIP(ip).Build()
	}

	t.Run("three distinct IPs trigger", func(t *testing.T) {
		events := []*audit.Event{
			login("203.0.113.1", 0),
			login("198.51.100.2", 5*time.Minute),
			login("192.0.2.3", 10*time.Minute),
		}
		findings, err := (concurrentSessionsRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreMedium, findings[0].Score)
	})

	t.Run("repeat logins from one IP ignored", func(t *testing.T) {
		events := []*audit.Event{
			login("203.0.113.1", 0),
			login("203.0.113.1", 5*time.Minute),
			login("203.0.113.1", 10*time.Minute),
		}
		findings, err := (concurrentSessionsRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestRapidHighRiskRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	t.Run("burst of high-risk actions triggers", func(t *testing.T) {
		events := fixtures.NewEvent(tenantID).
			WithActor(userID, "hr@corp.test").
			WithAction(audit.ActionSalaryUpdated).
			At(windowStart).
			Repeat(5, 10*time.Second)
		findings, err := (rapidHighRiskRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreHigh, findings[0].Score)
	})

	t.Run("same volume over minutes is normal", func(t *testing.T) {
		events := fixtures.NewEvent(tenantID).
			WithActor(userID, "hr@corp.test").
			WithAction(audit.ActionSalaryUpdated).
			At(windowStart).
			Repeat(5, 2*time.Minute)
		findings, err := (rapidHighRiskRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestSecuritySettingRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	events := []*audit.Event{
		fixtures.NewEvent(tenantID).
			WithActor(userID, "admin@corp.test").
			WithAction(audit.ActionSecuritySettingChanged).
			At(windowStart).Build(),
	}
	findings, err := (securitySettingRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, scoreHigh, findings[0].Score)
}

func TestUnusualDataAccessRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	view := func(at time.Time) *audit.Event {
		return fixtures.NewEvent(tenantID).
			WithActor(userID, "user@corp.test").
			WithAction(audit.ActionRecordViewed).
			At(at).Build()
	}

	t.Run("no access baseline triggers", func(t *testing.T) {
		in := ruleInput(tenantID, []*audit.Event{view(windowStart.Add(time.Minute))})
		findings, err := (unusualDataAccessRule{}).Evaluate(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, scoreLow, findings[0].Score)
	})

	t.Run("recent history suppresses finding", func(t *testing.T) {
		history := view(windowStart.AddDate(0, 0, -3))
		current := view(windowStart.Add(time.Minute))
		in := ruleInput(tenantID, []*audit.Event{current})
		in.Feed = &testutil.StaticFeed{Events: []*audit.Event{history, current}}
		findings, err := (unusualDataAccessRule{}).Evaluate(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestLargeSalaryChangeRule(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	change := func(oldSalary, newSalary float64) *audit.Event {
		return fixtures.NewEvent(tenantID).
			WithActor(userID, "payroll@corp.test").
			WithAction(audit.ActionSalaryUpdated).
			At(windowStart).WithSalaryChange(oldSalary, newSalary).Build()
	}

	tests := []struct {
		name      string
		oldSalary float64
		newSalary float64
		wantScore int
	}{
		{"modest raise", 50000, 55000, 0},
		{"half again", 50000, 75000, scoreHigh},
		{"doubled", 50000, 100000, scoreCritical},
		{"halved counts too", 50000, 25000, scoreHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []*audit.Event{change(tt.oldSalary, tt.newSalary)}
			findings, err := (largeSalaryChangeRule{}).Evaluate(context.Background(), ruleInput(tenantID, events))
			require.NoError(t, err)
			if tt.wantScore == 0 {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, tt.wantScore, findings[0].Score)
		})
	}
}
