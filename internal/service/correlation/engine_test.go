package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/audit"
	"github.com/novahr/security-engine/internal/domain/errors"
	"github.com/novahr/security-engine/internal/testutil"
	"github.com/novahr/security-engine/internal/testutil/fixtures"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestEngine(events []*audit.Event) *Engine {
	e := NewEngine(&testutil.StaticFeed{Events: events}, zap.NewNop())
	e.clock = func() time.Time { return now }
	return e
}

func TestCorrelateUserActivity_Validation(t *testing.T) {
	e := newTestEngine(nil)

	_, err := e.CorrelateUserActivity(context.Background(), uuid.Nil, uuid.New(), time.Hour)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = e.CorrelateUserActivity(context.Background(), uuid.New(), uuid.Nil, time.Hour)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = e.CorrelateUserActivity(context.Background(), uuid.New(), uuid.New(), 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCorrelateUserActivity_AccountTakeoverFullSequence(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	at := func(min int) time.Time { return now.Add(time.Duration(min-60) * time.Minute) }

	var events []*audit.Event
	events = append(events, fixtures.NewEvent(tenantID).
		WithActor(userID, "victim@corp.test").
		WithAction(audit.ActionLoginFailed).
		At(at(0)).
		Repeat(3, time.Minute)...)
	events = append(events,
		fixtures.NewEvent(tenantID).WithActor(userID, "victim@corp.test").
			WithAction(audit.ActionLoginSuccess).FromLocation("Minsk, BY").At(at(5)).Build(),
		fixtures.NewEvent(tenantID).WithActor(userID, "victim@corp.test").
			WithAction(audit.ActionDataExported).WithRecordCount(900).At(at(10)).Build(),
	)

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)

	require.NotEmpty(t, res.Patterns)
	top := res.Patterns[0]
	assert.Equal(t, TagAccountTakeover, top.Tag)
	assert.InDelta(t, 0.9, top.Confidence, 0.001)
	assert.Len(t, top.EventIDs, 5)
}

func TestCorrelateUserActivity_TakeoverWithoutExportScoresLower(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	var events []*audit.Event
	events = append(events, fixtures.NewEvent(tenantID).
		WithActor(userID, "victim@corp.test").
		WithAction(audit.ActionLoginFailed).
		At(now.Add(-30*time.Minute)).
		Repeat(4, time.Minute)...)
	events = append(events, fixtures.NewEvent(tenantID).
		WithActor(userID, "victim@corp.test").
		WithAction(audit.ActionLoginSuccess).FromLocation("Minsk, BY").
		At(now.Add(-20*time.Minute)).Build())

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)

	require.Len(t, res.Patterns, 1)
	assert.Equal(t, TagAccountTakeover, res.Patterns[0].Tag)
	assert.InDelta(t, 0.6, res.Patterns[0].Confidence, 0.001)
}

func TestCorrelateUserActivity_NormalLoginsDoNotMatch(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	events := []*audit.Event{
		fixtures.NewEvent(tenantID).WithActor(userID, "user@corp.test").
			WithAction(audit.ActionLoginSuccess).FromLocation("Berlin, DE").
			At(now.Add(-50 * time.Minute)).Build(),
		fixtures.NewEvent(tenantID).WithActor(userID, "user@corp.test").
			WithAction(audit.ActionRecordViewed).At(now.Add(-40 * time.Minute)).Build(),
	}

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, res.Patterns)
}

func TestCorrelateUserActivity_PrivilegeAbuse(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	base := now.Add(-50 * time.Minute)

	events := []*audit.Event{
		fixtures.NewEvent(tenantID).WithActor(userID, "mgr@corp.test").
			WithAction(audit.ActionRoleChanged).At(base).Build(),
	}
	events = append(events, fixtures.NewEvent(tenantID).
		WithActor(userID, "mgr@corp.test").
		WithAction(audit.ActionRecordViewed).
		At(base.Add(time.Minute)).
		Repeat(12, time.Minute)...)

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)

	require.Len(t, res.Patterns, 1)
	assert.Equal(t, TagPrivilegeAbuse, res.Patterns[0].Tag)
	assert.Equal(t, 12, res.Patterns[0].Details["access_count"])
}

func TestCorrelateUserActivity_DataStaging(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	var events []*audit.Event
	for i, entity := range []string{"employee", "payroll", "benefits", "reviews"} {
		events = append(events, fixtures.NewEvent(tenantID).
			WithActor(userID, "analyst@corp.test").
			WithAction(audit.ActionDataExported).
			WithEntity(entity, uuid.New()).
			At(now.Add(time.Duration(i-30)*time.Minute)).Build())
	}

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)

	require.Len(t, res.Patterns, 1)
	assert.Equal(t, TagDataStaging, res.Patterns[0].Tag)
	assert.Equal(t, 4, res.Patterns[0].Details["entity_types"])
}

func TestCorrelateUserActivity_ProfileSummarizesWindow(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	events := []*audit.Event{
		fixtures.NewEvent(tenantID).WithActor(userID, "user@corp.test").
			WithAction(audit.ActionLoginSuccess).FromIP("203.0.113.1").
			At(now.Add(-40 * time.Minute)).Build(),
		fixtures.NewEvent(tenantID).WithActor(userID, "user@corp.test").
			WithAction(audit.ActionRecordViewed).FromIP("203.0.113.2").
			At(now.Add(-30 * time.Minute)).Build(),
		fixtures.NewEvent(tenantID).WithActor(userID, "user@corp.test").
			WithAction(audit.ActionRecordViewed).FromIP("203.0.113.2").
			At(now.Add(-20 * time.Minute)).Build(),
	}

	res, err := newTestEngine(events).CorrelateUserActivity(context.Background(), tenantID, userID, time.Hour)
	require.NoError(t, err)

	p := res.Profile
	require.NotNil(t, p)
	assert.Equal(t, 3, p.TotalEvents)
	assert.Equal(t, []string{"203.0.113.1", "203.0.113.2"}, p.DistinctIPs)
	assert.Equal(t, 2, p.ActionCounts[audit.ActionRecordViewed])
	assert.Equal(t, 3, p.HourlyCounts[14])
	assert.True(t, p.FirstEvent.Before(p.LastEvent))
}

func TestDetectPatternsAcrossUsers_Validation(t *testing.T) {
	e := newTestEngine(nil)

	_, err := e.DetectPatternsAcrossUsers(context.Background(), uuid.Nil, 7)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = e.DetectPatternsAcrossUsers(context.Background(), uuid.New(), 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = e.DetectPatternsAcrossUsers(context.Background(), uuid.New(), 91)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDetectPatternsAcrossUsers_CampaignSpike(t *testing.T) {
	tenantID := uuid.New()

	// Quiet week, then five distinct accounts exporting on the last day.
	var events []*audit.Event
	for i := 0; i < 5; i++ {
		events = append(events, fixtures.NewEvent(tenantID).
			WithActor(uuid.New(), "user@corp.test").
			WithAction(audit.ActionDataExported).
			FromIP("").
			At(now.Add(-2 * time.Hour)).Build())
	}

	results, err := newTestEngine(events).DetectPatternsAcrossUsers(context.Background(), tenantID, 7)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	top := results[0].Patterns[0]
	assert.Equal(t, TagCampaign+":"+string(audit.ActionDataExported), top.Tag)
	assert.Equal(t, ScopeTenant, results[0].Scope)
	assert.Equal(t, 5, top.Details["distinct_users"])
}

func TestDetectPatternsAcrossUsers_TwoUsersIsNotACampaign(t *testing.T) {
	tenantID := uuid.New()

	var events []*audit.Event
	for i := 0; i < 2; i++ {
		events = append(events, fixtures.NewEvent(tenantID).
			WithActor(uuid.New(), "user@corp.test").
			WithAction(audit.ActionDataExported).
			FromIP("").
			At(now.Add(-2 * time.Hour)).Build())
	}

	results, err := newTestEngine(events).DetectPatternsAcrossUsers(context.Background(), tenantID, 7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDetectPatternsAcrossUsers_SteadyBaselineSuppressesSpike(t *testing.T) {
	tenantID := uuid.New()

	// Four distinct exporters every day, four on the last day too.
	var events []*audit.Event
	for day := 0; day < 7; day++ {
		for i := 0; i < 4; i++ {
			events = append(events, fixtures.NewEvent(tenantID).
				WithActor(uuid.New(), "user@corp.test").
				WithAction(audit.ActionDataExported).
				FromIP("").
				At(now.AddDate(0, 0, day-6)).Build())
		}
	}

	results, err := newTestEngine(events).DetectPatternsAcrossUsers(context.Background(), tenantID, 7)
	require.NoError(t, err)
	assert.Empty(t, results, "a steady level of activity is not a spike")
}

func TestDetectPatternsAcrossUsers_SharedIP(t *testing.T) {
	tenantID := uuid.New()

	events := []*audit.Event{
		fixtures.NewEvent(tenantID).WithActor(uuid.New(), "a@corp.test").
			WithAction(audit.ActionLoginSuccess).FromIP("198.51.100.7").
			At(now.Add(-3 * time.Hour)).Build(),
		fixtures.NewEvent(tenantID).WithActor(uuid.New(), "b@corp.test").
			WithAction(audit.ActionLoginSuccess).FromIP("198.51.100.7").
			At(now.Add(-2 * time.Hour)).Build(),
		fixtures.NewEvent(tenantID).WithActor(uuid.New(), "c@corp.test").
			WithAction(audit.ActionLoginSuccess).FromIP("192.0.2.9").
			At(now.Add(-1 * time.Hour)).Build(),
	}

	results, err := newTestEngine(events).DetectPatternsAcrossUsers(context.Background(), tenantID, 7)
	require.NoError(t, err)

	require.Len(t, results, 1)
	p := results[0].Patterns[0]
	assert.Equal(t, TagSharedIP+":198.51.100.7", p.Tag)
	assert.Equal(t, 2, p.Details["distinct_users"])
	assert.Len(t, p.EventIDs, 2)
}
