package detection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	rundomain "github.com/novahr/security-engine/internal/domain/detection"
	"github.com/novahr/security-engine/internal/domain/errors"
	"github.com/novahr/security-engine/internal/testutil"
	"github.com/novahr/security-engine/internal/testutil/fixtures"

	"github.com/novahr/security-engine/internal/domain/audit"
)

type stubReserver struct {
	granted bool
	err     error
	calls   int
}

func (s *stubReserver) Reserve(context.Context, string, time.Duration) (bool, error) {
	s.calls++
	return s.granted, s.err
}

func newTestCoordinator(t *testing.T, feed audit.EventFeed, reserver RunReserver) (*Coordinator, *testutil.MemoryRunRepo) {
	t.Helper()
	runs := testutil.NewMemoryRunRepo()
	detector := NewDetector(feed, testutil.NewMemoryAnomalyRepo(), nil, nil, Thresholds{}, zap.NewNop())
	c := NewCoordinator(detector, runs, reserver, zap.NewNop())
	c.clock = func() time.Time { return time.Date(2026, 3, 10, 13, 0, 30, 0, time.UTC) }
	return c, runs
}

func TestTriggerRun_CompletesAndRecordsRun(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	events := fixtures.NewEvent(tenantID).
		WithActor(userID, "victim@corp.test").
		WithAction(audit.ActionLoginFailed).
		At(time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)).
		Repeat(6, 30*time.Second)

	c, runs := newTestCoordinator(t, &testutil.StaticFeed{Events: events}, nil)

	run, err := c.TriggerRun(context.Background(), tenantID, 60)
	require.NoError(t, err)

	assert.Equal(t, rundomain.RunCompleted, run.Status)
	assert.Equal(t, 1, run.AnomaliesCreated)
	// Window end is truncated to the minute.
	assert.Equal(t, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), run.WindowEnd)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), run.WindowStart)

	stored, err := runs.FindByKey(context.Background(), run.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.ID)
}

func TestTriggerRun_SameWindowIsIdempotent(t *testing.T) {
	tenantID := uuid.New()
	c, _ := newTestCoordinator(t, &testutil.StaticFeed{}, nil)

	first, err := c.TriggerRun(context.Background(), tenantID, 60)
	require.NoError(t, err)

	second, err := c.TriggerRun(context.Background(), tenantID, 60)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "retrigger must return the recorded run")
}

type countingFeed struct {
	testutil.StaticFeed
	queries atomic.Int32
}

func (f *countingFeed) Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	f.queries.Add(1)
	return f.StaticFeed.Query(ctx, filter)
}

func TestTriggerRun_ConcurrentSameWindowSharesOneRun(t *testing.T) {
	tenantID := uuid.New()
	feed := &countingFeed{}
	c, runs := newTestCoordinator(t, feed, nil)

	const callers = 8
	var wg sync.WaitGroup
	got := make([]*rundomain.Run, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = c.TriggerRun(context.Background(), tenantID, 60)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, got[0].ID, got[i].ID, "every caller must observe the same run")
	}
	assert.EqualValues(t, 1, feed.queries.Load(), "window must be detected exactly once")

	stored, err := runs.FindByKey(context.Background(), got[0].IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, got[0].ID, stored.ID)
}

func TestTriggerRun_DistinctTenantsGetDistinctRuns(t *testing.T) {
	c, _ := newTestCoordinator(t, &testutil.StaticFeed{}, nil)

	a, err := c.TriggerRun(context.Background(), uuid.New(), 60)
	require.NoError(t, err)
	b, err := c.TriggerRun(context.Background(), uuid.New(), 60)
	require.NoError(t, err)
	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
}

func TestTriggerRun_FailedRunAllowsRetrigger(t *testing.T) {
	tenantID := uuid.New()
	feed := &testutil.StaticFeed{QueryErr: errors.NewExternalError("audit-store", "unreachable")}
	c, _ := newTestCoordinator(t, feed, nil)

	_, err := c.TriggerRun(context.Background(), tenantID, 60)
	require.Error(t, err)

	feed.QueryErr = nil
	run, err := c.TriggerRun(context.Background(), tenantID, 60)
	require.NoError(t, err)
	assert.Equal(t, rundomain.RunCompleted, run.Status)
}

func TestTriggerRun_ReservationDeniedIsConflict(t *testing.T) {
	c, _ := newTestCoordinator(t, &testutil.StaticFeed{}, &stubReserver{granted: false})

	_, err := c.TriggerRun(context.Background(), uuid.New(), 60)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestTriggerRun_ReserverOutageFallsBackToStore(t *testing.T) {
	reserver := &stubReserver{err: errors.NewExternalError("redis", "timeout")}
	c, _ := newTestCoordinator(t, &testutil.StaticFeed{}, reserver)

	run, err := c.TriggerRun(context.Background(), uuid.New(), 60)
	require.NoError(t, err, "reservation outage must not block detection")
	assert.Equal(t, rundomain.RunCompleted, run.Status)
	assert.Equal(t, 1, reserver.calls)
}

func TestTriggerRun_ValidatesInput(t *testing.T) {
	c, _ := newTestCoordinator(t, &testutil.StaticFeed{}, nil)

	_, err := c.TriggerRun(context.Background(), uuid.Nil, 60)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = c.TriggerRun(context.Background(), uuid.New(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

type staticTenants struct{ ids []uuid.UUID }

func (s staticTenants) ActiveTenants(context.Context) ([]uuid.UUID, error) { return s.ids, nil }

func TestScheduler_SweepCoversAllTenants(t *testing.T) {
	tenants := staticTenants{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}}
	c, runs := newTestCoordinator(t, &testutil.StaticFeed{}, nil)
	s := NewScheduler(c, tenants, time.Minute, 60, zap.NewNop())

	s.sweep(context.Background())

	for _, tenantID := range tenants.ids {
		key := rundomain.IdempotencyKey(tenantID,
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC))
		run, err := runs.FindByKey(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, rundomain.RunCompleted, run.Status)
	}
}
