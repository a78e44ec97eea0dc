package detection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	rundomain "github.com/novahr/security-engine/internal/domain/detection"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// RunReserver claims a detection window across engine instances. Reserve
// returns false when another instance already holds the key. A best-effort
// guard only; the run repository's idempotency key is the authority.
type RunReserver interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// TenantSource lists the tenants the scheduled sweep should cover.
type TenantSource interface {
	ActiveTenants(ctx context.Context) ([]uuid.UUID, error)
}

// Coordinator triggers detection runs, enforcing exactly-one-run-per-window
// semantics through three layers: an in-process singleflight group, a
// distributed reservation, and the run store's unique idempotency key.
type Coordinator struct {
	detector *Detector
	runs     rundomain.RunRepository
	reserver RunReserver
	logger   *zap.Logger

	// group collapses concurrent triggers for the same window key into a
	// single detector invocation; every caller observes the winner's run.
	group singleflight.Group

	// clock is swappable for tests.
	clock func() time.Time
}

// NewCoordinator wires a run coordinator. reserver may be nil when the
// engine runs as a single instance.
func NewCoordinator(detector *Detector, runs rundomain.RunRepository, reserver RunReserver, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		detector: detector,
		runs:     runs,
		reserver: reserver,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// TriggerRun executes detection for the tenant over the trailing lookback
// window ending now, truncated to the minute so that near-simultaneous
// triggers resolve to the same window. Re-triggering an already-processed
// window returns the recorded run without re-detecting; concurrent triggers
// for the same window join the in-flight run and observe its result.
func (c *Coordinator) TriggerRun(ctx context.Context, tenantID uuid.UUID, lookbackMinutes int) (*rundomain.Run, error) {
	windowEnd := c.clock().Truncate(time.Minute)
	windowStart := windowEnd.Add(-time.Duration(lookbackMinutes) * time.Minute)

	run, err := rundomain.NewRun(tenantID, windowStart, windowEnd, lookbackMinutes)
	if err != nil {
		return nil, err
	}

	if existing, err := c.runs.FindByKey(ctx, run.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	v, err, _ := c.group.Do(run.IdempotencyKey, func() (any, error) {
		return c.execute(ctx, tenantID, run, lookbackMinutes)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rundomain.Run), nil
}

// execute holds the reservation, store insert and detection for one claimed
// window. The singleflight group admits one goroutine per key at a time.
func (c *Coordinator) execute(ctx context.Context, tenantID uuid.UUID, run *rundomain.Run, lookbackMinutes int) (*rundomain.Run, error) {
	if c.reserver != nil {
		reserved, err := c.reserver.Reserve(ctx, run.IdempotencyKey, time.Duration(lookbackMinutes)*time.Minute)
		if err != nil {
			c.logger.Warn("run reservation unavailable, relying on store idempotency", zap.Error(err))
		} else if !reserved {
			return nil, errors.NewConflictError("detection run claimed by another instance")
		}
	}

	if err := c.runs.Create(ctx, run); err != nil {
		if errors.IsConflict(err) {
			return c.runs.FindByKey(ctx, run.IdempotencyKey)
		}
		return nil, err
	}

	result, err := c.detector.Detect(ctx, tenantID, run.WindowStart, run.WindowEnd)
	if err != nil {
		run.Fail()
		if uerr := c.runs.Update(ctx, run); uerr != nil {
			c.logger.Error("recording failed run", zap.String("run_id", run.ID.String()), zap.Error(uerr))
		}
		return nil, err
	}

	run.Complete(result.AnomaliesCreated)
	if err := c.runs.Update(ctx, run); err != nil {
		return nil, err
	}

	c.logger.Info("detection run completed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("run_id", run.ID.String()),
		zap.Int("anomalies_created", result.AnomaliesCreated),
		zap.Int("anomalies_merged", result.AnomaliesMerged),
		zap.Int("rules_failed", result.RulesFailed))
	return run, nil
}

// GetRun returns a recorded run by its idempotency key.
func (c *Coordinator) GetRun(ctx context.Context, key string) (*rundomain.Run, error) {
	return c.runs.FindByKey(ctx, key)
}

// Scheduler sweeps all active tenants on a fixed interval.
type Scheduler struct {
	coordinator *Coordinator
	tenants     TenantSource
	interval    time.Duration
	lookback    int
	logger      *zap.Logger
}

// NewScheduler builds a periodic sweep over all active tenants. interval is
// how often the sweep fires; lookbackMinutes sizes each detection window.
func NewScheduler(coordinator *Coordinator, tenants TenantSource, interval time.Duration, lookbackMinutes int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		coordinator: coordinator,
		tenants:     tenants,
		interval:    interval,
		lookback:    lookbackMinutes,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, triggering a detection sweep every
// interval. Per-tenant failures are logged and do not stop the sweep.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	tenantIDs, err := s.tenants.ActiveTenants(ctx)
	if err != nil {
		s.logger.Error("listing tenants for detection sweep", zap.Error(err))
		return
	}
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.coordinator.TriggerRun(ctx, tenantID, s.lookback); err != nil {
			if errors.IsConflict(err) {
				continue // another trigger owns this window
			}
			s.logger.Error("scheduled detection run failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}
}
