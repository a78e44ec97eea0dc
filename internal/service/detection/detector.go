package detection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/audit"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// AlertCreator raises a security alert for a qualifying anomaly. Declared
// here so the detector does not depend on the alerting service directly.
type AlertCreator interface {
	CreateFromAnomaly(ctx context.Context, rec *anomaly.Record) error
}

// saveAttempts bounds optimistic-concurrency retries on anomaly upserts.
const saveAttempts = 3

// Instruments receives detection pipeline counters.
type Instruments interface {
	AnomalyCreated(anomalyType string)
	AnomalyMerged()
	RuleFailed(rule string)
}

// Detector runs every registered rule over one tenant window and persists
// the findings. Rules run concurrently; a failing rule is logged and skipped
// without aborting the run.
type Detector struct {
	feed        audit.EventFeed
	anomalies   anomaly.Repository
	alerts      AlertCreator
	registry    *Registry
	thresholds  Thresholds
	instruments Instruments
	logger      *zap.Logger

	// concurrency bounds parallel rule evaluation.
	concurrency int
}

// WithInstruments attaches pipeline counters. Nil leaves the detector
// uninstrumented.
func (d *Detector) WithInstruments(in Instruments) *Detector {
	d.instruments = in
	return d
}

// NewDetector wires a detector. A nil registry gets the built-in rule set,
// nil thresholds-by-zero get the defaults.
func NewDetector(feed audit.EventFeed, anomalies anomaly.Repository, alerts AlertCreator, registry *Registry, thresholds Thresholds, logger *zap.Logger) *Detector {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Detector{
		feed:        feed,
		anomalies:   anomalies,
		alerts:      alerts,
		registry:    registry,
		thresholds:  thresholds,
		logger:      logger,
		concurrency: 4,
	}
}

// Result summarizes one detection pass.
type Result struct {
	AnomaliesCreated int
	AnomaliesMerged  int
	RulesFailed      int
}

type ruleOutcome struct {
	ruleType anomaly.Type
	findings []Finding
	err      error
}

// Detect evaluates all rules over [windowStart, windowEnd) for the tenant
// and upserts the resulting anomaly records. It fails only when the event
// feed is unreachable or every rule errors; individual rule failures are
// isolated and counted in the result.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID, windowStart, windowEnd time.Time) (*Result, error) {
	events, err := d.feed.Query(ctx, audit.Filter{
		TenantID: tenantID,
		Start:    windowStart,
		End:      windowEnd,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying audit events for detection window")
	}

	in := &RuleInput{
		TenantID:    tenantID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		WindowKey:   anomaly.WindowKeyFor(windowStart, windowEnd),
		Events:      events,
		ByUser:      groupByActor(events),
		Feed:        d.feed,
		Thresholds:  d.thresholds,
	}

	outcomes := d.evaluate(ctx, in)

	res := &Result{}
	for _, out := range outcomes {
		if out.err != nil {
			res.RulesFailed++
			if d.instruments != nil {
				d.instruments.RuleFailed(string(out.ruleType))
			}
			d.logger.Warn("detection rule failed",
				zap.String("rule", string(out.ruleType)),
				zap.String("tenant_id", tenantID.String()),
				zap.Error(out.err))
			continue
		}
		for _, f := range out.findings {
			created, err := d.upsert(ctx, tenantID, out.ruleType, in.WindowKey, f)
			if err != nil {
				d.logger.Error("persisting anomaly failed",
					zap.String("rule", string(out.ruleType)),
					zap.String("subject_user_id", f.SubjectUserID.String()),
					zap.Error(err))
				continue
			}
			if created {
				res.AnomaliesCreated++
				if d.instruments != nil {
					d.instruments.AnomalyCreated(string(out.ruleType))
				}
			} else {
				res.AnomaliesMerged++
				if d.instruments != nil {
					d.instruments.AnomalyMerged()
				}
			}
		}
	}

	if res.RulesFailed > 0 && res.RulesFailed == len(outcomes) {
		return res, errors.NewInternalError("all detection rules failed")
	}
	return res, nil
}

// evaluate fans the rules out over a bounded worker set.
func (d *Detector) evaluate(ctx context.Context, in *RuleInput) []ruleOutcome {
	rules := d.registry.Rules()
	jobs := make(chan Rule)
	results := make(chan ruleOutcome, len(rules))

	var wg sync.WaitGroup
	workers := d.concurrency
	if workers > len(rules) {
		workers = len(rules)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rule := range jobs {
				findings, err := rule.Evaluate(ctx, in)
				if err != nil {
					err = errors.NewRuleEvaluationError(string(rule.Type()), err)
				}
				results <- ruleOutcome{ruleType: rule.Type(), findings: findings, err: err}
			}
		}()
	}

	for _, rule := range rules {
		jobs <- rule
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]ruleOutcome, 0, len(rules))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// upsert applies the dedup contract: at most one Open record per
// (tenant, subject, type, window key). Re-detections merge into the
// existing record; version conflicts reload and retry.
func (d *Detector) upsert(ctx context.Context, tenantID uuid.UUID, t anomaly.Type, windowKey string, f Finding) (created bool, err error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		existing, err := d.anomalies.FindOpen(ctx, tenantID, f.SubjectUserID, t, windowKey)
		switch {
		case errors.IsNotFound(err):
			rec, err := anomaly.NewRecord(tenantID, f.SubjectUserID, t, f.Score, windowKey)
			if err != nil {
				return false, err
			}
			rec.SubjectEmail = f.SubjectEmail
			rec.Description = f.Description
			rec.Evidence = f.Evidence
			rec.DetectionRule = string(t)
			if err := d.anomalies.Save(ctx, rec); err != nil {
				if errors.IsConflict(err) {
					continue // lost the insert race, merge instead
				}
				return false, err
			}
			d.maybeAlert(ctx, rec)
			return true, nil

		case err != nil:
			return false, err

		default:
			if err := existing.Merge(f.Score, f.Evidence, f.Description); err != nil {
				return false, err
			}
			if err := d.anomalies.Save(ctx, existing); err != nil {
				if errors.IsConflict(err) {
					continue // concurrent writer bumped the version
				}
				return false, err
			}
			d.maybeAlert(ctx, existing)
			return false, nil
		}
	}
	return false, errors.NewConflictError("anomaly upsert exhausted optimistic retries")
}

// maybeAlert raises an alert for high and critical findings. Alert delivery
// problems never fail the detection run.
func (d *Detector) maybeAlert(ctx context.Context, rec *anomaly.Record) {
	if d.alerts == nil || !rec.RiskLevel.RequiresAlert() {
		return
	}
	if err := d.alerts.CreateFromAnomaly(ctx, rec); err != nil {
		d.logger.Error("creating alert for anomaly failed",
			zap.String("anomaly_id", rec.ID.String()),
			zap.String("risk_level", string(rec.RiskLevel)),
			zap.Error(err))
	}
}

func groupByActor(events []*audit.Event) map[uuid.UUID][]*audit.Event {
	byUser := make(map[uuid.UUID][]*audit.Event)
	for _, e := range events {
		if e.ActorUserID == uuid.Nil {
			continue
		}
		byUser[e.ActorUserID] = append(byUser[e.ActorUserID], e)
	}
	return byUser
}
