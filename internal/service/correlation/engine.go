// Package correlation links audit events into higher-level activity
// patterns: per-user attack sequences and cross-user campaigns. The engine
// is read-only; findings feed the alerting layer but nothing is persisted
// here.
package correlation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/domain/audit"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// Scope says what a Result describes.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeTenant Scope = "tenant"
)

// Pattern is one matched template or campaign with its confidence in [0,1].
type Pattern struct {
	Tag         string         `json:"tag"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	EventIDs    []uuid.UUID    `json:"event_ids,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// ActivityProfile summarizes one user's behavior over the analyzed window.
type ActivityProfile struct {
	TotalEvents  int                      `json:"total_events"`
	DistinctIPs  []string                 `json:"distinct_ips"`
	ActionCounts map[audit.ActionType]int `json:"action_counts"`
	HourlyCounts [24]int                  `json:"hourly_counts"`
	FirstEvent   time.Time                `json:"first_event,omitempty"`
	LastEvent    time.Time                `json:"last_event,omitempty"`
}

// Result is one correlation outcome. Patterns are ranked by confidence
// descending, ties broken by tag for determinism.
type Result struct {
	Scope       Scope            `json:"scope"`
	TenantID    uuid.UUID        `json:"tenant_id"`
	UserID      uuid.UUID        `json:"user_id,omitempty"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Patterns    []Pattern        `json:"patterns"`
	Profile     *ActivityProfile `json:"profile,omitempty"`
}

// Engine evaluates sequence templates and cross-user campaign heuristics
// over the audit event feed.
type Engine struct {
	feed      audit.EventFeed
	templates []sequenceTemplate
	logger    *zap.Logger

	clock func() time.Time
}

// NewEngine builds an engine with the built-in sequence templates.
func NewEngine(feed audit.EventFeed, logger *zap.Logger) *Engine {
	return &Engine{
		feed:      feed,
		templates: builtinTemplates(),
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// CorrelateUserActivity inspects one user's trailing activity for known
// attack sequences and returns the matches with an activity profile.
func (e *Engine) CorrelateUserActivity(ctx context.Context, tenantID, userID uuid.UUID, lookback time.Duration) (*Result, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if userID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_USER_ID", "user ID is required")
	}
	if lookback <= 0 {
		return nil, errors.NewValidationError("INVALID_LOOKBACK", "lookback must be positive")
	}

	end := e.clock()
	start := end.Add(-lookback)
	events, err := e.feed.Query(ctx, audit.Filter{
		TenantID:    tenantID,
		ActorUserID: userID,
		Start:       start,
		End:         end,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying user activity")
	}

	res := &Result{
		Scope:       ScopeUser,
		TenantID:    tenantID,
		UserID:      userID,
		WindowStart: start,
		WindowEnd:   end,
		Profile:     buildProfile(events),
	}
	for _, tmpl := range e.templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p, ok := tmpl.match(events); ok {
			res.Patterns = append(res.Patterns, p)
		}
	}
	rankPatterns(res.Patterns)
	return res, nil
}

// DetectPatternsAcrossUsers looks for tenant-wide campaigns over the trailing
// daysBack days: action types spiking across unusually many distinct users,
// and IP addresses shared by multiple accounts. One Result per finding.
func (e *Engine) DetectPatternsAcrossUsers(ctx context.Context, tenantID uuid.UUID, daysBack int) ([]*Result, error) {
	if tenantID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if daysBack <= 0 || daysBack > 90 {
		return nil, errors.NewValidationError("INVALID_DAYS_BACK", "days back must be between 1 and 90")
	}

	end := e.clock().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -daysBack)
	events, err := e.feed.Query(ctx, audit.Filter{
		TenantID: tenantID,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying tenant activity")
	}

	var results []*Result
	for _, p := range detectCampaigns(events, start, daysBack) {
		results = append(results, e.tenantResult(tenantID, start, end, p))
	}
	for _, p := range detectSharedIPs(events) {
		results = append(results, e.tenantResult(tenantID, start, end, p))
	}
	sort.Slice(results, func(i, j int) bool {
		pi, pj := results[i].Patterns[0], results[j].Patterns[0]
		if pi.Confidence != pj.Confidence {
			return pi.Confidence > pj.Confidence
		}
		return pi.Tag < pj.Tag
	})
	return results, nil
}

func (e *Engine) tenantResult(tenantID uuid.UUID, start, end time.Time, p Pattern) *Result {
	return &Result{
		Scope:       ScopeTenant,
		TenantID:    tenantID,
		WindowStart: start,
		WindowEnd:   end,
		Patterns:    []Pattern{p},
	}
}

func rankPatterns(patterns []Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].Tag < patterns[j].Tag
	})
}

func buildProfile(events []*audit.Event) *ActivityProfile {
	p := &ActivityProfile{ActionCounts: make(map[audit.ActionType]int)}
	ips := make(map[string]struct{})
	for _, ev := range events {
		p.TotalEvents++
		p.ActionCounts[ev.ActionType]++
		p.HourlyCounts[ev.Timestamp.UTC().Hour()]++
		if ev.IPAddress != "" {
			ips[ev.IPAddress] = struct{}{}
		}
		if p.FirstEvent.IsZero() || ev.Timestamp.Before(p.FirstEvent) {
			p.FirstEvent = ev.Timestamp
		}
		if ev.Timestamp.After(p.LastEvent) {
			p.LastEvent = ev.Timestamp
		}
	}
	p.DistinctIPs = make([]string, 0, len(ips))
	for ip := range ips {
		p.DistinctIPs = append(p.DistinctIPs, ip)
	}
	sort.Strings(p.DistinctIPs)
	return p
}
