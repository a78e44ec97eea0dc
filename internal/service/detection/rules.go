package detection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/audit"
)

// Thresholds hold the tunable cutoffs for all detection rules. Defaults
// match the platform's security baseline; override via configuration.
type Thresholds struct {
	FailedLoginThreshold     int     `koanf:"failed_login_threshold"`
	FailedLoginWindowMinutes int     `koanf:"failed_login_window_minutes"`
	CriticalFailedLogins     int     `koanf:"critical_failed_logins"`
	MassExportRecords        int     `koanf:"mass_export_records"`
	CriticalExportRecords    int     `koanf:"critical_export_records"`
	AfterHoursStart          int     `koanf:"after_hours_start"`
	AfterHoursEnd            int     `koanf:"after_hours_end"`
	ImpossibleTravelKmh      float64 `koanf:"impossible_travel_kmh"`
	AssumedTravelDistanceKm  float64 `koanf:"assumed_travel_distance_km"`
	ConcurrentSessionIPs     int     `koanf:"concurrent_session_ips"`
	RapidActionWindowSeconds int     `koanf:"rapid_action_window_seconds"`
	RapidActionThreshold     int     `koanf:"rapid_action_threshold"`
	SalaryChangePercent      float64 `koanf:"salary_change_percent"`
	CriticalSalaryPercent    float64 `koanf:"critical_salary_percent"`
	UnusualAccessRecentDays  int     `koanf:"unusual_access_recent_days"`
	UnusualAccessHistoryDays int     `koanf:"unusual_access_history_days"`
}

// DefaultThresholds returns the security baseline cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailedLoginThreshold:     5,
		FailedLoginWindowMinutes: 10,
		CriticalFailedLogins:     10,
		MassExportRecords:        500,
		CriticalExportRecords:    1000,
		AfterHoursStart:          22,
		AfterHoursEnd:            6,
		ImpossibleTravelKmh:      900,
		AssumedTravelDistanceKm:  1000,
		ConcurrentSessionIPs:     3,
		RapidActionWindowSeconds: 60,
		RapidActionThreshold:     5,
		SalaryChangePercent:      50,
		CriticalSalaryPercent:    100,
		UnusualAccessRecentDays:  7,
		UnusualAccessHistoryDays: 30,
	}
}

// Rule scores for the four risk bands.
const (
	scoreLow      = 25
	scoreMedium   = 50
	scoreHigh     = 75
	scoreCritical = 90
)

// RuleInput is everything a rule needs to evaluate one tenant window.
// Events holds all tenant events in [WindowStart, WindowEnd) ascending;
// ByUser is the same set grouped by actor. Feed allows rules that need
// history beyond the window (travel, unusual-access baselines) to read it.
type RuleInput struct {
	TenantID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	WindowKey   string
	Events      []*audit.Event
	ByUser      map[uuid.UUID][]*audit.Event
	Feed        audit.EventFeed
	Thresholds  Thresholds
}

// Finding is one triggered predicate for one subject user.
type Finding struct {
	SubjectUserID uuid.UUID
	SubjectEmail  string
	Score         int
	Description   string
	Evidence      anomaly.Evidence
}

// Rule evaluates one anomaly type over a tenant window. Rules are
// independent and order-insensitive; their results are unioned.
type Rule interface {
	Type() anomaly.Type
	Evaluate(ctx context.Context, in *RuleInput) ([]Finding, error)
}

// Registry maps anomaly types to their evaluation rule. Construction is
// the only mutation; evaluation is read-only and safe for concurrent use.
type Registry struct {
	rules map[anomaly.Type]Rule
}

// NewRegistry builds a registry from the given rules. Duplicate types
// overwrite; callers control precedence by ordering.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{rules: make(map[anomaly.Type]Rule, len(rules))}
	for _, rule := range rules {
		r.rules[rule.Type()] = rule
	}
	return r
}

// DefaultRegistry wires every built-in rule.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&bruteForceLoginRule{},
		&offHoursAccessRule{},
		&geoVelocityRule{},
		&excessiveExportRule{},
		&privilegeProbingRule{},
		&concurrentSessionsRule{},
		&rapidHighRiskRule{},
		&securitySettingRule{},
		&unusualDataAccessRule{},
		&largeSalaryChangeRule{},
	)
}

// Rules returns the registered rules in no particular order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

// Get returns the rule for a type, if registered.
func (r *Registry) Get(t anomaly.Type) (Rule, bool) {
	rule, ok := r.rules[t]
	return rule, ok
}
