// Package stats produces read-only aggregates over anomalies and alerts
// for dashboards and reporting.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/alert"
	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/errors"
)

const (
	// maxRecentHours caps the recent-critical lookback at one week.
	maxRecentHours = 168

	defaultRecentHours = 24
	defaultTopN        = 10
	maxTopN            = 50

	pageSize = 100
)

// AlertCounts breaks the tenant's alerts down by severity and status.
type AlertCounts struct {
	Total      int                    `json:"total"`
	BySeverity map[alert.Severity]int `json:"by_severity"`
	ByStatus   map[alert.Status]int   `json:"by_status"`
}

// AnomalyStatistics summarizes anomalies over a time range.
type AnomalyStatistics struct {
	Total        int                       `json:"total"`
	Open         int                       `json:"open"`
	ByType       map[anomaly.Type]int      `json:"by_type"`
	ByRiskLevel  map[anomaly.RiskLevel]int `json:"by_risk_level"`
	AverageScore float64                   `json:"average_score"`
}

// UserAnomalySummary ranks one user's anomaly activity.
type UserAnomalySummary struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	Count      int       `json:"count"`
	MaxScore   int       `json:"max_score"`
	MostRecent time.Time `json:"most_recent"`
}

// Aggregator computes statistics by paging through the stores. All methods
// are side-effect-free.
type Aggregator struct {
	anomalies anomaly.Repository
	alerts    alert.Repository

	clock func() time.Time
}

func NewAggregator(anomalies anomaly.Repository, alerts alert.Repository) *Aggregator {
	return &Aggregator{
		anomalies: anomalies,
		alerts:    alerts,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// AlertCounts tallies alerts by severity and status. A zero tenant ID spans
// all tenants.
func (g *Aggregator) AlertCounts(ctx context.Context, tenantID uuid.UUID) (*AlertCounts, error) {
	counts := &AlertCounts{
		BySeverity: make(map[alert.Severity]int),
		ByStatus:   make(map[alert.Status]int),
	}
	err := g.eachAlert(ctx, alert.Filter{TenantID: tenantID}, func(a *alert.SecurityAlert) {
		counts.Total++
		counts.BySeverity[a.Severity]++
		counts.ByStatus[a.Status]++
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// AnomalyStatistics summarizes anomalies detected in [start, end).
func (g *Aggregator) AnomalyStatistics(ctx context.Context, tenantID uuid.UUID, start, end time.Time) (*AnomalyStatistics, error) {
	if !end.IsZero() && !start.IsZero() && !end.After(start) {
		return nil, errors.NewValidationError("INVALID_RANGE", "end must be after start")
	}

	stats := &AnomalyStatistics{
		ByType:      make(map[anomaly.Type]int),
		ByRiskLevel: make(map[anomaly.RiskLevel]int),
	}
	scoreSum := 0
	err := g.eachAnomaly(ctx, anomaly.Filter{TenantID: tenantID, Start: start, End: end}, func(r *anomaly.Record) {
		stats.Total++
		stats.ByType[r.Type]++
		stats.ByRiskLevel[r.RiskLevel]++
		scoreSum += r.Score
		if r.Status == anomaly.StatusOpen {
			stats.Open++
		}
	})
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.Total)
	}
	return stats, nil
}

// RecentCritical returns critical anomalies from the trailing hours, newest
// first. hours is capped at one week; zero or negative means one day.
func (g *Aggregator) RecentCritical(ctx context.Context, tenantID uuid.UUID, hours int) ([]*anomaly.Record, error) {
	if hours <= 0 {
		hours = defaultRecentHours
	}
	if hours > maxRecentHours {
		hours = maxRecentHours
	}

	var out []*anomaly.Record
	filter := anomaly.Filter{
		TenantID:  tenantID,
		RiskLevel: anomaly.RiskCritical,
		Start:     g.clock().Add(-time.Duration(hours) * time.Hour),
	}
	err := g.eachAnomaly(ctx, filter, func(r *anomaly.Record) {
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

// TopUsers ranks users by anomaly count over the trailing daysBack days.
// Ties rank the user with the most recent detection first. At most topN
// entries are returned.
func (g *Aggregator) TopUsers(ctx context.Context, tenantID uuid.UUID, daysBack, topN int) ([]*UserAnomalySummary, error) {
	if daysBack <= 0 {
		return nil, errors.NewValidationError("INVALID_DAYS_BACK", "days back must be positive")
	}
	if topN <= 0 {
		topN = defaultTopN
	}
	if topN > maxTopN {
		topN = maxTopN
	}

	byUser := make(map[uuid.UUID]*UserAnomalySummary)
	filter := anomaly.Filter{
		TenantID: tenantID,
		Start:    g.clock().AddDate(0, 0, -daysBack),
	}
	err := g.eachAnomaly(ctx, filter, func(r *anomaly.Record) {
		s, ok := byUser[r.SubjectUserID]
		if !ok {
			s = &UserAnomalySummary{UserID: r.SubjectUserID, Email: r.SubjectEmail}
			byUser[r.SubjectUserID] = s
		}
		s.Count++
		if r.Score > s.MaxScore {
			s.MaxScore = r.Score
		}
		if r.DetectedAt.After(s.MostRecent) {
			s.MostRecent = r.DetectedAt
		}
	})
	if err != nil {
		return nil, err
	}

	ranked := make([]*UserAnomalySummary, 0, len(byUser))
	for _, s := range byUser {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].MostRecent.After(ranked[j].MostRecent)
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

func (g *Aggregator) eachAnomaly(ctx context.Context, filter anomaly.Filter, visit func(*anomaly.Record)) error {
	for page := 1; ; page++ {
		records, total, err := g.anomalies.List(ctx, filter, anomaly.Page{Number: page, Size: pageSize})
		if err != nil {
			return err
		}
		for _, r := range records {
			visit(r)
		}
		if page*pageSize >= total || len(records) == 0 {
			return nil
		}
	}
}

func (g *Aggregator) eachAlert(ctx context.Context, filter alert.Filter, visit func(*alert.SecurityAlert)) error {
	for page := 1; ; page++ {
		alerts, total, err := g.alerts.List(ctx, filter, page, pageSize)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			visit(a)
		}
		if page*pageSize >= total || len(alerts) == 0 {
			return nil
		}
	}
}
