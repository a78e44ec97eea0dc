package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/audit"
)

// finding builds a Finding from the contributing events.
func finding(userID uuid.UUID, email string, score int, desc, summary string, events []*audit.Event, details map[string]any) Finding {
	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return Finding{
		SubjectUserID: userID,
		SubjectEmail:  email,
		Score:         score,
		Description:   desc,
		Evidence: anomaly.Evidence{
			Summary:  summary,
			EventIDs: ids,
			Details:  details,
		},
	}
}

func emailOf(events []*audit.Event) string {
	for _, e := range events {
		if e.ActorEmail != "" {
			return e.ActorEmail
		}
	}
	return ""
}

// maxInSlidingWindow returns the largest number of events falling inside any
// span of the given width, along with the events of that densest span.
// Events must be sorted by timestamp ascending.
func maxInSlidingWindow(events []*audit.Event, width time.Duration) (int, []*audit.Event) {
	best, bestLo, bestHi := 0, 0, 0
	lo := 0
	for hi := range events {
		for events[hi].Timestamp.Sub(events[lo].Timestamp) > width {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best, bestLo, bestHi = n, lo, hi
		}
	}
	if best == 0 {
		return 0, nil
	}
	return best, events[bestLo : bestHi+1]
}

func filterByAction(events []*audit.Event, keep func(audit.ActionType) bool) []*audit.Event {
	var out []*audit.Event
	for _, e := range events {
		if keep(e.ActionType) {
			out = append(out, e)
		}
	}
	return out
}

// bruteForceLoginRule flags repeated failed logins from one account inside a
// short span.
type bruteForceLoginRule struct{}

func (bruteForceLoginRule) Type() anomaly.Type { return anomaly.TypeBruteForceLogin }

func (bruteForceLoginRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds
	width := time.Duration(th.FailedLoginWindowMinutes) * time.Minute

	var findings []Finding
	for userID, events := range in.ByUser {
		failed := filterByAction(events, func(a audit.ActionType) bool { return a == audit.ActionLoginFailed })
		count, span := maxInSlidingWindow(failed, width)
		if count < th.FailedLoginThreshold {
			continue
		}
		score := scoreHigh
		if count >= th.CriticalFailedLogins {
			score = scoreCritical
		}
		findings = append(findings, finding(userID, emailOf(events), score,
			fmt.Sprintf("%d failed login attempts within %d minutes", count, th.FailedLoginWindowMinutes),
			"repeated authentication failures consistent with credential guessing",
			span,
			map[string]any{"failed_attempts": count, "window_minutes": th.FailedLoginWindowMinutes},
		))
	}
	return findings, nil
}

// offHoursAccessRule flags sensitive HR actions performed outside business
// hours. Hours are evaluated in UTC; the off-hours span wraps midnight.
type offHoursAccessRule struct{}

func (offHoursAccessRule) Type() anomaly.Type { return anomaly.TypeOffHoursAccess }

func (offHoursAccessRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds
	offHours := func(t time.Time) bool {
		h := t.UTC().Hour()
		return h >= th.AfterHoursStart || h < th.AfterHoursEnd
	}

	var findings []Finding
	for userID, events := range in.ByUser {
		var hits []*audit.Event
		for _, e := range events {
			if audit.IsSensitive(e.ActionType) && offHours(e.Timestamp) {
				hits = append(hits, e)
			}
		}
		if len(hits) == 0 {
			continue
		}
		findings = append(findings, finding(userID, emailOf(events), scoreMedium,
			fmt.Sprintf("%d sensitive actions performed outside business hours", len(hits)),
			"sensitive HR operations outside the configured working window",
			hits,
			map[string]any{"action_count": len(hits), "off_hours_start": th.AfterHoursStart, "off_hours_end": th.AfterHoursEnd},
		))
	}
	return findings, nil
}

// geoVelocityRule flags logins from two locations closer in time than any
// plausible travel between them would allow. Without precise coordinates the
// rule assumes a fixed inter-location distance.
type geoVelocityRule struct{}

func (geoVelocityRule) Type() anomaly.Type { return anomaly.TypeGeoVelocity }

func (geoVelocityRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds

	var findings []Finding
	for userID, events := range in.ByUser {
		logins := filterByAction(events, func(a audit.ActionType) bool { return a == audit.ActionLoginSuccess })
		for i := 1; i < len(logins); i++ {
			prev, cur := logins[i-1], logins[i]
			if prev.Geolocation == "" || cur.Geolocation == "" || prev.Geolocation == cur.Geolocation {
				continue
			}
			hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
			if hours <= 0 {
				hours = 1.0 / 3600 // same-second logins count as one second apart
			}
			speed := th.AssumedTravelDistanceKm / hours
			if speed <= th.ImpossibleTravelKmh {
				continue
			}
			findings = append(findings, finding(userID, emailOf(events), scoreCritical,
				fmt.Sprintf("logins from %s and %s only %.0f minutes apart", prev.Geolocation, cur.Geolocation, hours*60),
				"successive logins from distinct locations faster than plausible travel",
				[]*audit.Event{prev, cur},
				map[string]any{
					"from_location":   prev.Geolocation,
					"to_location":     cur.Geolocation,
					"implied_kmh":     speed,
					"threshold_kmh":   th.ImpossibleTravelKmh,
					"minutes_between": hours * 60,
				},
			))
			break // one finding per user per window is enough
		}
	}
	return findings, nil
}

// excessiveExportRule flags bulk data exports by record volume.
type excessiveExportRule struct{}

func (excessiveExportRule) Type() anomaly.Type { return anomaly.TypeExcessiveDataExport }

func (excessiveExportRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds

	var findings []Finding
	for userID, events := range in.ByUser {
		exports := filterByAction(events, func(a audit.ActionType) bool { return a == audit.ActionDataExported })
		total := 0
		for _, e := range exports {
			total += e.RecordCount()
		}
		if total < th.MassExportRecords {
			continue
		}
		score := scoreHigh
		if total >= th.CriticalExportRecords {
			score = scoreCritical
		}
		findings = append(findings, finding(userID, emailOf(events), score,
			fmt.Sprintf("%d records exported across %d export operations", total, len(exports)),
			"export volume far above normal usage",
			exports,
			map[string]any{"record_count": total, "export_count": len(exports)},
		))
	}
	return findings, nil
}

// privilegeProbingRule flags self-service privilege changes and repeated
// access denials that suggest permission probing.
type privilegeProbingRule struct{}

func (privilegeProbingRule) Type() anomaly.Type { return anomaly.TypePrivilegeProbing }

func (privilegeProbingRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds

	var findings []Finding
	for userID, events := range in.ByUser {
		var selfGrants, denials []*audit.Event
		for _, e := range events {
			switch e.ActionType {
			case audit.ActionPermissionGranted, audit.ActionRoleChanged:
				if e.EntityID == e.ActorUserID {
					selfGrants = append(selfGrants, e)
				}
			case audit.ActionAccessDenied:
				denials = append(denials, e)
			}
		}
		switch {
		case len(selfGrants) > 0:
			findings = append(findings, finding(userID, emailOf(events), scoreCritical,
				"user modified their own permissions or role",
				"self-service privilege change",
				selfGrants,
				map[string]any{"self_modifications": len(selfGrants)},
			))
		case len(denials) >= th.FailedLoginThreshold:
			findings = append(findings, finding(userID, emailOf(events), scoreHigh,
				fmt.Sprintf("%d access denials in one detection window", len(denials)),
				"repeated denied access suggests probing for reachable resources",
				denials,
				map[string]any{"denied_count": len(denials)},
			))
		}
	}
	return findings, nil
}

// concurrentSessionsRule flags one account logging in from several distinct
// IP addresses inside the window.
type concurrentSessionsRule struct{}

func (concurrentSessionsRule) Type() anomaly.Type { return anomaly.TypeConcurrentSessions }

func (concurrentSessionsRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds

	var findings []Finding
	for userID, events := range in.ByUser {
		logins := filterByAction(events, func(a audit.ActionType) bool { return a == audit.ActionLoginSuccess })
		ips := make(map[string]struct{})
		for _, e := range logins {
			if e.IPAddress != "" {
				ips[e.IPAddress] = struct{}{}
			}
		}
		if len(ips) < th.ConcurrentSessionIPs {
			continue
		}
		addrs := make([]string, 0, len(ips))
		for ip := range ips {
			addrs = append(addrs, ip)
		}
		sort.Strings(addrs)
		findings = append(findings, finding(userID, emailOf(events), scoreMedium,
			fmt.Sprintf("active sessions from %d distinct IP addresses", len(ips)),
			"single account active from multiple network origins",
			logins,
			map[string]any{"distinct_ips": len(ips), "addresses": addrs},
		))
	}
	return findings, nil
}

// rapidHighRiskRule flags bursts of high-risk actions too fast for a human
// operator working normally.
type rapidHighRiskRule struct{}

func (rapidHighRiskRule) Type() anomaly.Type { return anomaly.TypeRapidHighRiskActions }

func (rapidHighRiskRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds
	width := time.Duration(th.RapidActionWindowSeconds) * time.Second

	var findings []Finding
	for userID, events := range in.ByUser {
		risky := filterByAction(events, audit.IsHighRisk)
		count, span := maxInSlidingWindow(risky, width)
		if count < th.RapidActionThreshold {
			continue
		}
		findings = append(findings, finding(userID, emailOf(events), scoreHigh,
			fmt.Sprintf("%d high-risk actions within %d seconds", count, th.RapidActionWindowSeconds),
			"burst of high-risk operations suggests scripted or compromised access",
			span,
			map[string]any{"action_count": count, "window_seconds": th.RapidActionWindowSeconds},
		))
	}
	return findings, nil
}

// securitySettingRule flags every change to tenant security configuration.
// These are rare enough that each occurrence warrants review.
type securitySettingRule struct{}

func (securitySettingRule) Type() anomaly.Type { return anomaly.TypeSecuritySettingChange }

func (securitySettingRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	var findings []Finding
	for userID, events := range in.ByUser {
		hits := filterByAction(events, func(a audit.ActionType) bool {
			return a == audit.ActionSecuritySettingChanged || a == audit.ActionConfigChanged
		})
		if len(hits) == 0 {
			continue
		}
		findings = append(findings, finding(userID, emailOf(events), scoreHigh,
			fmt.Sprintf("%d security configuration changes", len(hits)),
			"tenant security settings were modified",
			hits,
			map[string]any{"change_count": len(hits)},
		))
	}
	return findings, nil
}

// unusualDataAccessRule flags data access by a user with no data-access
// history in the recent baseline period. Uses the event feed to look back
// before the detection window.
type unusualDataAccessRule struct{}

func (unusualDataAccessRule) Type() anomaly.Type { return anomaly.TypeUnusualDataAccess }

func (unusualDataAccessRule) Evaluate(ctx context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds
	dataAccess := func(a audit.ActionType) bool {
		return a == audit.ActionRecordViewed || a == audit.ActionDataExported
	}

	var findings []Finding
	for userID, events := range in.ByUser {
		access := filterByAction(events, dataAccess)
		if len(access) == 0 {
			continue
		}
		history, err := in.Feed.Query(ctx, audit.Filter{
			TenantID:    in.TenantID,
			ActorUserID: userID,
			ActionTypes: []audit.ActionType{audit.ActionRecordViewed, audit.ActionDataExported},
			Start:       in.WindowStart.AddDate(0, 0, -th.UnusualAccessHistoryDays),
			End:         in.WindowStart,
			Limit:       1,
		})
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			continue
		}
		findings = append(findings, finding(userID, emailOf(events), scoreLow,
			fmt.Sprintf("first data access in at least %d days", th.UnusualAccessHistoryDays),
			"data access from an account with no recent access baseline",
			access,
			map[string]any{"baseline_days": th.UnusualAccessHistoryDays, "access_count": len(access)},
		))
	}
	return findings, nil
}

// largeSalaryChangeRule flags salary updates whose relative change exceeds
// the configured percentage.
type largeSalaryChangeRule struct{}

func (largeSalaryChangeRule) Type() anomaly.Type { return anomaly.TypeLargeSalaryChange }

func (largeSalaryChangeRule) Evaluate(_ context.Context, in *RuleInput) ([]Finding, error) {
	th := in.Thresholds

	var findings []Finding
	for userID, events := range in.ByUser {
		var worst *audit.Event
		var worstPct float64
		for _, e := range events {
			if e.ActionType != audit.ActionSalaryUpdated {
				continue
			}
			oldSalary, newSalary, ok := e.SalaryChange()
			if !ok || oldSalary <= 0 {
				continue
			}
			pct := (newSalary - oldSalary) / oldSalary * 100
			if pct < 0 {
				pct = -pct
			}
			if pct > worstPct {
				worst, worstPct = e, pct
			}
		}
		if worst == nil || worstPct < th.SalaryChangePercent {
			continue
		}
		score := scoreHigh
		if worstPct >= th.CriticalSalaryPercent {
			score = scoreCritical
		}
		findings = append(findings, finding(userID, emailOf(events), score,
			fmt.Sprintf("salary changed by %.0f%% in a single update", worstPct),
			"salary adjustment far outside normal review bounds",
			[]*audit.Event{worst},
			map[string]any{"change_percent": worstPct},
		))
	}
	return findings, nil
}
