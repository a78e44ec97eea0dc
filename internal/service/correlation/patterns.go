package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/audit"
)

// campaignActions are the action types worth tracking for tenant-wide
// spikes.
var campaignActions = []audit.ActionType{
	audit.ActionLoginFailed,
	audit.ActionAccessDenied,
	audit.ActionDataExported,
	audit.ActionDataDeleted,
	audit.ActionPermissionGranted,
	audit.ActionRoleChanged,
	audit.ActionSalaryUpdated,
}

const (
	campaignMinUsers = 3
	campaignSigmas   = 2.0
)

// detectCampaigns flags action types whose distinct-user count on the most
// recent day exceeds the trailing mean by campaignSigmas standard
// deviations. A spike confined to one or two users never qualifies.
func detectCampaigns(events []*audit.Event, start time.Time, daysBack int) []Pattern {
	type daySet map[int]map[uuid.UUID]struct{}
	perAction := make(map[audit.ActionType]daySet)

	for _, e := range events {
		if !isCampaignAction(e.ActionType) || e.ActorUserID == uuid.Nil {
			continue
		}
		day := int(e.Timestamp.Sub(start) / (24 * time.Hour))
		if day < 0 || day >= daysBack {
			continue
		}
		days, ok := perAction[e.ActionType]
		if !ok {
			days = make(daySet)
			perAction[e.ActionType] = days
		}
		users, ok := days[day]
		if !ok {
			users = make(map[uuid.UUID]struct{})
			days[day] = users
		}
		users[e.ActorUserID] = struct{}{}
	}

	var patterns []Pattern
	lastDay := daysBack - 1
	for _, action := range campaignActions {
		days := perAction[action]
		if days == nil {
			continue
		}
		today := len(days[lastDay])
		if today < campaignMinUsers {
			continue
		}

		mean, stddev := baselineStats(days, lastDay)
		threshold := mean + campaignSigmas*stddev
		if float64(today) <= threshold {
			continue
		}

		confidence := 0.7
		if stddev == 0 && today >= 2*campaignMinUsers || stddev > 0 && float64(today) > mean+2*campaignSigmas*stddev {
			confidence = 0.9
		}
		patterns = append(patterns, Pattern{
			Tag:         fmt.Sprintf("%s:%s", TagCampaign, action),
			Description: fmt.Sprintf("%d distinct users performed %s today, baseline %.1f", today, action, mean),
			Confidence:  confidence,
			Details: map[string]any{
				"action_type":    string(action),
				"distinct_users": today,
				"baseline_mean":  mean,
				"baseline_sigma": stddev,
			},
		})
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Tag < patterns[j].Tag })
	return patterns
}

// baselineStats computes the mean and population stddev of distinct-user
// counts over every day before excludeDay. Days with no activity count as
// zero so quiet tenants keep a low baseline.
func baselineStats(days map[int]map[uuid.UUID]struct{}, excludeDay int) (mean, stddev float64) {
	if excludeDay == 0 {
		return 0, 0
	}
	sum := 0.0
	for d := 0; d < excludeDay; d++ {
		sum += float64(len(days[d]))
	}
	mean = sum / float64(excludeDay)

	variance := 0.0
	for d := 0; d < excludeDay; d++ {
		diff := float64(len(days[d])) - mean
		variance += diff * diff
	}
	variance /= float64(excludeDay)
	return mean, math.Sqrt(variance)
}

// detectSharedIPs flags IP addresses used by more than one account. VPN and
// office egress addresses will trip this, so confidence stays moderate and
// grows with the account count.
func detectSharedIPs(events []*audit.Event) []Pattern {
	byIP := make(map[string]map[uuid.UUID]struct{})
	evidence := make(map[string][]uuid.UUID)
	for _, e := range events {
		if e.IPAddress == "" || e.ActorUserID == uuid.Nil {
			continue
		}
		users, ok := byIP[e.IPAddress]
		if !ok {
			users = make(map[uuid.UUID]struct{})
			byIP[e.IPAddress] = users
		}
		if _, seen := users[e.ActorUserID]; !seen {
			users[e.ActorUserID] = struct{}{}
			evidence[e.IPAddress] = append(evidence[e.IPAddress], e.ID)
		}
	}

	addrs := make([]string, 0, len(byIP))
	for ip, users := range byIP {
		if len(users) > 1 {
			addrs = append(addrs, ip)
		}
	}
	sort.Strings(addrs)

	patterns := make([]Pattern, 0, len(addrs))
	for _, ip := range addrs {
		users := len(byIP[ip])
		confidence := 0.5 + 0.1*float64(users-2)
		if confidence > 0.8 {
			confidence = 0.8
		}
		patterns = append(patterns, Pattern{
			Tag:         fmt.Sprintf("%s:%s", TagSharedIP, ip),
			Description: fmt.Sprintf("%d distinct accounts active from %s", users, ip),
			Confidence:  confidence,
			EventIDs:    evidence[ip],
			Details:     map[string]any{"ip_address": ip, "distinct_users": users},
		})
	}
	return patterns
}

func isCampaignAction(t audit.ActionType) bool {
	for _, a := range campaignActions {
		if a == t {
			return true
		}
	}
	return false
}
