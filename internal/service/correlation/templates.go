package correlation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/audit"
)

// Sequence template tags. Alerts raised from a correlation carry the tag.
const (
	TagAccountTakeover = "account-takeover"
	TagPrivilegeAbuse  = "privilege-abuse"
	TagDataStaging     = "data-staging"
	TagCampaign        = "campaign"
	TagSharedIP        = "shared-ip"
)

// sequenceTemplate matches an ordered attack narrative against one user's
// chronological events. Confidence reflects how completely the narrative
// matched, never the raw event volume.
type sequenceTemplate interface {
	match(events []*audit.Event) (Pattern, bool)
}

func builtinTemplates() []sequenceTemplate {
	return []sequenceTemplate{
		accountTakeoverTemplate{},
		privilegeAbuseTemplate{},
		dataStagingTemplate{},
	}
}

func ids(events []*audit.Event) []uuid.UUID {
	out := make([]uuid.UUID, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

// accountTakeoverTemplate matches failed-login burst, then a success from a
// location not used before the burst, then a data export. Each stage adds
// confidence; all three stages in order score 0.9.
type accountTakeoverTemplate struct{}

func (accountTakeoverTemplate) match(events []*audit.Event) (Pattern, bool) {
	const burstSize = 3

	knownLocations := make(map[string]struct{})
	var evidence []*audit.Event
	failures := 0
	stage := 0 // 0 waiting for burst, 1 burst seen, 2 suspicious login seen

	for _, e := range events {
		switch e.ActionType {
		case audit.ActionLoginFailed:
			failures++
			if failures >= burstSize && stage == 0 {
				stage = 1
			}
			if failures <= burstSize {
				evidence = append(evidence, e)
			}
		case audit.ActionLoginSuccess:
			_, known := knownLocations[e.Geolocation]
			if stage == 1 && e.Geolocation != "" && !known {
				stage = 2
				evidence = append(evidence, e)
			}
			if e.Geolocation != "" {
				knownLocations[e.Geolocation] = struct{}{}
			}
			failures = 0
		case audit.ActionDataExported:
			if stage == 2 {
				evidence = append(evidence, e)
				return Pattern{
					Tag:         TagAccountTakeover,
					Description: "failed-login burst followed by login from a new location and bulk export",
					Confidence:  0.9,
					EventIDs:    ids(evidence),
					Details:     map[string]any{"stages_matched": 3},
				}, true
			}
		}
	}

	switch stage {
	case 2:
		return Pattern{
			Tag:         TagAccountTakeover,
			Description: "failed-login burst followed by login from a new location",
			Confidence:  0.6,
			EventIDs:    ids(evidence),
			Details:     map[string]any{"stages_matched": 2},
		}, true
	default:
		return Pattern{}, false
	}
}

// privilegeAbuseTemplate matches a privilege change followed by a wave of
// data access within the following hour.
type privilegeAbuseTemplate struct{}

func (privilegeAbuseTemplate) match(events []*audit.Event) (Pattern, bool) {
	const accessWave = 10
	const waveSpan = time.Hour

	for i, e := range events {
		if e.ActionType != audit.ActionRoleChanged && e.ActionType != audit.ActionPermissionGranted {
			continue
		}
		wave := []*audit.Event{e}
		for _, after := range events[i+1:] {
			if after.Timestamp.Sub(e.Timestamp) > waveSpan {
				break
			}
			if after.ActionType == audit.ActionRecordViewed || after.ActionType == audit.ActionDataExported {
				wave = append(wave, after)
			}
		}
		accesses := len(wave) - 1
		if accesses < accessWave {
			continue
		}
		confidence := 0.7
		if accesses >= 2*accessWave {
			confidence = 0.85
		}
		return Pattern{
			Tag:         TagPrivilegeAbuse,
			Description: fmt.Sprintf("privilege change followed by %d data accesses within an hour", accesses),
			Confidence:  confidence,
			EventIDs:    ids(wave),
			Details:     map[string]any{"access_count": accesses},
		}, true
	}
	return Pattern{}, false
}

// dataStagingTemplate matches repeated exports spanning several entity
// types, the shape of data being gathered for exfiltration.
type dataStagingTemplate struct{}

func (dataStagingTemplate) match(events []*audit.Event) (Pattern, bool) {
	const minEntityTypes = 3

	entityTypes := make(map[string]struct{})
	var exports []*audit.Event
	for _, e := range events {
		if e.ActionType != audit.ActionDataExported {
			continue
		}
		exports = append(exports, e)
		if e.EntityType != "" {
			entityTypes[e.EntityType] = struct{}{}
		}
	}
	if len(entityTypes) < minEntityTypes {
		return Pattern{}, false
	}
	confidence := 0.6
	if len(entityTypes) >= minEntityTypes+2 {
		confidence = 0.8
	}
	return Pattern{
		Tag:         TagDataStaging,
		Description: fmt.Sprintf("exports across %d entity types", len(entityTypes)),
		Confidence:  confidence,
		EventIDs:    ids(exports),
		Details:     map[string]any{"entity_types": len(entityTypes), "export_count": len(exports)},
	}, true
}
