package anomaly

// Type identifies the detection rule family that produced a record.
type Type string

const (
	TypeBruteForceLogin       Type = "BRUTE_FORCE_LOGIN"
	TypeOffHoursAccess        Type = "OFF_HOURS_ACCESS"
	TypeGeoVelocity           Type = "GEO_VELOCITY"
	TypeExcessiveDataExport   Type = "EXCESSIVE_DATA_EXPORT"
	TypePrivilegeProbing      Type = "PRIVILEGE_PROBING"
	TypeConcurrentSessions    Type = "CONCURRENT_SESSIONS"
	TypeRapidHighRiskActions  Type = "RAPID_HIGH_RISK_ACTIONS"
	TypeSecuritySettingChange Type = "SECURITY_SETTING_CHANGE"
	TypeUnusualDataAccess     Type = "UNUSUAL_DATA_ACCESS"
	TypeLargeSalaryChange     Type = "LARGE_SALARY_CHANGE"
)

// AllTypes lists every known anomaly type.
var AllTypes = []Type{
	TypeBruteForceLogin,
	TypeOffHoursAccess,
	TypeGeoVelocity,
	TypeExcessiveDataExport,
	TypePrivilegeProbing,
	TypeConcurrentSessions,
	TypeRapidHighRiskActions,
	TypeSecuritySettingChange,
	TypeUnusualDataAccess,
	TypeLargeSalaryChange,
}

func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RiskLevel is a coarse banding of the numeric score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score thresholds separating the risk bands. The platform's original
// rules never documented the medium/high cut, so these are fixed here:
// scores are 0-100, rules emit 25/50/75/90 for low/medium/high/critical.
const (
	mediumThreshold   = 40
	highThreshold     = 60
	criticalThreshold = 85
)

// RiskLevelForScore maps a numeric score onto a risk band. The mapping is
// a monotonically non-decreasing step function of the score.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= criticalThreshold:
		return RiskCritical
	case score >= highThreshold:
		return RiskHigh
	case score >= mediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Rank orders risk levels for comparisons; higher is more severe.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// RequiresAlert reports whether records at this level auto-escalate to a
// security alert. Low and medium anomalies are recorded but not escalated.
func (l RiskLevel) RequiresAlert() bool {
	return l == RiskHigh || l == RiskCritical
}

// Status tracks the investigation workflow of a record.
type Status string

const (
	StatusOpen               Status = "open"
	StatusUnderInvestigation Status = "under_investigation"
	StatusResolved           Status = "resolved"
	StatusFalsePositive      Status = "false_positive"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusUnderInvestigation, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// IsTerminal reports whether the status permits no further workflow moves.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}
