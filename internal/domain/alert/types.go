package alert

// Type classifies what kind of threat the alert tracks.
type Type string

const (
	TypeFailedLoginThreshold  Type = "FAILED_LOGIN_THRESHOLD"
	TypeMassDataExport        Type = "MASS_DATA_EXPORT"
	TypeAfterHoursAccess      Type = "AFTER_HOURS_ACCESS"
	TypeImpossibleTravel      Type = "IMPOSSIBLE_TRAVEL"
	TypePrivilegeEscalation   Type = "PRIVILEGE_ESCALATION"
	TypeConcurrentSessions    Type = "CONCURRENT_SESSIONS"
	TypeRapidHighRiskActions  Type = "RAPID_HIGH_RISK_ACTIONS"
	TypeSecuritySettingChange Type = "SECURITY_SETTING_CHANGE"
	TypeSalaryChange          Type = "SALARY_CHANGE"
	TypeCoordinatedActivity   Type = "COORDINATED_ACTIVITY"
	TypeGeneralSecurityEvent  Type = "GENERAL_SECURITY_EVENT"
)

// Severity of the alert; emergency alerts page, critical alerts notify.
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Status is the alert's lifecycle state. Resolved and FalsePositive are
// terminal. Escalated is terminal for this manager: ownership transfers to
// the escalation target and no further self-transition is modeled.
type Status string

const (
	StatusNew           Status = "new"
	StatusAcknowledged  Status = "acknowledged"
	StatusInProgress    Status = "in_progress"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
	StatusEscalated     Status = "escalated"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusInProgress,
		StatusResolved, StatusFalsePositive, StatusEscalated:
		return true
	}
	return false
}

// IsTerminal reports whether any further transition must be rejected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusFalsePositive, StatusEscalated:
		return true
	}
	return false
}
