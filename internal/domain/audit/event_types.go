package audit

// ActionType classifies what the actor did. Values mirror the platform's
// audit log vocabulary.
type ActionType string

const (
	// Authentication
	ActionLoginSuccess      ActionType = "LOGIN_SUCCESS"
	ActionLoginFailed       ActionType = "LOGIN_FAILED"
	ActionLogout            ActionType = "LOGOUT"
	ActionPasswordChanged   ActionType = "PASSWORD_CHANGED"
	ActionAccessDenied      ActionType = "ACCESS_DENIED"
	ActionSessionTerminated ActionType = "SESSION_TERMINATED"

	// Data access
	ActionRecordViewed ActionType = "RECORD_VIEWED"
	ActionDataExported ActionType = "DATA_EXPORTED"
	ActionDataDeleted  ActionType = "DATA_DELETED"

	// HR changes
	ActionSalaryUpdated     ActionType = "EMPLOYEE_SALARY_UPDATED"
	ActionRoleChanged       ActionType = "EMPLOYEE_ROLE_CHANGED"
	ActionEmployeeDeleted   ActionType = "EMPLOYEE_DELETED"
	ActionPayrollCalculated ActionType = "PAYROLL_CALCULATED"

	// Administration
	ActionPermissionGranted      ActionType = "PERMISSION_GRANTED"
	ActionPermissionRevoked      ActionType = "PERMISSION_REVOKED"
	ActionSecuritySettingChanged ActionType = "SECURITY_SETTING_CHANGED"
	ActionConfigChanged          ActionType = "CONFIG_CHANGED"
)

// Severity is the platform-assigned severity of the audited action.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// HighRiskActions are the action types that, performed in rapid succession
// or off hours, indicate possible abuse of privileged access.
var HighRiskActions = []ActionType{
	ActionSalaryUpdated,
	ActionRoleChanged,
	ActionPermissionGranted,
	ActionPermissionRevoked,
	ActionDataExported,
	ActionEmployeeDeleted,
}

// SensitiveActions are flagged when performed outside business hours.
var SensitiveActions = []ActionType{
	ActionSalaryUpdated,
	ActionPayrollCalculated,
	ActionDataExported,
	ActionRoleChanged,
	ActionPermissionGranted,
	ActionPermissionRevoked,
}

// IsHighRisk reports whether t belongs to the high-risk action set.
func IsHighRisk(t ActionType) bool { return containsAction(HighRiskActions, t) }

// IsSensitive reports whether t belongs to the off-hours sensitive set.
func IsSensitive(t ActionType) bool { return containsAction(SensitiveActions, t) }

func containsAction(set []ActionType, t ActionType) bool {
	for _, a := range set {
		if a == t {
			return true
		}
	}
	return false
}
