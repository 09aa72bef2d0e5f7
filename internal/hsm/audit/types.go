package audit

import "time"

// RiskLevel 事件风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Outcome 事件结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// 事件类型
const (
	EventTypeAuthentication  = "authentication"
	EventTypeSession         = "session"
	EventTypeKeyLifecycle    = "key_lifecycle"
	EventTypeCryptoOperation = "crypto_operation"
	EventTypePermission      = "permission"
	EventTypeIntegrity       = "integrity"
)

// AuditEvent 审计事件
//
//nolint:revive // AuditEvent is the standard naming for audit events
type AuditEvent struct {
	Timestamp           time.Time
	EventType           string
	PrincipalID         string
	Resource            string
	Action              string
	Outcome             Outcome
	RiskLevel           RiskLevel
	ComplianceFramework string
	IPAddress           string
	AdditionalData      map[string]interface{}
}
