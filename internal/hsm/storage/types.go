package storage

import (
	"time"
)

// KeyRecord 密钥元数据持久化记录
// 原始密钥材料永不出现在此结构中，只能通过 WrappedKey 间接寻址
type KeyRecord struct {
	KeyID        string
	Label        string
	KeyType      string
	Algorithm    string
	KeySize      int
	Usages       []string
	Extractable  bool
	Owner        string
	SlotIndex    int
	State        string
	BackupStatus string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	AccessCount  int64
}

// GrantRecord 权限授予持久化记录
// 每个密钥每个主体最多一条记录（后写覆盖）
type GrantRecord struct {
	KeyID         string
	PrincipalID   string
	PrincipalKind string
	Usages        []string
	Conditions    *GrantConditions
	CreatedAt     time.Time
}

// GrantConditions 授予的可选限制条件
type GrantConditions struct {
	// WindowStart/WindowEnd 每日时间窗口，格式 HH:MM（UTC）
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	// AllowedIPs 来源 IP 白名单
	AllowedIPs []string `json:"allowed_ips,omitempty"`
	// MaxSessions 主体最大并发会话数（0 表示不限制）
	MaxSessions int `json:"max_sessions,omitempty"`
}

// WrappedKey 在模块主密钥下封装的密钥材料
type WrappedKey struct {
	KeyID     string
	Blob      []byte
	CreatedAt time.Time
}

// AuditEvent 审计事件
//
//nolint:revive // AuditEvent is the standard naming for audit events
type AuditEvent struct {
	Timestamp           time.Time
	EventType           string
	PrincipalID         string
	Resource            string
	Action              string
	Outcome             string
	RiskLevel           string
	ComplianceFramework string
	IPAddress           string
	AdditionalData      map[string]interface{}
}

// KeyFilter 密钥查询过滤器
//
//nolint:revive // KeyFilter is the standard naming for key filters
type KeyFilter struct {
	State     string
	Algorithm string
	Owner     string
	Limit     int
	Offset    int
}

// AuditLogFilter 审计日志查询过滤器
type AuditLogFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	PrincipalID string
	Resource    string
	EventType   string
	Outcome     string
	Limit       int
	Offset      int
}
