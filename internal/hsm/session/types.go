package session

import (
	"time"
)

// PrincipalKind 主体类型
type PrincipalKind string

const (
	PrincipalKindUser    PrincipalKind = "user"
	PrincipalKindService PrincipalKind = "service"
	PrincipalKindRole    PrincipalKind = "role"
)

// State 会话状态
type State string

const (
	StateActive  State = "Active"
	StateExpired State = "Expired"
	StateRevoked State = "Revoked"
)

// Origin 会话来源
type Origin struct {
	IP     string
	Client string
}

// PermissionSnapshot 认证时刻复制的主体权限快照
// 快照不随目录后续变更刷新，admin 覆盖所有动作
type PermissionSnapshot struct {
	Admin   bool
	Actions []string
}

// Allows 检查快照是否允许指定动作
func (s PermissionSnapshot) Allows(action string) bool {
	if s.Admin {
		return true
	}
	for _, a := range s.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Session 已认证主体的时限会话
type Session struct {
	ID            string
	PrincipalID   string
	PrincipalKind PrincipalKind
	Snapshot      PermissionSnapshot
	MFAVerified   bool
	Origin        Origin
	State         State
	CreatedAt     time.Time
	LastActivity  time.Time
}

// AuthenticateRequest 认证请求
type AuthenticateRequest struct {
	PrincipalID string
	PIN         string
	MFAToken    string
	Origin      Origin
}
