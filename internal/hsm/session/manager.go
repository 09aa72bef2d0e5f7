package session

import (
	"context"
	"sync"
	"time"
	"unicode"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/pkg/errors"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidMFAToken      = errors.New("invalid MFA token")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrTooManySessions      = errors.New("too many concurrent sessions")
	ErrModuleUnhealthy      = errors.New("module unhealthy")
)

// DefaultIdleTimeout 默认会话空闲超时
const DefaultIdleTimeout = 30 * time.Minute

// HealthChecker 完整性子系统的健康标志
type HealthChecker interface {
	Healthy() bool
}

// Manager 会话管理器
// 认证主体并签发带权限快照的时限会话；同一会话的超时检查与
// 操作执行在管理器锁下线性化
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	lastMFA     map[string]string // principalID -> 最近使用的 MFA token，拒绝重放
	directory   Directory
	health      HealthChecker
	auditLogger audit.Logger
	clock       time2.Clock
	idleTimeout time.Duration
}

// NewManager 创建新的会话管理器
func NewManager(directory Directory, health HealthChecker, auditLogger audit.Logger, clock time2.Clock, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Manager{
		sessions:    make(map[string]*Session),
		lastMFA:     make(map[string]string),
		directory:   directory,
		health:      health,
		auditLogger: auditLogger,
		clock:       clock,
		idleTimeout: idleTimeout,
	}
}

// Authenticate 认证主体并创建会话
// 模块不健康时拒绝非 admin 主体；admin 仍可认证以执行恢复。
// 凭证校验失败不区分"主体不存在"与"PIN 错误"
func (m *Manager) Authenticate(ctx context.Context, req *AuthenticateRequest) (*Session, error) {
	healthy := m.health.Healthy()

	principal, err := m.directory.Lookup(ctx, req.PrincipalID)
	if err != nil {
		m.auditAuth(ctx, req, audit.OutcomeFailure, "unknown principal", audit.RiskLevelMedium)
		return nil, ErrAuthenticationFailed
	}

	if !healthy && !principal.Admin {
		m.auditAuth(ctx, req, audit.OutcomeFailure, "module unhealthy", audit.RiskLevelCritical)
		return nil, ErrModuleUnhealthy
	}

	if !VerifyPIN(principal.PINHash, req.PIN) {
		m.auditAuth(ctx, req, audit.OutcomeFailure, "invalid credential", audit.RiskLevelMedium)
		return nil, ErrAuthenticationFailed
	}

	mfaVerified := false
	if principal.MFARequired {
		if err := m.verifyMFAToken(principal.ID, req.MFAToken); err != nil {
			m.auditAuth(ctx, req, audit.OutcomeFailure, "invalid MFA token", audit.RiskLevelHigh)
			return nil, err
		}
		mfaVerified = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if principal.MaxSessions > 0 && m.liveCountLocked(principal.ID) >= principal.MaxSessions {
		m.auditAuth(ctx, req, audit.OutcomeFailure, "session limit reached", audit.RiskLevelMedium)
		return nil, ErrTooManySessions
	}

	now := m.clock.Now()
	sess := &Session{
		ID:            uuid.New().String(),
		PrincipalID:   principal.ID,
		PrincipalKind: principal.Kind,
		Snapshot: PermissionSnapshot{
			Admin:   principal.Admin,
			Actions: append([]string(nil), principal.AllowedActions...),
		},
		MFAVerified:  mfaVerified,
		Origin:       req.Origin,
		State:        StateActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[sess.ID] = sess

	if healthy {
		m.auditAuth(ctx, req, audit.OutcomeSuccess, "", audit.RiskLevelLow)
	} else {
		m.auditAuth(ctx, req, audit.OutcomeSuccess, "admin session on unhealthy module", audit.RiskLevelHigh)
	}

	cp := *sess
	return &cp, nil
}

// Touch 校验会话存活并刷新最近活动时间
// 空闲超过 idleTimeout 的会话转入 Expired（终态），调用不产生任何状态变更
func (m *Manager) Touch(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	switch sess.State {
	case StateRevoked:
		return nil, ErrSessionRevoked
	case StateExpired:
		return nil, ErrSessionExpired
	case StateActive:
	}

	now := m.clock.Now()
	if now.Sub(sess.LastActivity) > m.idleTimeout {
		sess.State = StateExpired
		return nil, ErrSessionExpired
	}

	// 最近活动时间单调不减
	if now.After(sess.LastActivity) {
		sess.LastActivity = now
	}

	cp := *sess
	return &cp, nil
}

// Revoke 显式注销会话（终态）
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}

	sess.State = StateRevoked
	principalID := sess.PrincipalID
	m.mu.Unlock()

	_ = m.auditLogger.LogEvent(ctx, &audit.AuditEvent{
		EventType:   audit.EventTypeSession,
		PrincipalID: principalID,
		Resource:    sessionID,
		Action:      "revoke_session",
		Outcome:     audit.OutcomeSuccess,
		RiskLevel:   audit.RiskLevelLow,
	})

	return nil
}

// ActiveCount 当前存活会话数
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := m.clock.Now()
	for _, sess := range m.sessions {
		if sess.State == StateActive && now.Sub(sess.LastActivity) <= m.idleTimeout {
			count++
		}
	}
	return count
}

// verifyMFAToken 校验 MFA token 格式（RFC 6238 形制：6-8 位数字）并拒绝重放
// TOTP 密钥的发放与完整校验属于外部目录的职责
func (m *Manager) verifyMFAToken(principalID string, token string) error {
	if len(token) < 6 || len(token) > 8 {
		return ErrInvalidMFAToken
	}
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return ErrInvalidMFAToken
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastMFA[principalID] == token {
		return ErrInvalidMFAToken
	}
	m.lastMFA[principalID] = token

	return nil
}

func (m *Manager) liveCountLocked(principalID string) int {
	count := 0
	now := m.clock.Now()
	for _, sess := range m.sessions {
		if sess.PrincipalID == principalID && sess.State == StateActive && now.Sub(sess.LastActivity) <= m.idleTimeout {
			count++
		}
	}
	return count
}

func (m *Manager) auditAuth(ctx context.Context, req *AuthenticateRequest, outcome audit.Outcome, reason string, risk audit.RiskLevel) {
	var data map[string]interface{}
	if reason != "" {
		data = map[string]interface{}{"reason": reason}
	}

	_ = m.auditLogger.LogEvent(ctx, &audit.AuditEvent{
		EventType:      audit.EventTypeAuthentication,
		PrincipalID:    req.PrincipalID,
		Action:         "authenticate",
		Outcome:        outcome,
		RiskLevel:      risk,
		IPAddress:      req.Origin.IP,
		AdditionalData: data,
	})
}
