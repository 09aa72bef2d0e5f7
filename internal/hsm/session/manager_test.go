package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHealth struct {
	healthy bool
}

func (h *staticHealth) Healthy() bool { return h.healthy }

// nopAuditLogger 测试用空审计
type nopAuditLogger struct{}

func (nopAuditLogger) LogEvent(_ context.Context, _ *audit.AuditEvent) error { return nil }
func (nopAuditLogger) Close() error                                          { return nil }

func newDirectory(t *testing.T) session.Directory {
	t.Helper()

	pinHash, err := session.HashPIN("1234")
	require.NoError(t, err)
	mfaHash, err := session.HashPIN("5678")
	require.NoError(t, err)

	return session.NewStaticDirectory([]*session.Principal{
		{
			ID:             "user-1",
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"generate", "encrypt", "decrypt"},
		},
		{
			ID:          "service-1",
			Kind:        session.PrincipalKindService,
			PINHash:     mfaHash,
			MFARequired: true,
			MaxSessions: 2,
		},
		{
			ID:      "root",
			Kind:    session.PrincipalKindUser,
			PINHash: pinHash,
			Admin:   true,
		},
	})
}

func newManager(t *testing.T, health *staticHealth) (*session.Manager, *time2.MockClock) {
	t.Helper()

	clock := time2.NewMockClock(time.Now())
	m := session.NewManager(newDirectory(t), health, nopAuditLogger{}, clock, 30*time.Minute)
	return m, clock
}

func TestManager_Authenticate(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: true})

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{
		PrincipalID: "user-1",
		PIN:         "1234",
		Origin:      session.Origin{IP: "10.0.0.1", Client: "test"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StateActive, sess.State)
	assert.True(t, sess.Snapshot.Allows("encrypt"))
	assert.False(t, sess.Snapshot.Allows("delete"))
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManager_AuthenticateBadPIN(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: true})

	_, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "9999"})
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)

	// 未知主体与错误 PIN 返回同一错误
	_, err = m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "nobody", PIN: "1234"})
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)
}

func TestManager_AuthenticateRejectedWhenUnhealthy(t *testing.T) {
	ctx := context.Background()
	health := &staticHealth{healthy: false}
	m, _ := newManager(t, health)

	_, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "1234"})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	// 恢复健康后允许认证
	health.healthy = true
	_, err = m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "1234"})
	require.NoError(t, err)
}

// admin 在模块不健康时仍可认证，凭证依旧要求正确
func TestManager_AdminAuthenticatesWhenUnhealthy(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: false})

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "root", PIN: "1234"})
	require.NoError(t, err)
	assert.True(t, sess.Snapshot.Admin)

	_, err = m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "root", PIN: "9999"})
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)
}

func TestManager_MFA(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: true})

	// 缺失或格式错误的 token 被拒绝
	_, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678"})
	require.ErrorIs(t, err, session.ErrInvalidMFAToken)

	_, err = m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678", MFAToken: "12ab56"})
	require.ErrorIs(t, err, session.ErrInvalidMFAToken)

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678", MFAToken: "123456"})
	require.NoError(t, err)
	assert.True(t, sess.MFAVerified)

	// 同一 token 不得重放
	_, err = m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678", MFAToken: "123456"})
	require.ErrorIs(t, err, session.ErrInvalidMFAToken)
}

func TestManager_MaxConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: true})

	for _, token := range []string{"111111", "222222"} {
		_, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678", MFAToken: token})
		require.NoError(t, err)
	}

	_, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "service-1", PIN: "5678", MFAToken: "333333"})
	require.ErrorIs(t, err, session.ErrTooManySessions)
}

func TestManager_TouchRefreshesActivity(t *testing.T) {
	ctx := context.Background()
	m, clock := newManager(t, &staticHealth{healthy: true})

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "1234"})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	touched, err := m.Touch(sess.ID)
	require.NoError(t, err)
	assert.True(t, touched.LastActivity.After(sess.LastActivity))

	// 持续活动的会话不会过期
	clock.Advance(25 * time.Minute)
	_, err = m.Touch(sess.ID)
	require.NoError(t, err)
}

func TestManager_IdleTimeout(t *testing.T) {
	ctx := context.Background()
	m, clock := newManager(t, &staticHealth{healthy: true})

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "1234"})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, err = m.Touch(sess.ID)
	require.ErrorIs(t, err, session.ErrSessionExpired)

	// Expired 是终态，后续 Touch 仍然失败
	clock.Advance(-20 * time.Minute)
	_, err = m.Touch(sess.ID)
	require.ErrorIs(t, err, session.ErrSessionExpired)

	assert.Equal(t, 0, m.ActiveCount())
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &staticHealth{healthy: true})

	sess, err := m.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "user-1", PIN: "1234"})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, sess.ID))

	_, err = m.Touch(sess.ID)
	require.ErrorIs(t, err, session.ErrSessionRevoked)

	err = m.Revoke(ctx, "unknown")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestVerifyPIN(t *testing.T) {
	hash, err := session.HashPIN("secret-pin")
	require.NoError(t, err)

	assert.True(t, session.VerifyPIN(hash, "secret-pin"))
	assert.False(t, session.VerifyPIN(hash, "wrong-pin"))
	assert.False(t, session.VerifyPIN("not-a-phc-string", "secret-pin"))
}
