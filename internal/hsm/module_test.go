package hsm_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModule(t *testing.T, cfg hsm.Config) *hsm.Module {
	t.Helper()

	pinHash, err := session.HashPIN("1234")
	require.NoError(t, err)

	directory := session.NewStaticDirectory([]*session.Principal{
		{
			ID:             "P1",
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"generate", "encrypt", "decrypt", "sign", "verify", "export", "import", "delete"},
		},
		{
			ID:      "admin",
			Kind:    session.PrincipalKindUser,
			PINHash: pinHash,
			Admin:   true,
		},
	})

	if cfg.SlotCapacity == 0 {
		cfg.SlotCapacity = 16
	}
	if len(cfg.MasterSecret) == 0 {
		cfg.MasterSecret = bytes.Repeat([]byte{0x11}, 32)
	}

	module, err := hsm.New(cfg, storage.NewMemoryStore(), backup.NewNoopTarget(), directory, rand.Reader, time2.NewMockClock(time.Now()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = module.Close() })

	return module
}

// 完整生命周期：认证、生成、加解密、删除、删除后不可用
func TestModule_Lifecycle(t *testing.T) {
	ctx := context.Background()
	module := newModule(t, hsm.Config{Name: "hsm-0", SecurityLevel: "FIPS_140_2_LEVEL_3"})

	sess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)

	key, err := module.GenerateKey(ctx, sess.ID, &registry.CreateKeyRequest{
		Label:     "k1",
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, key.SlotIndex)

	ct, err := module.Encrypt(ctx, sess.ID, key.ID, []byte("hello"))
	require.NoError(t, err)

	plaintext, err := module.Decrypt(ctx, sess.ID, key.ID, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	require.NoError(t, module.DeleteKey(ctx, sess.ID, key.ID))

	status := module.GetModuleStatus()
	assert.Equal(t, 0, status.SlotsUsed)
	assert.Equal(t, 0, status.KeyCount)

	_, err = module.Encrypt(ctx, sess.ID, key.ID, []byte("hello"))
	require.ErrorIs(t, err, registry.ErrKeyNotFound)
}

func TestModule_Status(t *testing.T) {
	ctx := context.Background()
	module := newModule(t, hsm.Config{
		Name:          "hsm-0",
		SecurityLevel: "FIPS_140_2_LEVEL_3",
		SlotCapacity:  4,
		AuthMethods:   []string{"pin", "mfa"},
	})

	status := module.GetModuleStatus()
	assert.Equal(t, "hsm-0", status.Name)
	assert.Equal(t, 4, status.SlotsTotal)
	assert.True(t, status.Healthy)
	assert.True(t, status.SelfTestPassed)
	assert.Equal(t, 0, status.ActiveSessions)

	sess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)
	_, err = module.GenerateKey(ctx, sess.ID, &registry.CreateKeyRequest{
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt),
	})
	require.NoError(t, err)

	status = module.GetModuleStatus()
	assert.Equal(t, 1, status.SlotsUsed)
	assert.Equal(t, 1, status.KeyCount)
	assert.Equal(t, 1, status.ActiveSessions)
}

// 篡改信号使模块不健康，直到 admin 复位
func TestModule_TamperBlocksUntilReinitialize(t *testing.T) {
	ctx := context.Background()

	broken := false
	module := newModule(t, hsm.Config{
		Name:                   "hsm-0",
		TamperDetectionEnabled: true,
		SealProbe: func(_ context.Context) error {
			if broken {
				return errors.New("seal broken")
			}
			return nil
		},
	})

	adminSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "admin", PIN: "1234"})
	require.NoError(t, err)

	broken = true
	require.Error(t, module.CheckTamperSeals(ctx))
	assert.False(t, module.Healthy())

	// 不健康时拒绝新的认证
	_, err = module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	// 已有会话的操作同样被硬失败
	_, err = module.GenerateKey(ctx, adminSess.ID, &registry.CreateKeyRequest{
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt),
	})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	// 元数据路径同样经过健康闸门
	_, err = module.ListKeys(ctx, adminSess.ID)
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)
	_, err = module.GetKey(ctx, adminSess.ID, "some-key")
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)
	err = module.GrantPermission(ctx, adminSess.ID, "some-key", &registry.Grant{
		PrincipalID: "eve",
		Usages:      registry.NewUsageSet(registry.UsageEncrypt),
	})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)
	err = module.RevokePermission(ctx, adminSess.ID, "some-key", "eve")
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)
	_, err = module.QueryAuditLogs(ctx, adminSess.ID, &storage.AuditLogFilter{})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	broken = false
	require.NoError(t, module.Reinitialize(ctx, adminSess.ID))
	assert.True(t, module.Healthy())

	_, err = module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)
}

// 启动即被篡改的模块仍可由 admin 认证并复位
func TestModule_ColdStartTamperedRecoverable(t *testing.T) {
	ctx := context.Background()

	broken := true
	module := newModule(t, hsm.Config{
		Name:                   "hsm-0",
		TamperDetectionEnabled: true,
		SealProbe: func(_ context.Context) error {
			if broken {
				return errors.New("seal broken")
			}
			return nil
		},
	})

	assert.False(t, module.Healthy())

	// 普通主体被拒绝
	_, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	// admin 可以建立恢复会话，但操作在复位前依旧硬失败
	adminSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "admin", PIN: "1234"})
	require.NoError(t, err)
	_, err = module.ListKeys(ctx, adminSess.ID)
	require.ErrorIs(t, err, session.ErrModuleUnhealthy)

	broken = false
	require.NoError(t, module.Reinitialize(ctx, adminSess.ID))
	assert.True(t, module.Healthy())

	_, err = module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)
}

func TestModule_AuditLogsAdminOnly(t *testing.T) {
	ctx := context.Background()
	module := newModule(t, hsm.Config{Name: "hsm-0"})

	userSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)
	adminSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "admin", PIN: "1234"})
	require.NoError(t, err)

	_, err = module.QueryAuditLogs(ctx, userSess.ID, &storage.AuditLogFilter{})
	require.ErrorIs(t, err, registry.ErrPermissionDenied)

	// 审计写入是异步的，轮询直到认证事件可见
	require.Eventually(t, func() bool {
		events, err := module.QueryAuditLogs(ctx, adminSess.ID, &storage.AuditLogFilter{EventType: "authentication"})
		return err == nil && len(events) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestModule_GrantFlow(t *testing.T) {
	ctx := context.Background()
	module := newModule(t, hsm.Config{Name: "hsm-0"})

	userSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "P1", PIN: "1234"})
	require.NoError(t, err)
	adminSess, err := module.Authenticate(ctx, &session.AuthenticateRequest{PrincipalID: "admin", PIN: "1234"})
	require.NoError(t, err)

	key, err := module.GenerateKey(ctx, userSess.ID, &registry.CreateKeyRequest{
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt),
	})
	require.NoError(t, err)

	// 非 admin 会话不能授予
	err = module.GrantPermission(ctx, userSess.ID, key.ID, &registry.Grant{
		PrincipalID: "someone",
		Usages:      registry.NewUsageSet(registry.UsageEncrypt),
	})
	require.ErrorIs(t, err, registry.ErrPermissionDenied)

	require.NoError(t, module.GrantPermission(ctx, adminSess.ID, key.ID, &registry.Grant{
		PrincipalID:   "someone",
		PrincipalKind: "service",
		Usages:        registry.NewUsageSet(registry.UsageEncrypt),
	}))
	require.NoError(t, module.RevokePermission(ctx, adminSess.ID, key.ID, "someone"))

	keys, err := module.ListKeys(ctx, userSess.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
}
