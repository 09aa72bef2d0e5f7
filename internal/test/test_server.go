package test

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/router"
	"github.com/kashguard/go-hsm/internal/config"
	"github.com/kashguard/go-hsm/internal/hsm"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/kashguard/go-hsm/internal/metrics"
	"github.com/stretchr/testify/require"
)

// 种子目录中的测试主体
const (
	TestAdminID  = "admin"
	TestUserID   = "alice"
	TestViewerID = "bob"
	TestPIN      = "123456"
)

// WithTestServer 启动带内存后端和种子主体目录的测试服务
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	cfg := config.DefaultServiceConfigFromEnv()
	cfg.HSM.StorageBackend = "memory"
	cfg.HSM.SlotCapacity = 64

	WithTestServerConfigurable(t, cfg, closure)
}

// WithTestServerConfigurable 与 WithTestServer 相同，但允许修改配置
func WithTestServerConfigurable(t *testing.T, cfg config.Server, closure func(s *api.Server)) {
	t.Helper()

	store := storage.NewMemoryStore()
	metricsService := metrics.New()

	module, err := hsm.New(hsm.Config{
		Name:                cfg.HSM.ModuleName,
		SecurityLevel:       cfg.HSM.SecurityLevel,
		SlotCapacity:        cfg.HSM.SlotCapacity,
		SupportedAlgorithms: nil, // all registered algorithms
		AuthMethods:         cfg.HSM.AuthMethods,
		IdleTimeout:         cfg.HSM.SessionIdleTimeout,
		MasterSecret:        []byte("0123456789abcdef0123456789abcdef"),
		Metrics:             metricsService,
	}, store, backup.NewNoopTarget(), testDirectory(t), rand.Reader, time2.NewMockClock(time.Now()))
	require.NoError(t, err)

	s := api.NewServer(cfg)
	s.Clock = time2.NewMockClock(time.Now())
	s.Metrics = metricsService
	s.MetadataStore = store
	s.Module = module

	router.Init(s)

	defer func() {
		require.NoError(t, module.Close())
	}()

	closure(s)
}

// testDirectory 种子主体：管理员、全操作用户和仅加解密用户
//
//nolint:ireturn // 测试辅助返回目录接口
func testDirectory(t *testing.T) session.Directory {
	t.Helper()

	pinHash, err := session.HashPIN(TestPIN)
	require.NoError(t, err)

	return session.NewStaticDirectory([]*session.Principal{
		{
			ID:      TestAdminID,
			Kind:    session.PrincipalKindUser,
			PINHash: pinHash,
			Admin:   true,
		},
		{
			ID:             TestUserID,
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"generate", "encrypt", "decrypt", "sign", "verify", "export", "import", "delete"},
		},
		{
			ID:             TestViewerID,
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"encrypt", "decrypt"},
		},
	})
}
