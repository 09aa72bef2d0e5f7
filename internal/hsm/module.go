// Package hsm 模拟硬件安全模块的顶层门面
// 模块是显式实例，所有依赖（时钟、随机源、元数据存储、备份目标、
// 主体目录）由构造方注入，不存在进程级单例
package hsm

import (
	"context"
	"io"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/integrity"
	"github.com/kashguard/go-hsm/internal/hsm/keystore"
	"github.com/kashguard/go-hsm/internal/hsm/operation"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/slot"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MetricsRecorder 模块运行指标回调
type MetricsRecorder interface {
	ObserveOperation(operation string, success bool)
	ObserveAuditDrop()
}

// Config 模块静态配置，启动后不可变
type Config struct {
	Name                   string
	SecurityLevel          string
	SlotCapacity           int
	SupportedAlgorithms    []registry.Algorithm
	AuthMethods            []string
	TamperDetectionEnabled bool
	IdleTimeout            time.Duration
	MasterSecret           []byte
	SealProbe              integrity.SealProbe
	Metrics                MetricsRecorder
}

// Status 模块运行状态快照
type Status struct {
	Name           string
	SecurityLevel  string
	SlotsUsed      int
	SlotsTotal     int
	ActiveSessions int
	KeyCount       int
	Healthy        bool
	SelfTestPassed bool
	Tampered       bool
	LastSelfTest   time.Time
	AuthMethods    []string
}

// Module 模块门面，聚合各子系统并暴露完整操作面
type Module struct {
	cfg         Config
	allocator   *slot.Allocator
	registry    registry.Service
	keystore    *keystore.Store
	sessions    *session.Manager
	integrity   integrity.Subsystem
	processor   *operation.Processor
	auditLogger audit.Logger
	store       storage.MetadataStore
	clock       time2.Clock
}

// New 组装模块并执行启动自检
// 自检失败不阻止构造，模块以不健康状态启动并拒绝所有特权操作，
// 直到显式 Reinitialize 成功
func New(cfg Config, store storage.MetadataStore, target backup.Target, directory session.Directory, rng io.Reader, clock time2.Clock) (*Module, error) {
	if cfg.SlotCapacity <= 0 {
		cfg.SlotCapacity = 1024
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = session.DefaultIdleTimeout
	}

	var recorder operation.Recorder
	var onAuditDrop func()
	if cfg.Metrics != nil {
		recorder = cfg.Metrics.ObserveOperation
		onAuditDrop = cfg.Metrics.ObserveAuditDrop
	}

	auditLogger := audit.NewLogger(store, clock, onAuditDrop)

	var probe integrity.SealProbe
	if cfg.TamperDetectionEnabled {
		probe = cfg.SealProbe
	}
	integritySub := integrity.NewSubsystem(probe, rng, auditLogger, clock)

	allocator := slot.NewAllocator(cfg.SlotCapacity)
	reg := registry.NewService(allocator, store, auditLogger, clock, cfg.SupportedAlgorithms)

	ks, err := keystore.New(store, cfg.MasterSecret, rng, clock)
	if err != nil {
		_ = auditLogger.Close()
		return nil, errors.Wrap(err, "initialize secure key store")
	}

	sessions := session.NewManager(directory, integritySub, auditLogger, clock, cfg.IdleTimeout)
	processor := operation.NewProcessor(sessions, reg, ks, target, auditLogger, integritySub, recorder, rng)

	m := &Module{
		cfg:         cfg,
		allocator:   allocator,
		registry:    reg,
		keystore:    ks,
		sessions:    sessions,
		integrity:   integritySub,
		processor:   processor,
		auditLogger: auditLogger,
		store:       store,
		clock:       clock,
	}

	ctx := context.Background()
	if err := reg.Restore(ctx); err != nil {
		_ = auditLogger.Close()
		return nil, errors.Wrap(err, "restore key registry")
	}

	if err := integritySub.CheckTamperSeals(ctx); err != nil {
		log.Error().Err(err).Msg("tamper seal check failed at startup")
	}
	if err := integritySub.RunSelfTest(ctx); err != nil {
		log.Error().Err(err).Msg("startup self-test failed, module starts unhealthy")
	}

	return m, nil
}

// Close 关闭模块，排空审计队列
func (m *Module) Close() error {
	return m.auditLogger.Close()
}

// Authenticate 认证主体并创建会话
func (m *Module) Authenticate(ctx context.Context, req *session.AuthenticateRequest) (*session.Session, error) {
	return m.sessions.Authenticate(ctx, req)
}

// RevokeSession 显式注销会话
func (m *Module) RevokeSession(ctx context.Context, sessionID string) error {
	return m.sessions.Revoke(ctx, sessionID)
}

// GenerateKey 生成新密钥
func (m *Module) GenerateKey(ctx context.Context, sessionID string, spec *registry.CreateKeyRequest) (*registry.Key, error) {
	return m.processor.Generate(ctx, sessionID, spec)
}

// ImportKey 导入外部密钥材料
func (m *Module) ImportKey(ctx context.Context, sessionID string, req *operation.ImportRequest) (*registry.Key, error) {
	return m.processor.Import(ctx, sessionID, req)
}

// Encrypt 认证对称加密
func (m *Module) Encrypt(ctx context.Context, sessionID string, keyID string, plaintext []byte) (*operation.Ciphertext, error) {
	return m.processor.Encrypt(ctx, sessionID, keyID, plaintext)
}

// Decrypt 认证对称解密，标签不匹配时整体拒绝
func (m *Module) Decrypt(ctx context.Context, sessionID string, keyID string, ct *operation.Ciphertext) ([]byte, error) {
	return m.processor.Decrypt(ctx, sessionID, keyID, ct)
}

// Sign 签名
func (m *Module) Sign(ctx context.Context, sessionID string, keyID string, message []byte) ([]byte, error) {
	return m.processor.Sign(ctx, sessionID, keyID, message)
}

// Verify 验签
func (m *Module) Verify(ctx context.Context, sessionID string, keyID string, message []byte, signature []byte) (bool, error) {
	return m.processor.Verify(ctx, sessionID, keyID, message, signature)
}

// ExportKey 导出原始密钥材料
func (m *Module) ExportKey(ctx context.Context, sessionID string, keyID string) ([]byte, error) {
	return m.processor.Export(ctx, sessionID, keyID)
}

// DeleteKey 删除密钥并释放槽位
func (m *Module) DeleteKey(ctx context.Context, sessionID string, keyID string) error {
	return m.processor.Delete(ctx, sessionID, keyID)
}

// requireHealthy 特权操作的健康闸门
// Reinitialize 与状态读取不经过该检查，留作恢复通道
func (m *Module) requireHealthy() error {
	if !m.integrity.Healthy() {
		return session.ErrModuleUnhealthy
	}
	return nil
}

// ListKeys 列出会话主体可见的密钥
func (m *Module) ListKeys(ctx context.Context, sessionID string) ([]*registry.Key, error) {
	if err := m.requireHealthy(); err != nil {
		return nil, err
	}
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return nil, err
	}
	return m.registry.ListFor(ctx, callerFrom(sess))
}

// GetKey 查询单个密钥元数据
func (m *Module) GetKey(ctx context.Context, sessionID string, keyID string) (*registry.Key, error) {
	if err := m.requireHealthy(); err != nil {
		return nil, err
	}
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Snapshot.Admin {
		// 持有任意授予的主体可读取元数据
		keys, err := m.registry.ListFor(ctx, callerFrom(sess))
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if k.ID == keyID {
				return k, nil
			}
		}
		return nil, registry.ErrKeyNotFound
	}
	return m.registry.Get(ctx, keyID)
}

// GrantPermission 在密钥上写入授予，admin-only
func (m *Module) GrantPermission(ctx context.Context, sessionID string, keyID string, grant *registry.Grant) error {
	if err := m.requireHealthy(); err != nil {
		return err
	}
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return err
	}
	return m.registry.GrantPermission(ctx, keyID, grant, callerFrom(sess))
}

// RevokePermission 撤销主体在密钥上的授予，admin-only
func (m *Module) RevokePermission(ctx context.Context, sessionID string, keyID string, principalID string) error {
	if err := m.requireHealthy(); err != nil {
		return err
	}
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return err
	}
	return m.registry.RevokePermission(ctx, keyID, principalID, callerFrom(sess))
}

// QueryAuditLogs 查询审计日志，admin-only
func (m *Module) QueryAuditLogs(ctx context.Context, sessionID string, filter *storage.AuditLogFilter) ([]*storage.AuditEvent, error) {
	if err := m.requireHealthy(); err != nil {
		return nil, err
	}
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Snapshot.Admin {
		return nil, registry.ErrPermissionDenied
	}
	return m.store.QueryAuditLogs(ctx, filter)
}

// Reinitialize 复位完整性子系统并重新自检，admin-only
func (m *Module) Reinitialize(ctx context.Context, sessionID string) error {
	sess, err := m.sessions.Touch(sessionID)
	if err != nil {
		return err
	}
	if !sess.Snapshot.Admin {
		return registry.ErrPermissionDenied
	}
	return m.integrity.Reinitialize(ctx)
}

// CheckTamperSeals 检查物理封条，破坏时模块转入不健康
func (m *Module) CheckTamperSeals(ctx context.Context) error {
	return m.integrity.CheckTamperSeals(ctx)
}

// RunSelfTest 按需执行自检，供启动探针与运维命令使用
func (m *Module) RunSelfTest(ctx context.Context) error {
	return m.integrity.RunSelfTest(ctx)
}

// Healthy 模块健康标志
func (m *Module) Healthy() bool {
	return m.integrity.Healthy()
}

// GetModuleStatus 运行状态快照，无需会话即可读取
func (m *Module) GetModuleStatus() Status {
	integrityStatus := m.integrity.Status()

	return Status{
		Name:           m.cfg.Name,
		SecurityLevel:  m.cfg.SecurityLevel,
		SlotsUsed:      m.allocator.Occupied(),
		SlotsTotal:     m.allocator.Capacity(),
		ActiveSessions: m.sessions.ActiveCount(),
		KeyCount:       m.registry.KeyCount(),
		Healthy:        m.integrity.Healthy(),
		SelfTestPassed: integrityStatus.SelfTestPassed,
		Tampered:       integrityStatus.Tampered,
		LastSelfTest:   integrityStatus.LastSelfTest,
		AuthMethods:    m.cfg.AuthMethods,
	}
}

func callerFrom(sess *session.Session) registry.Caller {
	return registry.Caller{
		PrincipalID: sess.PrincipalID,
		Kind:        string(sess.PrincipalKind),
		Admin:       sess.Snapshot.Admin,
		IP:          sess.Origin.IP,
	}
}
