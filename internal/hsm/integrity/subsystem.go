package integrity

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrSelfTestFailed = errors.New("cryptographic self-test failed")

// SealProbe 物理封条探针，返回非 nil 表示封条被破坏
// 无硬件封条的部署注入 nil 探针，检查恒为通过
type SealProbe func(ctx context.Context) error

// Status 完整性子系统当前状态
type Status struct {
	SelfTestPassed bool
	Tampered       bool
	TamperReason   string
	LastSelfTest   time.Time
}

// Subsystem 完整性与自检子系统
// 所有特权路径在执行前必须检查 Healthy()
type Subsystem interface {
	// RunSelfTest 执行已知应答自检与签名回环测试
	RunSelfTest(ctx context.Context) error
	// CheckTamperSeals 检查物理封条，破坏时进入 tampered 状态
	CheckTamperSeals(ctx context.Context) error
	// Healthy 自检通过且未检测到篡改
	Healthy() bool
	// SetTampered 外部信号强制进入 tampered 状态
	SetTampered(ctx context.Context, reason string)
	// Reinitialize 清除 tampered 标志并重新自检
	Reinitialize(ctx context.Context) error
	// Status 当前状态快照
	Status() Status
}

type subsystem struct {
	mu             sync.Mutex
	selfTestPassed bool
	tampered       bool
	tamperReason   string
	lastSelfTest   time.Time

	probe       SealProbe
	rng         io.Reader
	auditLogger audit.Logger
	clock       time2.Clock
}

// NewSubsystem 创建完整性子系统，初始状态为未通过自检
//
//nolint:ireturn // 依赖注入需要返回接口
func NewSubsystem(probe SealProbe, rng io.Reader, auditLogger audit.Logger, clock time2.Clock) Subsystem {
	return &subsystem{
		probe:       probe,
		rng:         rng,
		auditLogger: auditLogger,
		clock:       clock,
	}
}

// AES-256-GCM 已知应答向量（全零密钥、全零 nonce）
var (
	katKey   = make([]byte, 32)
	katNonce = make([]byte, 12)

	// 空明文的认证标签
	katEmptyTag = mustHex("530f8afbc74536b9a963b4f1c4cb738b")

	// 16 字节全零明文的密文与标签
	katBlockCiphertext = mustHex("cea7403d4d606b6e074ec5d3baf39d18")
	katBlockTag        = mustHex("d0d1c8a799996bf0265b98b5d48ab919")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (s *subsystem) RunSelfTest(ctx context.Context) error {
	err := s.runChecks()

	s.mu.Lock()
	s.selfTestPassed = err == nil
	s.lastSelfTest = s.clock.Now()
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("integrity self-test failed")
		s.auditState(ctx, "self_test", audit.OutcomeFailure, audit.RiskLevelCritical, err.Error())
		return errors.Wrap(ErrSelfTestFailed, err.Error())
	}

	s.auditState(ctx, "self_test", audit.OutcomeSuccess, audit.RiskLevelLow, "")
	return nil
}

func (s *subsystem) runChecks() error {
	if err := s.checkAESGCM(); err != nil {
		return errors.Wrap(err, "AES-256-GCM known-answer test")
	}
	if err := s.checkEd25519(); err != nil {
		return errors.Wrap(err, "Ed25519 round-trip test")
	}
	return nil
}

// checkAESGCM 用固定向量验证加密引擎的加密与解密路径
func (s *subsystem) checkAESGCM() error {
	block, err := aes.NewCipher(katKey)
	if err != nil {
		return errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errors.Wrap(err, "create GCM")
	}

	// 空明文：输出只含认证标签
	sealed := gcm.Seal(nil, katNonce, nil, nil)
	if !bytes.Equal(sealed, katEmptyTag) {
		return errors.New("empty-plaintext tag mismatch")
	}

	// 单块明文
	sealed = gcm.Seal(nil, katNonce, make([]byte, 16), nil)
	expected := append(append([]byte{}, katBlockCiphertext...), katBlockTag...)
	if !bytes.Equal(sealed, expected) {
		return errors.New("single-block ciphertext mismatch")
	}

	// 解密路径回环
	opened, err := gcm.Open(nil, katNonce, sealed, nil)
	if err != nil {
		return errors.Wrap(err, "decrypt known ciphertext")
	}
	if !bytes.Equal(opened, make([]byte, 16)) {
		return errors.New("decrypted plaintext mismatch")
	}

	// 标签被破坏时必须拒绝
	sealed[len(sealed)-1] ^= 0x01
	if _, err := gcm.Open(nil, katNonce, sealed, nil); err == nil {
		return errors.New("tampered ciphertext accepted")
	}

	return nil
}

func (s *subsystem) checkEd25519() error {
	pub, priv, err := ed25519.GenerateKey(s.rng)
	if err != nil {
		return errors.Wrap(err, "generate key pair")
	}

	message := []byte("integrity self-test message")
	sig := ed25519.Sign(priv, message)
	if !ed25519.Verify(pub, message, sig) {
		return errors.New("valid signature rejected")
	}

	sig[0] ^= 0x01
	if ed25519.Verify(pub, message, sig) {
		return errors.New("tampered signature accepted")
	}

	return nil
}

func (s *subsystem) CheckTamperSeals(ctx context.Context) error {
	if s.probe == nil {
		return nil
	}

	if err := s.probe(ctx); err != nil {
		s.SetTampered(ctx, err.Error())
		return errors.Wrap(err, "tamper seal check")
	}

	return nil
}

func (s *subsystem) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfTestPassed && !s.tampered
}

func (s *subsystem) SetTampered(ctx context.Context, reason string) {
	s.mu.Lock()
	alreadyTampered := s.tampered
	s.tampered = true
	s.tamperReason = reason
	s.mu.Unlock()

	if alreadyTampered {
		return
	}

	log.Error().Str("reason", reason).Msg("module entered tampered state")
	s.auditState(ctx, "tamper_detected", audit.OutcomeFailure, audit.RiskLevelCritical, reason)
}

// Reinitialize 管理员显式复位；自检失败时 tampered 标志保持清除，
// 但 Healthy 仍为 false
func (s *subsystem) Reinitialize(ctx context.Context) error {
	s.mu.Lock()
	s.tampered = false
	s.tamperReason = ""
	s.mu.Unlock()

	s.auditState(ctx, "reinitialize", audit.OutcomeSuccess, audit.RiskLevelHigh, "")

	if err := s.CheckTamperSeals(ctx); err != nil {
		return err
	}
	return s.RunSelfTest(ctx)
}

func (s *subsystem) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		SelfTestPassed: s.selfTestPassed,
		Tampered:       s.tampered,
		TamperReason:   s.tamperReason,
		LastSelfTest:   s.lastSelfTest,
	}
}

func (s *subsystem) auditState(ctx context.Context, action string, outcome audit.Outcome, risk audit.RiskLevel, reason string) {
	var data map[string]interface{}
	if reason != "" {
		data = map[string]interface{}{"reason": reason}
	}

	_ = s.auditLogger.LogEvent(ctx, &audit.AuditEvent{
		EventType:      audit.EventTypeIntegrity,
		Resource:       "module",
		Action:         action,
		Outcome:        outcome,
		RiskLevel:      risk,
		AdditionalData: data,
	})
}
