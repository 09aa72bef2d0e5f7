package operation

import (
	"context"
	"io"

	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/keystore"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrCryptoFailure = errors.New("cryptographic operation failed")

// Recorder 操作结果计数回调，nil 表示不记录
type Recorder func(operation string, success bool)

// Processor 操作处理器
// 每个请求走完整状态机，任一校验失败立即短路到失败审计，
// 不留下任何部分副作用；usage 计数仅在执行成功后递增
type Processor struct {
	sessions    *session.Manager
	registry    registry.Service
	keystore    *keystore.Store
	backup      backup.Target
	auditLogger audit.Logger
	health      session.HealthChecker
	recorder    Recorder
	rng         io.Reader
}

// NewProcessor 创建操作处理器
func NewProcessor(sessions *session.Manager, reg registry.Service, ks *keystore.Store, target backup.Target, auditLogger audit.Logger, health session.HealthChecker, recorder Recorder, rng io.Reader) *Processor {
	return &Processor{
		sessions:    sessions,
		registry:    reg,
		keystore:    ks,
		backup:      target,
		auditLogger: auditLogger,
		health:      health,
		recorder:    recorder,
		rng:         rng,
	}
}

// begin 校验会话并检查快照是否允许该操作类别
// 模块不健康时所有操作硬失败，直到管理员重新初始化
func (p *Processor) begin(ctx context.Context, sessionID string, kind Kind, tr *trail) (*session.Session, error) {
	if !p.health.Healthy() {
		tr.fail("module unhealthy")
		p.auditOp(ctx, nil, kind, "", audit.OutcomeFailure, audit.RiskLevelCritical, "module unhealthy", tr)
		return nil, session.ErrModuleUnhealthy
	}

	sess, err := p.sessions.Touch(sessionID)
	if err != nil {
		p.auditOp(ctx, nil, kind, "", audit.OutcomeFailure, audit.RiskLevelMedium, err.Error(), tr)
		return nil, err
	}
	tr.advance(stageSessionValidated)

	if !sess.Snapshot.Allows(string(kind)) {
		tr.fail("operation not in permission snapshot")
		p.auditOp(ctx, sess, kind, "", audit.OutcomeFailure, audit.RiskLevelHigh, "operation not in permission snapshot", tr)
		return nil, errors.Wrapf(registry.ErrPermissionDenied, "session snapshot does not allow %s", kind)
	}

	return sess, nil
}

func callerFrom(sess *session.Session) registry.Caller {
	return registry.Caller{
		PrincipalID: sess.PrincipalID,
		Kind:        string(sess.PrincipalKind),
		Admin:       sess.Snapshot.Admin,
		IP:          sess.Origin.IP,
	}
}

// resolve 检查密钥级授予并解析密钥元数据
func (p *Processor) resolve(ctx context.Context, sess *session.Session, kind Kind, keyID string, usage registry.Usage, tr *trail) (*registry.Key, error) {
	caller := callerFrom(sess)

	if err := p.registry.CheckGrant(ctx, keyID, caller, usage); err != nil {
		risk := audit.RiskLevelMedium
		if errors.Is(err, registry.ErrPermissionDenied) {
			risk = audit.RiskLevelHigh
		}
		tr.fail(err.Error())
		p.auditOp(ctx, sess, kind, keyID, audit.OutcomeFailure, risk, err.Error(), tr)
		return nil, err
	}
	tr.advance(stagePermissionValidated)

	key, err := p.registry.Get(ctx, keyID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, kind, keyID, audit.OutcomeFailure, audit.RiskLevelMedium, err.Error(), tr)
		return nil, err
	}
	tr.advance(stageKeyResolved)

	return key, nil
}

// Generate 创建新密钥：注册元数据、生成材料、异步尽力备份
func (p *Processor) Generate(ctx context.Context, sessionID string, spec *registry.CreateKeyRequest) (*registry.Key, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindGenerate, tr)
	if err != nil {
		return nil, err
	}
	tr.advance(stagePermissionValidated)

	key, err := p.registry.Create(ctx, spec, callerFrom(sess))
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindGenerate, "", audit.OutcomeFailure, audit.RiskLevelMedium, err.Error(), tr)
		return nil, err
	}
	tr.advance(stageKeyResolved)

	material, err := generateMaterial(p.rng, key.Algorithm, key.KeySize)
	if err == nil {
		err = p.keystore.Store(ctx, key.ID, material)
	}
	if err != nil {
		// 回滚注册，保持槽位与元数据一致
		rollback := registry.Caller{PrincipalID: sess.PrincipalID, Admin: true}
		if delErr := p.registry.Delete(ctx, key.ID, rollback); delErr != nil {
			log.Error().Err(delErr).Str("key_id", key.ID).Msg("rollback of generated key failed")
		}
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindGenerate, key.ID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, errors.Wrap(ErrCryptoFailure, err.Error())
	}

	// 材料落库后新生密钥进入 Active
	if err := p.registry.Activate(ctx, key.ID); err != nil {
		log.Warn().Err(err).Str("key_id", key.ID).Msg("activating generated key failed")
	}
	key.State = registry.StateActive
	tr.advance(stageExecuted)

	p.backupAsync(key.ID)

	tr.complete()
	p.auditOp(ctx, sess, KindGenerate, key.ID, audit.OutcomeSuccess, audit.RiskLevelLow, "", tr)

	return key, nil
}

// Import 将外部提供的材料像 Generate 一样放入槽位
func (p *Processor) Import(ctx context.Context, sessionID string, req *ImportRequest) (*registry.Key, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindImport, tr)
	if err != nil {
		return nil, err
	}
	tr.advance(stagePermissionValidated)

	// 材料与规格不符时在消耗槽位之前拒绝
	if err := validateImportedMaterial(&req.Spec, req.Material); err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindImport, "", audit.OutcomeFailure, audit.RiskLevelMedium, err.Error(), tr)
		return nil, err
	}

	key, err := p.registry.Create(ctx, &req.Spec, callerFrom(sess))
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindImport, "", audit.OutcomeFailure, audit.RiskLevelMedium, err.Error(), tr)
		return nil, err
	}
	tr.advance(stageKeyResolved)

	if err := p.keystore.Store(ctx, key.ID, req.Material); err != nil {
		rollback := registry.Caller{PrincipalID: sess.PrincipalID, Admin: true}
		if delErr := p.registry.Delete(ctx, key.ID, rollback); delErr != nil {
			log.Error().Err(delErr).Str("key_id", key.ID).Msg("rollback of imported key failed")
		}
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindImport, key.ID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, errors.Wrap(ErrCryptoFailure, err.Error())
	}

	if err := p.registry.Activate(ctx, key.ID); err != nil {
		log.Warn().Err(err).Str("key_id", key.ID).Msg("activating imported key failed")
	}
	key.State = registry.StateActive
	tr.advance(stageExecuted)

	p.backupAsync(key.ID)

	tr.complete()
	p.auditOp(ctx, sess, KindImport, key.ID, audit.OutcomeSuccess, audit.RiskLevelLow, "", tr)

	return key, nil
}

// Encrypt 认证对称加密，每次调用使用新鲜随机 nonce
func (p *Processor) Encrypt(ctx context.Context, sessionID string, keyID string, plaintext []byte) (*Ciphertext, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindEncrypt, tr)
	if err != nil {
		return nil, err
	}
	key, err := p.resolve(ctx, sess, KindEncrypt, keyID, registry.UsageEncrypt, tr)
	if err != nil {
		return nil, err
	}

	material, err := p.keystore.Retrieve(ctx, key.ID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindEncrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}
	defer material.Destroy()

	gcm, err := aeadFor(material.Bytes())
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindEncrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(p.rng, nonce); err != nil {
		tr.fail("nonce generation failed")
		p.auditOp(ctx, sess, KindEncrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, errors.Wrap(ErrCryptoFailure, err.Error())
	}

	data := gcm.Seal(nil, nonce, plaintext, nil)
	tr.advance(stageExecuted)

	p.touchAndAudit(ctx, sess, KindEncrypt, keyID, tr)

	return &Ciphertext{Nonce: nonce, Data: data}, nil
}

// Decrypt 校验认证标签后解密；标签不匹配时整体拒绝，不返回部分明文
func (p *Processor) Decrypt(ctx context.Context, sessionID string, keyID string, ct *Ciphertext) ([]byte, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindDecrypt, tr)
	if err != nil {
		return nil, err
	}
	key, err := p.resolve(ctx, sess, KindDecrypt, keyID, registry.UsageDecrypt, tr)
	if err != nil {
		return nil, err
	}

	material, err := p.keystore.Retrieve(ctx, key.ID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindDecrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}
	defer material.Destroy()

	gcm, err := aeadFor(material.Bytes())
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindDecrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}

	if len(ct.Nonce) != gcm.NonceSize() {
		tr.fail("malformed nonce")
		p.auditOp(ctx, sess, KindDecrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, "malformed nonce", tr)
		return nil, errors.Wrap(ErrCryptoFailure, "malformed nonce")
	}

	plaintext, err := gcm.Open(nil, ct.Nonce, ct.Data, nil)
	if err != nil {
		tr.fail("authentication tag mismatch")
		p.auditOp(ctx, sess, KindDecrypt, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, "authentication tag mismatch", tr)
		return nil, errors.Wrap(ErrCryptoFailure, "authentication tag mismatch")
	}
	tr.advance(stageExecuted)

	p.touchAndAudit(ctx, sess, KindDecrypt, keyID, tr)

	return plaintext, nil
}

// Sign 非对称签名（Ed25519 或 ECDSA P-256，SHA-256 摘要）
func (p *Processor) Sign(ctx context.Context, sessionID string, keyID string, message []byte) ([]byte, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindSign, tr)
	if err != nil {
		return nil, err
	}
	key, err := p.resolve(ctx, sess, KindSign, keyID, registry.UsageSign, tr)
	if err != nil {
		return nil, err
	}

	material, err := p.keystore.Retrieve(ctx, key.ID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindSign, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}
	defer material.Destroy()

	signature, err := signMessage(p.rng, key, material.Bytes(), message)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindSign, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}
	tr.advance(stageExecuted)

	p.touchAndAudit(ctx, sess, KindSign, keyID, tr)

	return signature, nil
}

// Verify 校验签名；合法请求下签名不匹配返回 false 而非错误
func (p *Processor) Verify(ctx context.Context, sessionID string, keyID string, message []byte, signature []byte) (bool, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindVerify, tr)
	if err != nil {
		return false, err
	}
	key, err := p.resolve(ctx, sess, KindVerify, keyID, registry.UsageVerify, tr)
	if err != nil {
		return false, err
	}

	material, err := p.keystore.Retrieve(ctx, key.ID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindVerify, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return false, err
	}
	defer material.Destroy()

	valid, err := verifySignature(key, material.Bytes(), message, signature)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindVerify, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return false, err
	}
	tr.advance(stageExecuted)

	p.touchAndAudit(ctx, sess, KindVerify, keyID, tr)

	return valid, nil
}

// Export 导出原始材料；需要 export 授予且密钥可导出，
// 不可导出的密钥无论授予如何一律拒绝
func (p *Processor) Export(ctx context.Context, sessionID string, keyID string) ([]byte, error) {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindExport, tr)
	if err != nil {
		return nil, err
	}
	key, err := p.resolve(ctx, sess, KindExport, keyID, registry.UsageExport, tr)
	if err != nil {
		return nil, err
	}

	if !key.Extractable {
		tr.fail("key is not extractable")
		p.auditOp(ctx, sess, KindExport, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, "key is not extractable", tr)
		return nil, registry.ErrKeyNotExtractable
	}

	material, err := p.keystore.Retrieve(ctx, key.ID)
	if err != nil {
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindExport, keyID, audit.OutcomeFailure, audit.RiskLevelHigh, err.Error(), tr)
		return nil, err
	}
	defer material.Destroy()

	exported := make([]byte, len(material.Bytes()))
	copy(exported, material.Bytes())
	tr.advance(stageExecuted)

	p.touchAndAudit(ctx, sess, KindExport, keyID, tr)

	return exported, nil
}

// Delete 删除密钥、销毁材料并清理备份副本
func (p *Processor) Delete(ctx context.Context, sessionID string, keyID string) error {
	tr := newTrail()

	sess, err := p.begin(ctx, sessionID, KindDelete, tr)
	if err != nil {
		return err
	}

	if err := p.registry.Delete(ctx, keyID, callerFrom(sess)); err != nil {
		risk := audit.RiskLevelMedium
		if errors.Is(err, registry.ErrPermissionDenied) {
			risk = audit.RiskLevelHigh
		}
		tr.fail(err.Error())
		p.auditOp(ctx, sess, KindDelete, keyID, audit.OutcomeFailure, risk, err.Error(), tr)
		return err
	}
	tr.advance(stagePermissionValidated)
	tr.advance(stageKeyResolved)

	if err := p.keystore.Destroy(ctx, keyID); err != nil && !errors.Is(err, keystore.ErrMaterialNotFound) {
		log.Warn().Err(err).Str("key_id", keyID).Msg("destroying key material failed")
	}
	if err := p.backup.DeleteWrappedKey(ctx, keyID); err != nil && !errors.Is(err, backup.ErrBackupNotFound) {
		log.Warn().Err(err).Str("key_id", keyID).Msg("deleting backup copy failed")
	}
	tr.advance(stageExecuted)

	tr.complete()
	p.auditOp(ctx, sess, KindDelete, keyID, audit.OutcomeSuccess, audit.RiskLevelMedium, "", tr)

	return nil
}

// touchAndAudit 成功路径收尾：递增使用计数并发出成功审计
func (p *Processor) touchAndAudit(ctx context.Context, sess *session.Session, kind Kind, keyID string, tr *trail) {
	if err := p.registry.TouchUsage(ctx, keyID); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("touching usage counter failed")
	}

	tr.complete()
	p.auditOp(ctx, sess, kind, keyID, audit.OutcomeSuccess, audit.RiskLevelLow, "", tr)
}

// backupAsync 尽力而为的异步备份，失败只降级备份状态
func (p *Processor) backupAsync(keyID string) {
	go func() {
		ctx := context.Background()

		wrapped, err := p.keystore.WrappedBlob(ctx, keyID)
		if err == nil {
			err = p.backup.SaveWrappedKey(ctx, wrapped)
		}
		if err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("key backup failed")
			if markErr := p.registry.MarkBackupFailed(ctx, keyID); markErr != nil && !errors.Is(markErr, registry.ErrKeyNotFound) {
				log.Warn().Err(markErr).Str("key_id", keyID).Msg("recording backup failure failed")
			}
			return
		}

		if err := p.registry.MarkBackedUp(ctx, keyID); err != nil && !errors.Is(err, registry.ErrKeyNotFound) {
			log.Warn().Err(err).Str("key_id", keyID).Msg("recording backup success failed")
		}
	}()
}

func (p *Processor) auditOp(ctx context.Context, sess *session.Session, kind Kind, keyID string, outcome audit.Outcome, risk audit.RiskLevel, reason string, tr *trail) {
	data := map[string]interface{}{"trail": tr.steps}
	if reason != "" {
		data["reason"] = reason
	}

	event := &audit.AuditEvent{
		EventType:      audit.EventTypeCryptoOperation,
		Resource:       keyID,
		Action:         string(kind),
		Outcome:        outcome,
		RiskLevel:      risk,
		AdditionalData: data,
	}
	if sess != nil {
		event.PrincipalID = sess.PrincipalID
		event.IPAddress = sess.Origin.IP
	}

	_ = p.auditLogger.LogEvent(ctx, event)

	if p.recorder != nil {
		p.recorder(string(kind), outcome == audit.OutcomeSuccess)
	}
}
