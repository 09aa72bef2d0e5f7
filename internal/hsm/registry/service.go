package registry

import (
	"context"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/slot"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidKeySpec       = errors.New("invalid key specification")
	ErrKeyNotExtractable    = errors.New("key is not extractable")
	ErrGrantNotFound        = errors.New("grant not found")
)

// Caller 操作发起方的身份视图
type Caller struct {
	PrincipalID string
	Kind        string
	Admin       bool
	IP          string
}

// Service 密钥注册表
// 独占持有密钥元数据，内存为主存储，写穿透到 MetadataStore；
// 原始密钥材料由安全存储边界负责，注册表只通过密钥 ID 间接引用
type Service interface {
	// Create 校验算法与尺寸后分配槽位并登记新密钥，返回元数据
	// 新密钥处于 Generated，材料落库后由 Activate 推进
	Create(ctx context.Context, req *CreateKeyRequest, owner Caller) (*Key, error)
	// Activate 把 Generated 密钥推进到 Active
	Activate(ctx context.Context, keyID string) error
	// Get 按 ID 查找密钥，已删除的密钥视同不存在
	Get(ctx context.Context, keyID string) (*Key, error)
	// ListFor 列出主体持有授予的密钥；admin 返回全部
	ListFor(ctx context.Context, caller Caller) ([]*Key, error)
	// Delete 删除密钥并释放槽位，需要 delete 授予或 admin 能力，不可逆
	Delete(ctx context.Context, keyID string, caller Caller) error
	// GrantPermission 在 Active 密钥上写入授予（每主体一条，后写覆盖），admin-only
	GrantPermission(ctx context.Context, keyID string, grant *Grant, caller Caller) error
	// RevokePermission 撤销主体在密钥上的授予，admin-only
	RevokePermission(ctx context.Context, keyID string, principalID string, caller Caller) error
	// CheckGrant 检查主体是否持有指定用途的授予并满足其限制条件
	CheckGrant(ctx context.Context, keyID string, caller Caller, usage Usage) error
	// TouchUsage 原子递增访问计数并刷新最后使用时间
	TouchUsage(ctx context.Context, keyID string) error
	// MarkBackedUp 备份成功后推进生命周期与备份状态
	MarkBackedUp(ctx context.Context, keyID string) error
	// MarkBackupFailed 备份失败只降级备份状态，密钥保持可用
	MarkBackupFailed(ctx context.Context, keyID string) error
	// Restore 从持久化存储回放密钥与授予，重建槽位占用
	Restore(ctx context.Context) error
	// KeyCount 当前活跃密钥数
	KeyCount() int
}

type service struct {
	mu        sync.Mutex
	keys      map[string]*Key
	grants    map[string]map[string]*Grant // keyID -> principalID -> grant
	supported map[Algorithm]bool

	allocator   *slot.Allocator
	store       storage.MetadataStore
	auditLogger audit.Logger
	clock       time2.Clock
}

// NewService 创建密钥注册表
// supported 为空时启用全部内建算法
//
//nolint:ireturn // 依赖注入需要返回接口
func NewService(allocator *slot.Allocator, store storage.MetadataStore, auditLogger audit.Logger, clock time2.Clock, supported []Algorithm) Service {
	supportedSet := make(map[Algorithm]bool)
	if len(supported) == 0 {
		for alg := range algorithmSpecs {
			supportedSet[alg] = true
		}
	} else {
		for _, alg := range supported {
			supportedSet[alg] = true
		}
	}

	return &service{
		keys:        make(map[string]*Key),
		grants:      make(map[string]map[string]*Grant),
		supported:   supportedSet,
		allocator:   allocator,
		store:       store,
		auditLogger: auditLogger,
		clock:       clock,
	}
}

// validateSpec 在消耗任何槽位之前校验请求
func (s *service) validateSpec(req *CreateKeyRequest) (KeyType, error) {
	if !s.supported[req.Algorithm] {
		return "", errors.Wrapf(ErrUnsupportedAlgorithm, "algorithm %s", req.Algorithm)
	}

	spec := algorithmSpecs[req.Algorithm]

	sizeOK := false
	for _, size := range spec.sizes {
		if req.KeySize == size {
			sizeOK = true
			break
		}
	}
	if !sizeOK {
		return "", errors.Wrapf(ErrInvalidKeySpec, "key size %d not valid for %s", req.KeySize, req.Algorithm)
	}

	if req.Usages.IsEmpty() {
		return "", errors.Wrap(ErrInvalidKeySpec, "empty usage set")
	}
	if req.Usages.Has(UsageDelete) {
		return "", errors.Wrap(ErrInvalidKeySpec, "delete is a grant capability, not a key usage")
	}
	if req.Usages&^spec.usages != 0 {
		return "", errors.Wrapf(ErrInvalidKeySpec, "usages %v not allowed for %s", req.Usages.Strings(), req.Algorithm)
	}

	return spec.keyType, nil
}

func (s *service) Create(ctx context.Context, req *CreateKeyRequest, owner Caller) (*Key, error) {
	keyType, err := s.validateSpec(req)
	if err != nil {
		s.auditKey(ctx, owner, "", "create_key", audit.OutcomeFailure, audit.RiskLevelMedium, err.Error())
		return nil, err
	}

	index, err := s.allocator.Allocate()
	if err != nil {
		s.auditKey(ctx, owner, "", "create_key", audit.OutcomeFailure, audit.RiskLevelHigh, "slot capacity exhausted")
		return nil, err
	}

	now := s.clock.Now()
	key := &Key{
		ID:           uuid.New().String(),
		Label:        req.Label,
		KeyType:      keyType,
		Algorithm:    req.Algorithm,
		KeySize:      req.KeySize,
		Usages:       req.Usages,
		Extractable:  req.Extractable,
		Owner:        owner.PrincipalID,
		SlotIndex:    index,
		State:        StateGenerated,
		BackupStatus: BackupStatusNone,
		CreatedAt:    now,
	}

	// 所有者的默认授予覆盖密钥的全部用途加 delete 能力
	ownerGrant := &Grant{
		PrincipalID:   owner.PrincipalID,
		PrincipalKind: owner.Kind,
		Usages:        req.Usages | UsageSet(UsageDelete),
		CreatedAt:     now,
	}

	if err := s.store.SaveKeyRecord(ctx, key.record()); err != nil {
		s.allocator.Free(index)
		return nil, errors.Wrap(err, "persist key record")
	}
	if err := s.store.SaveGrant(ctx, ownerGrant.record(key.ID)); err != nil {
		// 回滚元数据，保持槽位集合与注册表一致
		if delErr := s.store.DeleteKeyRecord(ctx, key.ID); delErr != nil {
			log.Warn().Err(delErr).Str("key_id", key.ID).Msg("rollback of key record failed")
		}
		s.allocator.Free(index)
		return nil, errors.Wrap(err, "persist owner grant")
	}

	s.mu.Lock()
	s.keys[key.ID] = key
	s.grants[key.ID] = map[string]*Grant{owner.PrincipalID: ownerGrant}
	s.mu.Unlock()

	s.auditKey(ctx, owner, key.ID, "create_key", audit.OutcomeSuccess, audit.RiskLevelLow, "")

	cp := *key
	return &cp, nil
}

func (s *service) Get(_ context.Context, keyID string) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		return nil, ErrKeyNotFound
	}

	cp := *key
	return &cp, nil
}

func (s *service) ListFor(_ context.Context, caller Caller) ([]*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Key, 0)
	for keyID, key := range s.keys {
		if key.State == StateDeleted {
			continue
		}
		if !caller.Admin {
			if _, ok := s.grants[keyID][caller.PrincipalID]; !ok {
				continue
			}
		}
		cp := *key
		out = append(out, &cp)
	}

	return out, nil
}

func (s *service) Delete(ctx context.Context, keyID string, caller Caller) error {
	if err := s.CheckGrant(ctx, keyID, caller, UsageDelete); err != nil {
		s.auditKey(ctx, caller, keyID, "delete_key", audit.OutcomeFailure, audit.RiskLevelHigh, err.Error())
		return err
	}

	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}

	key.State = StateDeleted
	index := key.SlotIndex
	delete(s.grants, keyID)
	s.mu.Unlock()

	s.allocator.Free(index)

	if err := s.store.UpdateKeyRecord(ctx, keyID, map[string]interface{}{"state": string(StateDeleted)}); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting key deletion failed")
	}

	s.auditKey(ctx, caller, keyID, "delete_key", audit.OutcomeSuccess, audit.RiskLevelMedium, "")

	return nil
}

func (s *service) GrantPermission(ctx context.Context, keyID string, grant *Grant, caller Caller) error {
	if !caller.Admin {
		s.auditPermission(ctx, caller, keyID, "grant_permission", audit.OutcomeFailure, "admin capability required")
		return ErrPermissionDenied
	}
	if grant.Usages.IsEmpty() {
		return errors.Wrap(ErrInvalidKeySpec, "empty grant usage set")
	}

	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}

	cp := *grant
	cp.CreatedAt = s.clock.Now()
	if s.grants[keyID] == nil {
		s.grants[keyID] = make(map[string]*Grant)
	}
	// 每个主体在每个密钥上最多一条授予，后写覆盖
	s.grants[keyID][grant.PrincipalID] = &cp
	s.mu.Unlock()

	if err := s.store.SaveGrant(ctx, cp.record(keyID)); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting grant failed")
	}

	s.auditPermission(ctx, caller, keyID, "grant_permission", audit.OutcomeSuccess, "")

	return nil
}

func (s *service) RevokePermission(ctx context.Context, keyID string, principalID string, caller Caller) error {
	if !caller.Admin {
		s.auditPermission(ctx, caller, keyID, "revoke_permission", audit.OutcomeFailure, "admin capability required")
		return ErrPermissionDenied
	}

	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	if _, ok := s.grants[keyID][principalID]; !ok {
		s.mu.Unlock()
		return ErrGrantNotFound
	}
	delete(s.grants[keyID], principalID)
	s.mu.Unlock()

	if err := s.store.DeleteGrant(ctx, keyID, principalID); err != nil && !errors.Is(err, storage.ErrGrantNotFound) {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting grant revocation failed")
	}

	s.auditPermission(ctx, caller, keyID, "revoke_permission", audit.OutcomeSuccess, "")

	return nil
}

func (s *service) CheckGrant(_ context.Context, keyID string, caller Caller, usage Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		return ErrKeyNotFound
	}

	if caller.Admin {
		return nil
	}

	grant, ok := s.grants[keyID][caller.PrincipalID]
	if !ok {
		return errors.Wrapf(ErrPermissionDenied, "no grant for principal %s", caller.PrincipalID)
	}
	if !grant.Usages.Has(usage) {
		return errors.Wrapf(ErrPermissionDenied, "grant does not cover %s", usage)
	}

	if err := s.checkConditions(grant.Conditions, caller); err != nil {
		return err
	}

	return nil
}

// checkConditions 在操作时刻评估授予的限制条件
// 最大并发会话数在认证时由会话管理器执行，此处不重复检查
func (s *service) checkConditions(cond *storage.GrantConditions, caller Caller) error {
	if cond == nil {
		return nil
	}

	if cond.WindowStart != "" && cond.WindowEnd != "" {
		now := s.clock.Now().UTC()
		start, err := parseWindow(cond.WindowStart)
		if err != nil {
			return errors.Wrap(ErrPermissionDenied, "malformed grant window")
		}
		end, err := parseWindow(cond.WindowEnd)
		if err != nil {
			return errors.Wrap(ErrPermissionDenied, "malformed grant window")
		}
		minute := now.Hour()*60 + now.Minute()
		inside := false
		if start <= end {
			inside = minute >= start && minute < end
		} else {
			// 跨午夜窗口
			inside = minute >= start || minute < end
		}
		if !inside {
			return errors.Wrap(ErrPermissionDenied, "outside granted time window")
		}
	}

	if len(cond.AllowedIPs) > 0 {
		allowed := false
		for _, ip := range cond.AllowedIPs {
			if ip == caller.IP {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Wrapf(ErrPermissionDenied, "origin %s not in allow-list", caller.IP)
		}
	}

	return nil
}

// parseWindow 解析 HH:MM 为当日分钟偏移
func parseWindow(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s *service) TouchUsage(ctx context.Context, keyID string) error {
	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	key.AccessCount++
	key.LastUsedAt = s.clock.Now()
	count := key.AccessCount
	lastUsed := key.LastUsedAt
	s.mu.Unlock()

	if err := s.store.UpdateKeyRecord(ctx, keyID, map[string]interface{}{
		"access_count": count,
		"last_used_at": lastUsed,
	}); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting usage counter failed")
	}

	return nil
}

func (s *service) Activate(ctx context.Context, keyID string) error {
	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	if key.State == StateGenerated {
		key.State = StateActive
	}
	s.mu.Unlock()

	if err := s.store.UpdateKeyRecord(ctx, keyID, map[string]interface{}{"state": string(StateActive)}); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting key activation failed")
	}

	return nil
}

func (s *service) MarkBackedUp(ctx context.Context, keyID string) error {
	return s.setBackupState(ctx, keyID, StateBackedUp, BackupStatusDone)
}

func (s *service) MarkBackupFailed(ctx context.Context, keyID string) error {
	return s.setBackupState(ctx, keyID, "", BackupStatusFailed)
}

func (s *service) setBackupState(ctx context.Context, keyID string, state State, status BackupStatus) error {
	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok || key.State == StateDeleted {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	key.BackupStatus = status
	updates := map[string]interface{}{"backup_status": string(status)}
	if state != "" {
		key.State = state
		updates["state"] = string(state)
	}
	s.mu.Unlock()

	if err := s.store.UpdateKeyRecord(ctx, keyID, updates); err != nil {
		log.Warn().Err(err).Str("key_id", keyID).Msg("persisting backup status failed")
	}

	return nil
}

func (s *service) Restore(ctx context.Context) error {
	records, err := s.store.ListKeyRecords(ctx, &storage.KeyFilter{})
	if err != nil {
		return errors.Wrap(err, "list key records")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if State(rec.State) == StateDeleted {
			continue
		}
		key, err := keyFromRecord(rec)
		if err != nil {
			return err
		}
		if err := s.allocator.Reserve(key.SlotIndex); err != nil {
			return errors.Wrapf(err, "reserve slot for key %s", key.ID)
		}
		s.keys[key.ID] = key

		grantRecs, err := s.store.ListGrants(ctx, key.ID)
		if err != nil {
			return errors.Wrapf(err, "list grants for key %s", key.ID)
		}
		grants := make(map[string]*Grant, len(grantRecs))
		for _, gr := range grantRecs {
			usages, err := ParseUsageSet(gr.Usages)
			if err != nil {
				return errors.Wrapf(err, "grant for key %s", key.ID)
			}
			grants[gr.PrincipalID] = &Grant{
				PrincipalID:   gr.PrincipalID,
				PrincipalKind: gr.PrincipalKind,
				Usages:        usages,
				Conditions:    gr.Conditions,
				CreatedAt:     gr.CreatedAt,
			}
		}
		s.grants[key.ID] = grants
	}

	return nil
}

func (s *service) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, key := range s.keys {
		if key.State != StateDeleted {
			count++
		}
	}
	return count
}

func (s *service) auditKey(ctx context.Context, caller Caller, keyID string, action string, outcome audit.Outcome, risk audit.RiskLevel, reason string) {
	var data map[string]interface{}
	if reason != "" {
		data = map[string]interface{}{"reason": reason}
	}

	_ = s.auditLogger.LogEvent(ctx, &audit.AuditEvent{
		EventType:      audit.EventTypeKeyLifecycle,
		PrincipalID:    caller.PrincipalID,
		Resource:       keyID,
		Action:         action,
		Outcome:        outcome,
		RiskLevel:      risk,
		IPAddress:      caller.IP,
		AdditionalData: data,
	})
}

func (s *service) auditPermission(ctx context.Context, caller Caller, keyID string, action string, outcome audit.Outcome, reason string) {
	var data map[string]interface{}
	if reason != "" {
		data = map[string]interface{}{"reason": reason}
	}

	risk := audit.RiskLevelMedium
	if outcome == audit.OutcomeFailure {
		risk = audit.RiskLevelHigh
	}

	_ = s.auditLogger.LogEvent(ctx, &audit.AuditEvent{
		EventType:      audit.EventTypePermission,
		PrincipalID:    caller.PrincipalID,
		Resource:       keyID,
		Action:         action,
		Outcome:        outcome,
		RiskLevel:      risk,
		IPAddress:      caller.IP,
		AdditionalData: data,
	})
}
