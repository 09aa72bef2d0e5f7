package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore 实现内存存储后端
// 单进程模块的默认后端，所有数据随进程消失
type memoryStore struct {
	mu      sync.RWMutex
	keys    map[string]*KeyRecord
	grants  map[string]map[string]*GrantRecord // keyID -> principalID -> grant
	wrapped map[string]*WrappedKey
	audit   []*AuditEvent
}

// NewMemoryStore 创建新的内存存储后端
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewMemoryStore() MetadataStore {
	return &memoryStore{
		keys:    make(map[string]*KeyRecord),
		grants:  make(map[string]map[string]*GrantRecord),
		wrapped: make(map[string]*WrappedKey),
		audit:   make([]*AuditEvent, 0),
	}
}

// SaveKeyRecord 保存密钥元数据
func (s *memoryStore) SaveKeyRecord(_ context.Context, key *KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.KeyID]; ok {
		return ErrDuplicateKeyRecord
	}

	cp := *key
	s.keys[key.KeyID] = &cp
	return nil
}

// GetKeyRecord 获取密钥元数据
func (s *memoryStore) GetKeyRecord(_ context.Context, keyID string) (*KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyRecordNotFound
	}

	cp := *key
	return &cp, nil
}

// UpdateKeyRecord 更新密钥元数据
func (s *memoryStore) UpdateKeyRecord(_ context.Context, keyID string, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return ErrKeyRecordNotFound
	}

	for field, value := range updates {
		switch field {
		case "state":
			if v, ok := value.(string); ok {
				key.State = v
			}
		case "backup_status":
			if v, ok := value.(string); ok {
				key.BackupStatus = v
			}
		case "last_used_at":
			if v, ok := value.(time.Time); ok {
				key.LastUsedAt = v
			}
		case "access_count":
			if v, ok := value.(int64); ok {
				key.AccessCount = v
			}
		case "label":
			if v, ok := value.(string); ok {
				key.Label = v
			}
		}
	}

	return nil
}

// DeleteKeyRecord 删除密钥元数据
func (s *memoryStore) DeleteKeyRecord(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[keyID]; !ok {
		return ErrKeyRecordNotFound
	}

	delete(s.keys, keyID)
	delete(s.grants, keyID)
	return nil
}

// ListKeyRecords 列出密钥元数据
func (s *memoryStore) ListKeyRecords(_ context.Context, filter *KeyFilter) ([]*KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*KeyRecord, 0, len(s.keys))
	for _, key := range s.keys {
		if filter != nil {
			if filter.State != "" && key.State != filter.State {
				continue
			}
			if filter.Algorithm != "" && key.Algorithm != filter.Algorithm {
				continue
			}
			if filter.Owner != "" && key.Owner != filter.Owner {
				continue
			}
		}
		cp := *key
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter != nil {
		result = paginate(result, filter.Offset, filter.Limit)
	}

	return result, nil
}

// SaveGrant 保存权限授予（同一主体后写覆盖）
func (s *memoryStore) SaveGrant(_ context.Context, grant *GrantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPrincipal, ok := s.grants[grant.KeyID]
	if !ok {
		byPrincipal = make(map[string]*GrantRecord)
		s.grants[grant.KeyID] = byPrincipal
	}

	cp := *grant
	byPrincipal[grant.PrincipalID] = &cp
	return nil
}

// DeleteGrant 删除权限授予
func (s *memoryStore) DeleteGrant(_ context.Context, keyID string, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPrincipal, ok := s.grants[keyID]
	if !ok {
		return ErrGrantNotFound
	}
	if _, ok := byPrincipal[principalID]; !ok {
		return ErrGrantNotFound
	}

	delete(byPrincipal, principalID)
	return nil
}

// ListGrants 列出密钥的全部权限授予
func (s *memoryStore) ListGrants(_ context.Context, keyID string) ([]*GrantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPrincipal := s.grants[keyID]
	result := make([]*GrantRecord, 0, len(byPrincipal))
	for _, grant := range byPrincipal {
		cp := *grant
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return strings.Compare(result[i].PrincipalID, result[j].PrincipalID) < 0
	})

	return result, nil
}

// SaveWrappedKey 保存封装密钥材料
func (s *memoryStore) SaveWrappedKey(_ context.Context, wrapped *WrappedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wrapped[wrapped.KeyID]; ok {
		return ErrDuplicateWrappedKey
	}

	cp := *wrapped
	cp.Blob = append([]byte(nil), wrapped.Blob...)
	s.wrapped[wrapped.KeyID] = &cp
	return nil
}

// GetWrappedKey 获取封装密钥材料
func (s *memoryStore) GetWrappedKey(_ context.Context, keyID string) (*WrappedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wrapped, ok := s.wrapped[keyID]
	if !ok {
		return nil, ErrWrappedKeyNotFound
	}

	cp := *wrapped
	cp.Blob = append([]byte(nil), wrapped.Blob...)
	return &cp, nil
}

// DeleteWrappedKey 删除封装密钥材料
func (s *memoryStore) DeleteWrappedKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wrapped[keyID]; !ok {
		return ErrWrappedKeyNotFound
	}

	delete(s.wrapped, keyID)
	return nil
}

// SaveAuditLog 保存审计事件
func (s *memoryStore) SaveAuditLog(_ context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.audit = append(s.audit, &cp)
	return nil
}

// QueryAuditLogs 查询审计事件
func (s *memoryStore) QueryAuditLogs(_ context.Context, filter *AuditLogFilter) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*AuditEvent, 0)
	for _, event := range s.audit {
		if filter != nil {
			if filter.PrincipalID != "" && event.PrincipalID != filter.PrincipalID {
				continue
			}
			if filter.Resource != "" && event.Resource != filter.Resource {
				continue
			}
			if filter.EventType != "" && event.EventType != filter.EventType {
				continue
			}
			if filter.Outcome != "" && event.Outcome != filter.Outcome {
				continue
			}
			if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
				continue
			}
			if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
				continue
			}
		}
		cp := *event
		result = append(result, &cp)
	}

	if filter != nil {
		result = paginate(result, filter.Offset, filter.Limit)
	}

	return result, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
