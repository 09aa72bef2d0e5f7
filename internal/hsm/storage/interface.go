package storage

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrKeyRecordNotFound   = errors.New("key record not found")
	ErrGrantNotFound       = errors.New("grant not found")
	ErrWrappedKeyNotFound  = errors.New("wrapped key not found")
	ErrDuplicateKeyRecord  = errors.New("key record already exists")
	ErrDuplicateWrappedKey = errors.New("wrapped key already exists")
)

// MetadataStore 定义后备存储接口
// 所有存储后端实现（内存、PostgreSQL 等）都必须实现此接口
//
//nolint:interfacebloat // MetadataStore intentionally has many methods for comprehensive storage operations
type MetadataStore interface {
	// 密钥元数据操作
	SaveKeyRecord(ctx context.Context, key *KeyRecord) error
	GetKeyRecord(ctx context.Context, keyID string) (*KeyRecord, error)
	UpdateKeyRecord(ctx context.Context, keyID string, updates map[string]interface{}) error
	DeleteKeyRecord(ctx context.Context, keyID string) error
	ListKeyRecords(ctx context.Context, filter *KeyFilter) ([]*KeyRecord, error)

	// 权限授予操作
	SaveGrant(ctx context.Context, grant *GrantRecord) error
	DeleteGrant(ctx context.Context, keyID string, principalID string) error
	ListGrants(ctx context.Context, keyID string) ([]*GrantRecord, error)

	// 封装密钥材料操作
	SaveWrappedKey(ctx context.Context, wrapped *WrappedKey) error
	GetWrappedKey(ctx context.Context, keyID string) (*WrappedKey, error)
	DeleteWrappedKey(ctx context.Context, keyID string) error

	// 审计日志操作
	SaveAuditLog(ctx context.Context, event *AuditEvent) error
	QueryAuditLogs(ctx context.Context, filter *AuditLogFilter) ([]*AuditEvent, error)
}
