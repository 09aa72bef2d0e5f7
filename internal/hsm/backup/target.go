package backup

import (
	"context"

	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
)

var ErrBackupNotFound = errors.New("backup not found")

// Target 封装密钥材料的备份目标
// 备份内容始终是模块主密钥下的封装块，明文材料绝不离开模块边界
type Target interface {
	SaveWrappedKey(ctx context.Context, wrapped *storage.WrappedKey) error
	DeleteWrappedKey(ctx context.Context, keyID string) error
	Ping(ctx context.Context) error
}

// noopTarget 空备份目标（备份功能关闭时使用）
type noopTarget struct{}

// NewNoopTarget 创建空备份目标
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewNoopTarget() Target {
	return &noopTarget{}
}

func (t *noopTarget) SaveWrappedKey(_ context.Context, _ *storage.WrappedKey) error { return nil }
func (t *noopTarget) DeleteWrappedKey(_ context.Context, _ string) error            { return nil }
func (t *noopTarget) Ping(_ context.Context) error                                  { return nil }
