package backup

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const s3OpTimeout = 10 * time.Second

// S3Config S3/MinIO 备份目标配置
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	KeyPrefix       string
}

// s3Target 实现基于 MinIO 的备份目标
// 对象布局：bucket/[keyPrefix/]wrapped-keys/<keyID>.blob
type s3Target struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Target 创建新的 S3 备份目标
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewS3Target(cfg S3Config) (Target, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check backup bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "failed to create backup bucket")
		}
	}

	return &s3Target{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
	}, nil
}

// SaveWrappedKey 备份封装密钥材料
func (t *s3Target) SaveWrappedKey(ctx context.Context, wrapped *storage.WrappedKey) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()

	reader := bytes.NewReader(wrapped.Blob)
	_, err := t.client.PutObject(ctx, t.bucket, t.objectName(wrapped.KeyID), reader, int64(len(wrapped.Blob)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errors.Wrap(err, "failed to upload wrapped key backup")
	}

	return nil
}

// DeleteWrappedKey 删除封装密钥材料的备份
func (t *s3Target) DeleteWrappedKey(ctx context.Context, keyID string) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()

	if err := t.client.RemoveObject(ctx, t.bucket, t.objectName(keyID), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, "failed to delete wrapped key backup")
	}

	return nil
}

// Ping 检查备份目标可用性
func (t *s3Target) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()

	if _, err := t.client.BucketExists(ctx, t.bucket); err != nil {
		return errors.Wrap(err, "backup target unreachable")
	}

	return nil
}

func (t *s3Target) objectName(keyID string) string {
	return path.Join(t.prefix, "wrapped-keys", keyID+".blob")
}
