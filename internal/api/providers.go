package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/config"
	"github.com/kashguard/go-hsm/internal/hsm"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/keystore"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/kashguard/go-hsm/internal/metrics"
	"github.com/kashguard/go-hsm/internal/persistence"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const backupPingTimeout = 5 * time.Second

// PROVIDERS - define here only providers that for various reasons (e.g. cyclic dependency) can't live in their corresponding packages
// or for wrapping providers that only accept sub-configs to prevent the requirements for defining providers for sub-configs.
// https://github.com/google/wire/blob/main/docs/guide.md#defining-providers

func NewClock(t ...*testing.T) time2.Clock {
	var clock time2.Clock

	useMock := len(t) > 0 && t[0] != nil

	if useMock {
		clock = time2.NewMockClock(time.Now())
	} else {
		clock = time2.DefaultClock
	}

	return clock
}

// NewDB 按配置打开数据库连接；memory 后端不需要数据库
func NewDB(cfg config.Server) (*sql.DB, error) {
	if cfg.HSM.StorageBackend != "postgresql" {
		return nil, nil //nolint:nilnil // memory 后端合法地没有数据库
	}
	return persistence.NewDB(cfg.Database)
}

// NewMetadataStore creates metadata store based on configuration
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewMetadataStore(cfg config.Server, db *sql.DB) (storage.MetadataStore, error) {
	switch cfg.HSM.StorageBackend {
	case "postgresql":
		return storage.NewPostgreSQLStore(db), nil
	case "memory", "":
		return storage.NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unsupported storage backend: %s", cfg.HSM.StorageBackend)
	}
}

// NewBackupTarget creates the wrapped-key backup target based on configuration
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewBackupTarget(cfg config.Server) (backup.Target, error) {
	if !cfg.Backup.Enabled {
		return backup.NewNoopTarget(), nil
	}

	target, err := backup.NewS3Target(backup.S3Config{
		Endpoint:        cfg.Backup.Endpoint,
		AccessKeyID:     cfg.Backup.AccessKey,
		SecretAccessKey: cfg.Backup.SecretKey,
		UseSSL:          cfg.Backup.UseSSL,
		Bucket:          cfg.Backup.Bucket,
		KeyPrefix:       cfg.Backup.Prefix,
	})
	if err != nil {
		return nil, err
	}

	// 备份是尽力而为的，可达性检查失败只告警
	pingCtx, cancel := context.WithTimeout(context.Background(), backupPingTimeout)
	defer cancel()
	if err := target.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.Backup.Endpoint).Msg("Backup target is not reachable")
	}

	return target, nil
}

// seededPrincipal 主体目录种子文件中的单条记录
type seededPrincipal struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	PINHash        string   `json:"pin_hash"`
	MFARequired    bool     `json:"mfa_required"`
	Admin          bool     `json:"admin"`
	AllowedActions []string `json:"allowed_actions"`
	MaxSessions    int      `json:"max_sessions"`
}

// NewDirectory 构建配置种子化的主体目录
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewDirectory(cfg config.Server) (session.Directory, error) {
	var principals []*session.Principal

	if cfg.HSM.PrincipalsFile != "" {
		raw, err := os.ReadFile(cfg.HSM.PrincipalsFile)
		if err != nil {
			return nil, errors.Wrap(err, "read principals file")
		}

		var seeded []seededPrincipal
		if err := json.Unmarshal(raw, &seeded); err != nil {
			return nil, errors.Wrap(err, "parse principals file")
		}

		for _, p := range seeded {
			principals = append(principals, &session.Principal{
				ID:             p.ID,
				Kind:           session.PrincipalKind(p.Kind),
				PINHash:        p.PINHash,
				MFARequired:    p.MFARequired,
				Admin:          p.Admin,
				AllowedActions: p.AllowedActions,
				MaxSessions:    p.MaxSessions,
			})
		}
	}

	if cfg.HSM.BootstrapAdminPIN != "" {
		pinHash, err := session.HashPIN(cfg.HSM.BootstrapAdminPIN)
		if err != nil {
			return nil, errors.Wrap(err, "hash bootstrap admin PIN")
		}
		principals = append(principals, &session.Principal{
			ID:      cfg.HSM.BootstrapAdminID,
			Kind:    session.PrincipalKindUser,
			PINHash: pinHash,
			Admin:   true,
		})
	}

	if len(principals) == 0 {
		log.Warn().Msg("Principal directory is empty, no caller will be able to authenticate")
	}

	return session.NewStaticDirectory(principals), nil
}

// NewModule 组装 HSM 模块实例
func NewModule(cfg config.Server, store storage.MetadataStore, target backup.Target, directory session.Directory, clock time2.Clock, metricsService *metrics.Service) (*hsm.Module, error) {
	masterSecret, err := masterSecretFromConfig(cfg.HSM)
	if err != nil {
		return nil, err
	}

	algorithms := make([]registry.Algorithm, 0, len(cfg.HSM.SupportedAlgorithms))
	for _, a := range cfg.HSM.SupportedAlgorithms {
		algorithms = append(algorithms, registry.Algorithm(a))
	}

	return hsm.New(hsm.Config{
		Name:                   cfg.HSM.ModuleName,
		SecurityLevel:          cfg.HSM.SecurityLevel,
		SlotCapacity:           cfg.HSM.SlotCapacity,
		SupportedAlgorithms:    algorithms,
		AuthMethods:            cfg.HSM.AuthMethods,
		TamperDetectionEnabled: cfg.HSM.TamperDetectionEnabled,
		IdleTimeout:            cfg.HSM.SessionIdleTimeout,
		MasterSecret:           masterSecret,
		Metrics:                metricsService,
	}, store, target, directory, rand.Reader, clock)
}

// masterSecretFromConfig 从口令派生主密钥
// 未配置口令时生成临时随机密钥，重启后已封装的材料不可恢复
func masterSecretFromConfig(cfg config.HSM) ([]byte, error) {
	if cfg.MasterPassphrase == "" {
		log.Warn().Msg("No master passphrase configured, using an ephemeral master secret")

		secret := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, errors.Wrap(err, "generate ephemeral master secret")
		}
		return secret, nil
	}

	salt := []byte(cfg.MasterSalt)
	if len(salt) == 0 {
		salt = []byte(cfg.ModuleName)
	}

	return keystore.DeriveMasterSecret(cfg.MasterPassphrase, salt), nil
}

func NoTest() []*testing.T {
	return nil
}
