package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EchoServer HTTP 服务配置
type EchoServer struct {
	ListenAddress                  string
	HideInternalServerErrorDetails bool
	EnableCORSMiddleware           bool
	EnableRecoverMiddleware        bool
	EnableRequestIDMiddleware      bool
	EnableLoggerMiddleware         bool
}

// Database PostgreSQL 连接配置
type Database struct {
	Host            string
	Port            int
	Username        string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Logger 日志配置
type Logger struct {
	Level              string
	PrettyPrintConsole bool
}

// HSM 模块核心配置，启动后不可变
type HSM struct {
	ModuleName             string
	SecurityLevel          string
	SlotCapacity           int
	SupportedAlgorithms    []string
	AuthMethods            []string
	TamperDetectionEnabled bool
	SessionIdleTimeout     time.Duration
	// MasterPassphrase 与 MasterSalt 通过 argon2id 派生主密钥
	MasterPassphrase string
	MasterSalt       string
	// StorageBackend 取值 memory 或 postgresql
	StorageBackend string
	// PrincipalsFile 主体目录种子文件（JSON），为空时只注册引导管理员
	PrincipalsFile    string
	BootstrapAdminID  string
	BootstrapAdminPIN string
}

// Backup 对象存储备份目标配置
type Backup struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Management 运维端点配置
type Management struct {
	ListenAddress string
}

// Server 聚合全部服务配置
type Server struct {
	Echo       EchoServer
	Database   Database
	Logger     Logger
	HSM        HSM
	Backup     Backup
	Management Management
}

// DefaultServiceConfigFromEnv 从环境变量读取配置，未设置的项取默认值
// 所有变量以 HSM_ 为前缀，层级用下划线分隔（如 HSM_SERVER_LISTEN_ADDRESS）
func DefaultServiceConfigFromEnv() Server {
	v := viper.New()
	v.SetEnvPrefix("HSM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.hide_internal_server_error_details", true)
	v.SetDefault("server.enable_cors_middleware", true)
	v.SetDefault("server.enable_recover_middleware", true)
	v.SetDefault("server.enable_request_id_middleware", true)
	v.SetDefault("server.enable_logger_middleware", true)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.username", "hsm")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "hsm")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.max_open_conns", 30)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty_print_console", false)

	v.SetDefault("module.name", "hsm-simulator")
	v.SetDefault("module.security_level", "FIPS_140_2_LEVEL_3")
	v.SetDefault("module.slot_capacity", 1024)
	v.SetDefault("module.supported_algorithms", []string{"AES_256_GCM", "AES_128_GCM", "ED25519", "ECDSA_P256"})
	v.SetDefault("module.auth_methods", []string{"pin", "mfa"})
	v.SetDefault("module.tamper_detection_enabled", false)
	v.SetDefault("module.session_idle_timeout", 30*time.Minute)
	v.SetDefault("module.master_passphrase", "")
	v.SetDefault("module.master_salt", "")
	v.SetDefault("module.storage_backend", "memory")
	v.SetDefault("module.principals_file", "")
	v.SetDefault("module.bootstrap_admin_id", "admin")
	v.SetDefault("module.bootstrap_admin_pin", "")

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.access_key", "")
	v.SetDefault("backup.secret_key", "")
	v.SetDefault("backup.bucket", "hsm-backup")
	v.SetDefault("backup.prefix", "")
	v.SetDefault("backup.use_ssl", true)

	v.SetDefault("management.listen_address", ":9090")

	return Server{
		Echo: EchoServer{
			ListenAddress:                  v.GetString("server.listen_address"),
			HideInternalServerErrorDetails: v.GetBool("server.hide_internal_server_error_details"),
			EnableCORSMiddleware:           v.GetBool("server.enable_cors_middleware"),
			EnableRecoverMiddleware:        v.GetBool("server.enable_recover_middleware"),
			EnableRequestIDMiddleware:      v.GetBool("server.enable_request_id_middleware"),
			EnableLoggerMiddleware:         v.GetBool("server.enable_logger_middleware"),
		},
		Database: Database{
			Host:            v.GetString("db.host"),
			Port:            v.GetInt("db.port"),
			Username:        v.GetString("db.username"),
			Password:        v.GetString("db.password"),
			DBName:          v.GetString("db.name"),
			SSLMode:         v.GetString("db.ssl_mode"),
			MaxOpenConns:    v.GetInt("db.max_open_conns"),
			MaxIdleConns:    v.GetInt("db.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db.conn_max_lifetime"),
		},
		Logger: Logger{
			Level:              v.GetString("logger.level"),
			PrettyPrintConsole: v.GetBool("logger.pretty_print_console"),
		},
		HSM: HSM{
			ModuleName:             v.GetString("module.name"),
			SecurityLevel:          v.GetString("module.security_level"),
			SlotCapacity:           v.GetInt("module.slot_capacity"),
			SupportedAlgorithms:    v.GetStringSlice("module.supported_algorithms"),
			AuthMethods:            v.GetStringSlice("module.auth_methods"),
			TamperDetectionEnabled: v.GetBool("module.tamper_detection_enabled"),
			SessionIdleTimeout:     v.GetDuration("module.session_idle_timeout"),
			MasterPassphrase:       v.GetString("module.master_passphrase"),
			MasterSalt:             v.GetString("module.master_salt"),
			StorageBackend:         v.GetString("module.storage_backend"),
			PrincipalsFile:         v.GetString("module.principals_file"),
			BootstrapAdminID:       v.GetString("module.bootstrap_admin_id"),
			BootstrapAdminPIN:      v.GetString("module.bootstrap_admin_pin"),
		},
		Backup: Backup{
			Enabled:   v.GetBool("backup.enabled"),
			Endpoint:  v.GetString("backup.endpoint"),
			AccessKey: v.GetString("backup.access_key"),
			SecretKey: v.GetString("backup.secret_key"),
			Bucket:    v.GetString("backup.bucket"),
			Prefix:    v.GetString("backup.prefix"),
			UseSSL:    v.GetBool("backup.use_ssl"),
		},
		Management: Management{
			ListenAddress: v.GetString("management.listen_address"),
		},
	}
}
