package persistence

import (
	"database/sql"
	"fmt"

	"github.com/kashguard/go-hsm/internal/config"
	"github.com/pkg/errors"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// NewDB 打开 PostgreSQL 连接池并验证连通性
func NewDB(cfg config.Database) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return db, nil
}
