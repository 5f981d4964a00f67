package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Config struct {
	DSN      string
	MaxConns int
	Timeout  time.Duration
	TimeZone string
}

// Connect opens a Postgres pool through sqlx and verifies connectivity with a ping.
func Connect(cfg Config) (*sqlx.DB, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	dsn, err := withTimeZone(cfg.DSN, cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withTimeZone adds tz to dsn as a startup parameter, so every pooled
// connection gets it. URL DSNs are converted to key/value form first.
func withTimeZone(dsn, tz string) (string, error) {
	if tz == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		kv, err := pq.ParseURL(dsn)
		if err != nil {
			return "", err
		}
		dsn = kv
	}
	return strings.TrimSpace(dsn + " timezone=" + quoteValue(tz)), nil
}

// quoteValue quotes a key/value connection string value.
func quoteValue(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
