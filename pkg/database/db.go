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

// Connect opens a *sqlx.DB on lib/pq and verifies connectivity with a ping
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	dsn, err := withTimeZone(cfg.DSN, cfg.TimeZone)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withTimeZone sets TimeZone as a startup option so every pooled
// connection gets it. URL DSNs are rewritten to key=value form.
func withTimeZone(dsn, tz string) (string, error) {
	if tz == "" {
		return dsn, nil
	}
	if strings.ContainsAny(tz, " \t'\\") {
		return "", fmt.Errorf("invalid time zone %q", tz)
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		kv, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		dsn = kv
	}
	return strings.TrimSpace(dsn + " options='-c TimeZone=" + tz + "'"), nil
}
