package token

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PgDenylist stores revoked refresh token ids in Postgres. It is used when
// the service runs on Postgres without Redis so rotation stays single-use
// across instances.
type PgDenylist struct {
	db *sqlx.DB
}

func NewPgDenylist(db *sqlx.DB) *PgDenylist {
	return &PgDenylist{db: db}
}

// EnsureTable creates the denylist table if it does not exist (idempotent).
func (d *PgDenylist) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS revoked_refresh_tokens (
  jti TEXT PRIMARY KEY,
  expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revoked_refresh_tokens_expires ON revoked_refresh_tokens(expires_at);
`
	_, err := d.db.ExecContext(ctx, ddl)
	return err
}

func (d *PgDenylist) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	const q = `INSERT INTO revoked_refresh_tokens (jti, expires_at) VALUES ($1, $2) ON CONFLICT (jti) DO NOTHING`
	res, err := d.db.ExecContext(ctx, q, jti, until)
	if err != nil {
		return false, fmt.Errorf("denylist insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge drops rows whose token would have expired anyway.
func (d *PgDenylist) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM revoked_refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
