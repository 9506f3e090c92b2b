package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// ErrNotFound is returned by every lookup that matches no live row.
var ErrNotFound = errors.New("not found")

const principalColumns = `id, kind, login_key, email, password_hash, role, status, email_verified,
	locked, failure_count, version, created_at, updated_at, deleted_at`

// PrincipalRepo provides data access for principals, login attempts and
// password reset tokens using sqlx on PostgreSQL.
type PrincipalRepo struct {
	db *sqlx.DB
}

func NewPrincipalRepo(db *sqlx.DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

// EnsureTables creates the schema if it does not exist (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *PrincipalRepo) EnsureTables(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS principals (
  id TEXT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('MEMBER','EXTERNAL')),
  login_key TEXT NOT NULL,
  email TEXT,
  password_hash TEXT,
  role TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE','INACTIVE','SUSPENDED')),
  email_verified BOOLEAN NOT NULL DEFAULT false,
  locked BOOLEAN NOT NULL DEFAULT false,
  failure_count INT NOT NULL DEFAULT 0,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted_at TIMESTAMPTZ,
  PRIMARY KEY (kind, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_login_key ON principals(kind, login_key) WHERE deleted_at IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_email ON principals(lower(email)) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS login_attempts (
  id TEXT PRIMARY KEY,
  principal_kind TEXT NOT NULL,
  principal_id TEXT NOT NULL,
  attempted_at TIMESTAMPTZ NOT NULL,
  success BOOLEAN NOT NULL,
  source_ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  failure_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_principal ON login_attempts(principal_kind, principal_id, attempted_at);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
  token_hash TEXT PRIMARY KEY,
  principal_kind TEXT NOT NULL,
  principal_id TEXT NOT NULL,
  email TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  used BOOLEAN NOT NULL DEFAULT false,
  used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_reset_tokens_principal ON password_reset_tokens(principal_kind, principal_id) WHERE used = false;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new principal row.
func (r *PrincipalRepo) Create(ctx context.Context, p *entity.Principal) error {
	const q = `INSERT INTO principals (id, kind, login_key, email, password_hash, role, status, email_verified, version)
		VALUES (:id, :kind, :login_key, :email, :password_hash, :role, :status, :email_verified, :version)`
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = entity.StatusActive
	}
	_, err := r.db.NamedExecContext(ctx, q, p)
	return err
}

// FindByLoginKey returns the live principal of kind with the given login key.
func (r *PrincipalRepo) FindByLoginKey(ctx context.Context, kind entity.Kind, loginKey string) (*entity.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM principals WHERE kind=$1 AND login_key=$2 AND deleted_at IS NULL`
	return r.getOne(ctx, q, kind, loginKey)
}

// FindByEmail matches either kind, case-insensitively.
func (r *PrincipalRepo) FindByEmail(ctx context.Context, email string) (*entity.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM principals WHERE lower(email)=$1 AND deleted_at IS NULL LIMIT 1`
	return r.getOne(ctx, q, entity.NormalizeEmail(email))
}

// FindByID fetches a live principal.
func (r *PrincipalRepo) FindByID(ctx context.Context, kind entity.Kind, id string) (*entity.Principal, error) {
	q := `SELECT ` + principalColumns + ` FROM principals WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	return r.getOne(ctx, q, kind, id)
}

func (r *PrincipalRepo) getOne(ctx context.Context, q string, args ...any) (*entity.Principal, error) {
	var p entity.Principal
	if err := r.db.GetContext(ctx, &p, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// RecordFailure increments the failure counter in a single statement,
// locks the principal once the new value reaches threshold and appends the
// attempt row, all in one transaction.
func (r *PrincipalRepo) RecordFailure(ctx context.Context, kind entity.Kind, id string, threshold int, attempt *entity.LoginAttempt) (entity.LockState, error) {
	const q = `UPDATE principals
		SET failure_count = failure_count + 1,
		    locked = locked OR failure_count + 1 >= $3,
		    updated_at = NOW()
		WHERE kind=$1 AND id=$2 AND deleted_at IS NULL
		RETURNING failure_count, locked`
	var state entity.LockState
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &state, q, kind, id, threshold); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("increment failure count: %w", err)
		}
		return insertAttempt(ctx, tx, attempt)
	})
	return state, err
}

// RecordSuccess zeroes the failure counter; locked is left untouched.
func (r *PrincipalRepo) RecordSuccess(ctx context.Context, kind entity.Kind, id string, attempt *entity.LoginAttempt) error {
	const q = `UPDATE principals SET failure_count=0, updated_at=NOW() WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, kind, id); err != nil {
			return fmt.Errorf("reset failure count: %w", err)
		}
		return insertAttempt(ctx, tx, attempt)
	})
}

// AppendAttempt stores an attempt that changes no counters.
func (r *PrincipalRepo) AppendAttempt(ctx context.Context, attempt *entity.LoginAttempt) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertAttempt(ctx, tx, attempt)
	})
}

// Unlock clears locked and failure_count together.
func (r *PrincipalRepo) Unlock(ctx context.Context, kind entity.Kind, id string) error {
	const q = `UPDATE principals SET locked=false, failure_count=0, updated_at=NOW() WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, kind, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// UpdatePassword replaces the hash and bumps version so refresh tokens
// minted earlier stop being accepted.
func (r *PrincipalRepo) UpdatePassword(ctx context.Context, kind entity.Kind, id, hash string) error {
	const q = `UPDATE principals SET password_hash=$3, version=version+1, updated_at=NOW() WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, kind, id, hash)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Rehash swaps in a stronger hash of the same secret; version is untouched.
func (r *PrincipalRepo) Rehash(ctx context.Context, kind entity.Kind, id, hash string) error {
	const q = `UPDATE principals SET password_hash=$3, updated_at=NOW() WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, kind, id, hash)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SoftDelete marks a principal deleted; it disappears from every lookup.
func (r *PrincipalRepo) SoftDelete(ctx context.Context, kind entity.Kind, id string) error {
	const q = `UPDATE principals SET deleted_at=NOW(), updated_at=NOW() WHERE kind=$1 AND id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, kind, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *PrincipalRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAttempt(ctx context.Context, tx *sqlx.Tx, a *entity.LoginAttempt) error {
	const q = `INSERT INTO login_attempts (id, principal_kind, principal_id, attempted_at, success, source_ip, user_agent, failure_reason)
		VALUES (:id, :principal_kind, :principal_id, :attempted_at, :success, :source_ip, :user_agent, :failure_reason)`
	if a == nil {
		return nil
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if _, err := tx.NamedExecContext(ctx, q, a); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
