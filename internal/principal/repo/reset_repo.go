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

// IssueResetToken retires every unused token of the principal and stores t.
// The principal row is locked first so concurrent issuers serialize and at
// most one token stays live.
func (r *PrincipalRepo) IssueResetToken(ctx context.Context, t *entity.ResetToken) error {
	const lock = `SELECT id FROM principals WHERE kind=$1 AND id=$2 AND deleted_at IS NULL FOR UPDATE`
	const retire = `UPDATE password_reset_tokens SET used=true, used_at=$3
		WHERE principal_kind=$1 AND principal_id=$2 AND used=false`
	const insert = `INSERT INTO password_reset_tokens (token_hash, principal_kind, principal_id, email, created_at, expires_at, used)
		VALUES (:token_hash, :principal_kind, :principal_id, :email, :created_at, :expires_at, false)`
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, lock, t.PrincipalKind, t.PrincipalID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock principal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, retire, t.PrincipalKind, t.PrincipalID, t.CreatedAt); err != nil {
			return fmt.Errorf("retire reset tokens: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insert, t); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
		return nil
	})
}

// RedeemResetToken consumes the token identified by tokenHash: the
// principal gets the hash returned by newHash, a bumped version and a
// cleared lockout, and the token is marked used. newHash runs only after the
// token passes its checks; an error from it leaves the token live.
// Returns ErrNotFound, entity.ErrResetTokenSpent or
// entity.ErrResetEmailMismatch without mutating anything on failure.
func (r *PrincipalRepo) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newHash func() (string, error)) (*entity.Principal, error) {
	const selToken = `SELECT token_hash, principal_kind, principal_id, email, created_at, expires_at, used, used_at
		FROM password_reset_tokens WHERE token_hash=$1 FOR UPDATE`
	selPrincipal := `SELECT ` + principalColumns + ` FROM principals WHERE kind=$1 AND id=$2 AND deleted_at IS NULL FOR UPDATE`
	const updPrincipal = `UPDATE principals
		SET password_hash=$3, version=version+1, failure_count=0, locked=false, updated_at=NOW()
		WHERE kind=$1 AND id=$2`
	const useToken = `UPDATE password_reset_tokens SET used=true, used_at=$2 WHERE token_hash=$1`

	var p entity.Principal
	var h string
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var t entity.ResetToken
		if err := tx.GetContext(ctx, &t, selToken, tokenHash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.GetContext(ctx, &p, selPrincipal, t.PrincipalKind, t.PrincipalID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := t.Check(now, p.EmailAddress()); err != nil {
			return err
		}
		hash, err := newHash()
		if err != nil {
			return err
		}
		h = hash
		if _, err := tx.ExecContext(ctx, updPrincipal, p.Kind, p.ID, h); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if _, err := tx.ExecContext(ctx, useToken, tokenHash, now); err != nil {
			return fmt.Errorf("mark reset token used: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.PasswordHash = &h
	p.Version++
	p.FailureCount = 0
	p.Locked = false
	return &p, nil
}
