package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrResetTokenSpent is returned for a token that was used or has expired.
	ErrResetTokenSpent = errors.New("reset token spent")
	// ErrResetEmailMismatch is returned when the principal's email changed after issuance.
	ErrResetEmailMismatch = errors.New("reset token email mismatch")
)

// ResetToken is a persisted password-reset grant. Only the SHA-256 of the
// raw token is stored.
type ResetToken struct {
	TokenHash     string     `db:"token_hash"`
	PrincipalKind Kind       `db:"principal_kind"`
	PrincipalID   string     `db:"principal_id"`
	Email         string     `db:"email"`
	CreatedAt     time.Time  `db:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at"`
	Used          bool       `db:"used"`
	UsedAt        *time.Time `db:"used_at"`
}

// Check reports whether the token may be redeemed at now by a principal
// whose current email is currentEmail.
func (t *ResetToken) Check(now time.Time, currentEmail string) error {
	if t.Used || !now.Before(t.ExpiresAt) {
		return ErrResetTokenSpent
	}
	if NormalizeEmail(t.Email) != NormalizeEmail(currentEmail) {
		return ErrResetEmailMismatch
	}
	return nil
}

// HashResetToken derives the lookup key for a raw token.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
