package entity

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the two principal populations.
type Kind string

const (
	// KindMember is an organization-issued member that logs in with a numeric ID.
	KindMember Kind = "MEMBER"
	// KindExternal is a self-registered member that logs in with an email address.
	KindExternal Kind = "EXTERNAL"
)

// ParseKind accepts the canonical name in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindMember:
		return KindMember, nil
	case KindExternal:
		return KindExternal, nil
	default:
		return "", fmt.Errorf("unknown principal kind %q", s)
	}
}

// AccountStatus only applies to EXTERNAL principals.
type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusInactive  AccountStatus = "INACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
)

// ParseStatus accepts the canonical name in any case; "" is ACTIVE.
func ParseStatus(s string) (AccountStatus, error) {
	switch st := AccountStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case "":
		return StatusActive, nil
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	default:
		return "", fmt.Errorf("unknown account status %q", s)
	}
}

// Principal represents a row in the `principals` table.
// Status and EmailVerified are meaningful for KindExternal only.
type Principal struct {
	ID            string        `db:"id"`
	Kind          Kind          `db:"kind"`
	LoginKey      string        `db:"login_key"`
	Email         *string       `db:"email"`
	PasswordHash  *string       `db:"password_hash"` // nil for federated identities
	Role          string        `db:"role"`
	Status        AccountStatus `db:"status"`
	EmailVerified bool          `db:"email_verified"`
	Locked        bool          `db:"locked"`
	FailureCount  int           `db:"failure_count"`
	Version       int64         `db:"version"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
	DeletedAt     *time.Time    `db:"deleted_at"`
}

// Deleted reports whether the principal was soft-deleted.
func (p *Principal) Deleted() bool {
	return p.DeletedAt != nil
}

// EmailAddress returns the registered email or "".
func (p *Principal) EmailAddress() string {
	if p.Email == nil {
		return ""
	}
	return *p.Email
}

// View strips credential material.
func (p *Principal) View() PrincipalView {
	v := PrincipalView{
		ID:       p.ID,
		Kind:     p.Kind,
		LoginKey: p.LoginKey,
		Email:    p.EmailAddress(),
		Role:     p.Role,
	}
	if p.Kind == KindExternal {
		v.Status = p.Status
		v.EmailVerified = p.EmailVerified
	}
	return v
}

// PrincipalView is the sanitized projection returned to clients.
type PrincipalView struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	LoginKey      string        `json:"loginKey"`
	Email         string        `json:"email,omitempty"`
	Role          string        `json:"role"`
	Status        AccountStatus `json:"status,omitempty"`
	EmailVerified bool          `json:"emailVerified,omitempty"`
}

// LockState is the counter snapshot returned after a lockout mutation.
type LockState struct {
	FailureCount int  `db:"failure_count"`
	Locked       bool `db:"locked"`
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BlockReason returns the failure reason that forbids this principal from
// authenticating, or "" when it may proceed. Order matters: deletion, then
// lock, then the EXTERNAL-only status and verification checks. A status
// other than ACTIVE never passes; unknown values read as inactive.
func (p *Principal) BlockReason() string {
	if p.Deleted() {
		return ReasonAccountDeleted
	}
	if p.Locked {
		return ReasonAccountLocked
	}
	switch p.Kind {
	case KindExternal:
		switch p.Status {
		case StatusActive:
		case StatusSuspended:
			return ReasonAccountSuspended
		default:
			return ReasonAccountInactive
		}
		if !p.EmailVerified {
			return ReasonEmailNotVerified
		}
	case KindMember:
		// no separate status for members
	}
	return ""
}
