package entity

import "time"

// Failure reasons recorded on LoginAttempt rows.
const (
	ReasonInvalidPassword  = "INVALID_PASSWORD"
	ReasonAccountLocked    = "ACCOUNT_LOCKED"
	ReasonAccountDeleted   = "ACCOUNT_DELETED"
	ReasonAccountInactive  = "ACCOUNT_INACTIVE"
	ReasonAccountSuspended = "ACCOUNT_SUSPENDED"
	ReasonEmailNotVerified = "EMAIL_NOT_VERIFIED"
)

// LoginAttempt is an append-only audit row, one per login call.
type LoginAttempt struct {
	ID            string    `db:"id"`
	PrincipalKind Kind      `db:"principal_kind"`
	PrincipalID   string    `db:"principal_id"`
	Timestamp     time.Time `db:"attempted_at"`
	Success       bool      `db:"success"`
	SourceIP      string    `db:"source_ip"`
	UserAgent     string    `db:"user_agent"`
	FailureReason *string   `db:"failure_reason"`
}
