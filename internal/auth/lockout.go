package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// DefaultLockoutThreshold is the failure count that locks a principal.
const DefaultLockoutThreshold = 5

// LockoutStore is the persistence the tracker needs. Implementations must
// apply RecordFailure atomically per principal.
type LockoutStore interface {
	RecordFailure(ctx context.Context, kind entity.Kind, id string, threshold int, attempt *entity.LoginAttempt) (entity.LockState, error)
	RecordSuccess(ctx context.Context, kind entity.Kind, id string, attempt *entity.LoginAttempt) error
	Unlock(ctx context.Context, kind entity.Kind, id string) error
}

// LockoutTracker owns the ACTIVE(0..threshold-1) -> LOCKED state machine.
// LOCKED only leaves through Unlock or a redeemed password reset.
type LockoutTracker struct {
	store     LockoutStore
	threshold int
	logger    *zap.SugaredLogger
}

func NewLockoutTracker(store LockoutStore, threshold int, logger *zap.SugaredLogger) *LockoutTracker {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LockoutTracker{store: store, threshold: threshold, logger: logger}
}

// Threshold returns the configured lock threshold.
func (t *LockoutTracker) Threshold() int { return t.threshold }

// RecordFailure increments the counter and locks at the threshold.
func (t *LockoutTracker) RecordFailure(ctx context.Context, p *entity.Principal, attempt *entity.LoginAttempt) (entity.LockState, error) {
	state, err := t.store.RecordFailure(ctx, p.Kind, p.ID, t.threshold, attempt)
	if err != nil {
		return state, err
	}
	if state.Locked && !p.Locked {
		t.logger.Warnw("principal locked", "kind", p.Kind, "principal_id", p.ID, "failure_count", state.FailureCount)
	}
	return state, nil
}

// RecordSuccess zeroes the counter. It never clears locked.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, p *entity.Principal, attempt *entity.LoginAttempt) error {
	return t.store.RecordSuccess(ctx, p.Kind, p.ID, attempt)
}

// Unlock is the administrative exit from LOCKED.
func (t *LockoutTracker) Unlock(ctx context.Context, kind entity.Kind, id string) error {
	if err := t.store.Unlock(ctx, kind, id); err != nil {
		return err
	}
	t.logger.Infow("principal unlocked", "kind", kind, "principal_id", id)
	return nil
}
