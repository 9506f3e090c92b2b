// Package reset implements the single-use, time-boxed password reset flow.
package reset

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/repo"
)

// DefaultTTL is the validity window of a reset token.
const DefaultTTL = time.Hour

// Store persists reset tokens. IssueResetToken must retire older unused
// tokens and insert the new one in one transaction.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*entity.Principal, error)
	IssueResetToken(ctx context.Context, t *entity.ResetToken) error
	RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newHash func() (string, error)) (*entity.Principal, error)
}

// Hasher hashes the new secret.
type Hasher interface {
	Hash(pw string) (string, error)
}

// Config knobs for Service.
type Config struct {
	TTL time.Duration
	// MinResponse pads RequestReset so found and not-found emails take the same time.
	MinResponse time.Duration
	Now         func() time.Time
}

// Service issues and redeems reset tokens.
type Service struct {
	store    Store
	hasher   Hasher
	notifier Notifier
	logger   *zap.SugaredLogger
	cfg      Config
}

func NewService(store Store, hasher Hasher, notifier Notifier, logger *zap.SugaredLogger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: store, hasher: hasher, notifier: notifier, logger: logger, cfg: cfg}
}

// RequestReset issues a token for the principal registered under email and
// hands it to the notifier. Unknown emails are a silent no-op: the caller
// cannot tell the two cases apart. Infrastructure errors are logged, not
// returned, for the same reason.
func (s *Service) RequestReset(ctx context.Context, email string) {
	start := time.Now()
	defer s.pad(ctx, start)

	p, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Errorw("reset lookup failed", "err", err)
		}
		return
	}
	raw, err := newRawToken()
	if err != nil {
		s.logger.Errorw("reset token generation failed", "err", err)
		return
	}
	now := s.cfg.Now().UTC()
	t := &entity.ResetToken{
		TokenHash:     entity.HashResetToken(raw),
		PrincipalKind: p.Kind,
		PrincipalID:   p.ID,
		Email:         p.EmailAddress(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	}
	if err := s.store.IssueResetToken(ctx, t); err != nil {
		s.logger.Errorw("reset token issue failed", "principal_id", p.ID, "err", err)
		return
	}
	notice := Notice{
		Kind:        p.Kind,
		PrincipalID: p.ID,
		Email:       t.Email,
		Token:       raw,
		ExpiresAt:   t.ExpiresAt,
	}
	if err := s.notifier.SendPasswordReset(ctx, notice); err != nil {
		s.logger.Errorw("reset notification failed", "principal_id", p.ID, "err", err)
		return
	}
	s.logger.Infow("reset token issued", "kind", p.Kind, "principal_id", p.ID)
}

func (s *Service) pad(ctx context.Context, start time.Time) {
	wait := s.cfg.MinResponse - time.Since(start)
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Redeem consumes a token and sets the new password. The principal's
// lockout state is cleared since the holder proved control of the email.
// Token state is judged before the password policy; a rejected password
// leaves the token live.
func (s *Service) Redeem(ctx context.Context, raw, newPassword string) error {
	if raw == "" {
		return apperr.ErrInvalidToken
	}
	hash := func() (string, error) {
		if err := auth.ValidatePassword(newPassword); err != nil {
			return "", err
		}
		h, err := s.hasher.Hash(newPassword)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
		return h, nil
	}
	p, err := s.store.RedeemResetToken(ctx, entity.HashResetToken(raw), s.cfg.Now().UTC(), hash)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, entity.ErrResetEmailMismatch):
		return apperr.ErrInvalidToken
	case errors.Is(err, entity.ErrResetTokenSpent):
		return apperr.ErrExpiredToken
	default:
		return fmt.Errorf("redeem reset token: %w", err)
	}
	s.logger.Infow("password reset", "kind", p.Kind, "principal_id", p.ID)
	return nil
}

func newRawToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
