package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// PrincipalStore is everything the credential verifier reads and writes.
type PrincipalStore interface {
	LockoutStore
	Create(ctx context.Context, p *entity.Principal) error
	FindByLoginKey(ctx context.Context, kind entity.Kind, loginKey string) (*entity.Principal, error)
	FindByID(ctx context.Context, kind entity.Kind, id string) (*entity.Principal, error)
	AppendAttempt(ctx context.Context, attempt *entity.LoginAttempt) error
	UpdatePassword(ctx context.Context, kind entity.Kind, id, hash string) error
	Rehash(ctx context.Context, kind entity.Kind, id, hash string) error
}

// Config knobs for Service.
type Config struct {
	LockoutThreshold int
	Now              func() time.Time
}

// Service orchestrates login, password change and account administration.
type Service struct {
	store     PrincipalStore
	tracker   *LockoutTracker
	tokens    *token.Service
	hasher    PasswordHasher
	logger    *zap.SugaredLogger
	now       func() time.Time
	dummyHash string
}

func NewService(store PrincipalStore, tokens *token.Service, hasher PasswordHasher, logger *zap.SugaredLogger, cfg Config) (*Service, error) {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	// compared against when no principal matches, so both failure paths pay one hash
	dummy, err := hasher.Hash("timing-normalization-placeholder")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Service{
		store:     store,
		tracker:   NewLockoutTracker(store, cfg.LockoutThreshold, logger),
		tokens:    tokens,
		hasher:    hasher,
		logger:    logger,
		now:       cfg.Now,
		dummyHash: dummy,
	}, nil
}

// Tracker exposes the lockout tracker.
func (s *Service) Tracker() *LockoutTracker { return s.tracker }

// LoginRequest carries the credentials and request metadata of one attempt.
type LoginRequest struct {
	Kind      entity.Kind
	LoginKey  string
	Password  string
	SourceIP  string
	UserAgent string
}

// LoginResult is returned on success.
type LoginResult struct {
	Tokens    *token.Pair
	Principal entity.PrincipalView
}

// Login verifies credentials. The status gate runs before the secret is
// checked; every call that resolves a principal appends exactly one
// LoginAttempt.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	loginKey := strings.TrimSpace(req.LoginKey)
	if req.Kind == entity.KindExternal {
		loginKey = entity.NormalizeEmail(loginKey)
	}
	if loginKey == "" {
		return nil, apperr.ErrInvalidRequest
	}

	p, err := s.store.FindByLoginKey(ctx, req.Kind, loginKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, req.Password)
			s.logger.Debugw("login for unknown principal", "kind", req.Kind, "source_ip", req.SourceIP)
			return nil, apperr.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if reason := p.BlockReason(); reason != "" {
		if err := s.store.AppendAttempt(ctx, s.attempt(p, req, reason)); err != nil {
			return nil, fmt.Errorf("record attempt: %w", err)
		}
		s.logger.Infow("login blocked", "kind", p.Kind, "principal_id", p.ID, "reason", reason)
		return nil, apperr.ForReason(reason)
	}

	if !s.verify(p, req.Password) {
		state, err := s.tracker.RecordFailure(ctx, p, s.attempt(p, req, entity.ReasonInvalidPassword))
		if err != nil {
			return nil, fmt.Errorf("record failure: %w", err)
		}
		s.logger.Infow("login failed", "kind", p.Kind, "principal_id", p.ID, "failure_count", state.FailureCount, "locked", state.Locked)
		return nil, apperr.ErrInvalidPassword
	}

	if err := s.tracker.RecordSuccess(ctx, p, s.attempt(p, req, "")); err != nil {
		return nil, fmt.Errorf("record success: %w", err)
	}
	s.maybeRehash(ctx, p, req.Password)
	pair, err := s.tokens.Issue(p)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("login succeeded", "kind", p.Kind, "principal_id", p.ID)
	return &LoginResult{Tokens: pair, Principal: p.View()}, nil
}

func (s *Service) verify(p *entity.Principal, pw string) bool {
	if p.PasswordHash == nil || *p.PasswordHash == "" {
		s.hasher.Verify(s.dummyHash, pw)
		return false
	}
	return s.hasher.Verify(*p.PasswordHash, pw)
}

func (s *Service) maybeRehash(ctx context.Context, p *entity.Principal, pw string) {
	if !s.hasher.NeedsRehash(*p.PasswordHash) {
		return
	}
	h, err := s.hasher.Hash(pw)
	if err != nil {
		s.logger.Warnw("rehash failed", "principal_id", p.ID, "err", err)
		return
	}
	if err := s.store.Rehash(ctx, p.Kind, p.ID, h); err != nil {
		s.logger.Warnw("rehash failed", "principal_id", p.ID, "err", err)
		return
	}
	p.PasswordHash = &h
}

func (s *Service) attempt(p *entity.Principal, req LoginRequest, reason string) *entity.LoginAttempt {
	a := &entity.LoginAttempt{
		ID:            utilities.NewKSUID(),
		PrincipalKind: p.Kind,
		PrincipalID:   p.ID,
		Timestamp:     s.now().UTC(),
		Success:       reason == "",
		SourceIP:      req.SourceIP,
		UserAgent:     req.UserAgent,
	}
	if reason != "" {
		a.FailureReason = &reason
	}
	return a
}

// Refresh rotates a refresh token against the principal store.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	pair, p, err := s.tokens.Refresh(ctx, refreshToken, s.store)
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("tokens refreshed", "kind", p.Kind, "principal_id", p.ID)
	return pair, nil
}

// Logout denylists the given refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

// ChangePassword replaces the secret of an authenticated principal. The
// version bump invalidates every refresh token minted before the change.
func (s *Service) ChangePassword(ctx context.Context, kind entity.Kind, id, current, next string) error {
	p, err := s.store.FindByID(ctx, kind, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.ErrPrincipalNotFound
		}
		return err
	}
	if reason := p.BlockReason(); reason != "" {
		return apperr.ForReason(reason)
	}
	if !s.verify(p, current) {
		return apperr.ErrInvalidPassword
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	h, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, kind, id, h); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logger.Infow("password changed", "kind", kind, "principal_id", id)
	return nil
}

// Unlock clears the lockout of a principal.
func (s *Service) Unlock(ctx context.Context, kind entity.Kind, id string) error {
	if err := s.tracker.Unlock(ctx, kind, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.ErrPrincipalNotFound
		}
		return err
	}
	return nil
}

// NewPrincipal is the registration input.
type NewPrincipal struct {
	Kind          entity.Kind
	LoginKey      string
	Email         string
	Password      string
	Role          string
	Status        entity.AccountStatus
	EmailVerified bool
}

// CreatePrincipal registers a principal. MEMBER login keys are numeric;
// EXTERNAL login keys are the email address.
func (s *Service) CreatePrincipal(ctx context.Context, in NewPrincipal) (*entity.Principal, error) {
	status, err := entity.ParseStatus(string(in.Status))
	if err != nil {
		return nil, err
	}
	p := &entity.Principal{
		ID:            utilities.NewSnowflakeID(),
		Kind:          in.Kind,
		Role:          strings.TrimSpace(in.Role),
		Status:        status,
		EmailVerified: in.EmailVerified,
	}
	if p.Role == "" {
		return nil, fmt.Errorf("role is required")
	}
	switch in.Kind {
	case entity.KindMember:
		key := strings.TrimSpace(in.LoginKey)
		if key == "" || strings.IndexFunc(key, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
			return nil, fmt.Errorf("member login key must be numeric")
		}
		p.LoginKey = key
		p.Status = entity.StatusActive
		if e := entity.NormalizeEmail(in.Email); e != "" {
			p.Email = &e
		}
	case entity.KindExternal:
		e := entity.NormalizeEmail(in.Email)
		if e == "" {
			e = entity.NormalizeEmail(in.LoginKey)
		}
		if !strings.Contains(e, "@") {
			return nil, fmt.Errorf("external principal requires an email")
		}
		p.LoginKey = e
		p.Email = &e
	default:
		return nil, fmt.Errorf("unknown principal kind %q", in.Kind)
	}
	if in.Password != "" {
		if err := ValidatePassword(in.Password); err != nil {
			return nil, err
		}
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		p.PasswordHash = &h
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create principal: %w", err)
	}
	s.logger.Infow("principal created", "kind", p.Kind, "principal_id", p.ID)
	return p, nil
}
