package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// ErrWeakSigningKey is returned by NewService for a missing or short secret.
var ErrWeakSigningKey = errors.New("signing key must be at least 32 bytes")

// Class separates access tokens from refresh tokens.
type Class string

const (
	ClassAccess  Class = "ACCESS"
	ClassRefresh Class = "REFRESH"
)

// Claims is the payload of both token classes.
type Claims struct {
	Kind    entity.Kind `json:"knd"`
	Role    string      `json:"role"`
	Class   Class       `json:"cls"`
	Version int64       `json:"ver"`
	jwt.RegisteredClaims
}

// Config is immutable once the Service is built.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Pair is what login and refresh hand back to the client.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// PrincipalResolver re-reads a principal during refresh.
type PrincipalResolver interface {
	FindByID(ctx context.Context, kind entity.Kind, id string) (*entity.Principal, error)
}

// Service issues and validates HS256 bearer tokens.
type Service struct {
	cfg      Config
	denylist Denylist
	parser   *jwt.Parser
}

// NewService validates cfg and applies the 24h / 7d defaults.
func NewService(cfg Config, denylist Denylist) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSigningKey
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if denylist == nil {
		denylist = NewMemoryDenylist(cfg.Now)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Service{cfg: cfg, denylist: denylist, parser: jwt.NewParser(opts...)}, nil
}

// AccessTTL exposes the configured access validity window.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// Issue mints an access and a refresh token for p.
func (s *Service) Issue(p *entity.Principal) (*Pair, error) {
	now := s.cfg.Now()
	access, err := s.sign(p, ClassAccess, now, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(p, ClassRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
	}, nil
}

func (s *Service) sign(p *entity.Principal, class Class, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Kind:    p.Kind,
		Role:    p.Role,
		Class:   class,
		Version: p.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

// Validate checks signature, then expiry, then that the token is of the
// wanted class. It is pure CPU and safe for concurrent use.
func (s *Service) Validate(raw string, want Class) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, apperr.ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperr.ErrExpiredToken
		default:
			return nil, apperr.ErrInvalidToken
		}
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, apperr.ErrInvalidToken
	}
	if claims.Class != want {
		return nil, apperr.ErrWrongTokenClass
	}
	return claims, nil
}

// Refresh rotates a refresh token. The principal must still exist and be
// allowed to authenticate, and the token version must match the current
// one (password changes bump it). The presented token is denylisted until
// its natural expiry; a second use of it fails.
func (s *Service) Refresh(ctx context.Context, raw string, resolver PrincipalResolver) (*Pair, *entity.Principal, error) {
	claims, err := s.Validate(raw, ClassRefresh)
	if err != nil {
		return nil, nil, err
	}
	p, err := resolver.FindByID(ctx, claims.Kind, claims.Subject)
	if err != nil {
		return nil, nil, apperr.ErrInvalidToken
	}
	if reason := p.BlockReason(); reason != "" {
		return nil, nil, apperr.ForReason(reason)
	}
	if claims.Version != p.Version {
		return nil, nil, apperr.ErrInvalidToken
	}
	first, err := s.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !first {
		return nil, nil, apperr.ErrInvalidToken
	}
	pair, err := s.Issue(p)
	if err != nil {
		return nil, nil, err
	}
	return pair, p, nil
}

// Revoke denylists a refresh token. Invalid tokens are ignored.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	claims, err := s.Validate(raw, ClassRefresh)
	if err != nil {
		return nil
	}
	_, err = s.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	return err
}
