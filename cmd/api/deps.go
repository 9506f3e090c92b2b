package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/reset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// store is satisfied by both repo.PrincipalRepo and repo.MemoryRepo.
type store interface {
	auth.PrincipalStore
	reset.Store
	EnsureTables(ctx context.Context) error
}

// openStore returns the configured backend and a func releasing it. The
// *sqlx.DB is nil for the memory store.
func openStore(ctx context.Context) (store, *sqlx.DB, func(), error) {
	if cfg.Store == "memory" {
		sugar.Warn("using in-memory store; data is lost on exit")
		return repo.NewMemoryRepo(), nil, func() {}, nil
	}
	db, err := database.Connect(ctx, database.Config{
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.MaxDBConnections,
		TimeZone: cfg.DatabaseTimeZone,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	sugar.Info("connected to database")
	return repo.NewPrincipalRepo(db), db, func() { db.Close() }, nil
}

// openDenylist prefers Redis, then the Postgres table, then a process-local map.
func openDenylist(ctx context.Context, db *sqlx.DB) (token.Denylist, func(), error) {
	if cfg.RedisURL == "" {
		if db == nil {
			sugar.Warn("REDIS_URL not set; refresh denylist is process-local")
			return nil, func() {}, nil
		}
		d := token.NewPgDenylist(db)
		if err := d.EnsureTable(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure denylist table: %w", err)
		}
		if n, err := d.Purge(ctx, time.Now()); err != nil {
			sugar.Warnw("denylist purge failed", "err", err)
		} else if n > 0 {
			sugar.Infow("denylist purged", "rows", n)
		}
		return d, func() {}, nil
	}
	client, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return token.NewRedisDenylist(client, "auth:rtd"), func() { _ = client.Close() }, nil
}

// newTokenService falls back to a random per-process key when JWT_SECRET is
// missing or short. Tokens signed with it do not survive a restart.
func newTokenService(denylist token.Denylist) (*token.Service, error) {
	tc := token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}
	svc, err := token.NewService(tc, denylist)
	if err == nil {
		return svc, nil
	}
	sugar.Errorw("JWT_SECRET missing or shorter than 32 bytes; using an ephemeral signing key", "err", err)
	tc.Secret = make([]byte, 64)
	if _, err := rand.Read(tc.Secret); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return token.NewService(tc, denylist)
}

func newAuthService(st store, tokens *token.Service) (*auth.Service, error) {
	return auth.NewService(st, tokens, auth.BcryptHasher{Cost: cfg.BcryptCost}, sugar, auth.Config{
		LockoutThreshold: cfg.LockoutThreshold,
	})
}
