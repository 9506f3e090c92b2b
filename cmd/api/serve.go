package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/reset"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, db, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := st.EnsureTables(ctx); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}

		denylist, closeDenylist, err := openDenylist(ctx, db)
		if err != nil {
			return err
		}
		defer closeDenylist()

		tokens, err := newTokenService(denylist)
		if err != nil {
			return err
		}
		authSvc, err := newAuthService(st, tokens)
		if err != nil {
			return err
		}
		resetSvc := reset.NewService(st, auth.BcryptHasher{Cost: cfg.BcryptCost}, nil, sugar, reset.Config{
			TTL:         cfg.ResetTokenTTL,
			MinResponse: cfg.ResetMinResponse,
		})

		handler := router.RegisterRoutes(router.Options{
			Auth:           auth.NewHandler(authSvc, sugar),
			Reset:          reset.NewHandler(resetSvc, sugar),
			Validator:      tokens,
			PublicPaths:    cfg.PublicPaths,
			CORSOrigins:    cfg.CORSOrigins,
			TrustedProxies: cfg.TrustedProxies,
			RateLimit:      router.NewRateLimiter(cfg.RateLimitPerMinute),
			Logger:         sugar,
		})
		srv := &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			sugar.Infow("http server listening", "addr", cfg.ServerAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("http server failed: %w", err)
		}

		sugar.Info("shutting down")
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		sugar.Info("goodbye")
		return nil
	},
}
