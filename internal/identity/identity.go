// Package identity extracts bearer credentials from requests and exposes the
// authenticated principal to downstream handlers through the request context.
package identity

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// Identity is the assertion handed to downstream consumers.
type Identity struct {
	SubjectID string      `json:"subjectId"`
	Kind      entity.Kind `json:"kind"`
	Role      string      `json:"role"`
}

type identityContextKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext returns the identity attached by Middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// Validator is satisfied by *token.Service.
type Validator interface {
	Validate(raw string, want token.Class) (*token.Claims, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

// IsPublic matches path against the allow-list. Entries ending in "/*"
// match the prefix and everything below it; others match exactly.
func IsPublic(path string, public []string) bool {
	for _, p := range public {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Middleware attaches an Identity for requests carrying a valid ACCESS
// token. It never rejects: a missing or invalid token simply leaves the
// context empty, and enforcement belongs to the authorization layer.
func Middleware(v Validator, public []string, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	allow := append([]string(nil), public...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || IsPublic(r.URL.Path, allow) {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Validate(raw, token.ClassAccess)
			if err != nil {
				logger.Debugw("bearer token rejected", "path", r.URL.Path, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithIdentity(r.Context(), Identity{
				SubjectID: claims.Subject,
				Kind:      claims.Kind,
				Role:      claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
