package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

const (
	memberKey   = "100200"
	externalKey = "ext@example.com"
	goodPass    = "correct horse battery"
	badPass     = "wrong password!"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store  *repo.MemoryRepo
	tokens *token.Service
	svc    *Service
	clock  *clock
	member *entity.Principal
	ext    *entity.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repo.NewMemoryRepo(), nil)
}

// newFixtureWithStore lets a test wrap the memory store; wrap may be nil.
func newFixtureWithStore(t *testing.T, mem *repo.MemoryRepo, wrap func(*repo.MemoryRepo) PrincipalStore) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := token.NewService(token.Config{
		Secret: []byte("fixture-secret-fixture-secret-000"),
		Issuer: "test",
		Now:    c.Now,
	}, nil)
	require.NoError(t, err)

	var st PrincipalStore = mem
	if wrap != nil {
		st = wrap(mem)
	}
	svc, err := NewService(st, tokens, BcryptHasher{Cost: bcrypt.MinCost}, nil, Config{Now: c.Now})
	require.NoError(t, err)

	ctx := context.Background()
	m, err := svc.CreatePrincipal(ctx, NewPrincipal{
		Kind: entity.KindMember, LoginKey: memberKey, Password: goodPass, Role: "staff",
	})
	require.NoError(t, err)
	e, err := svc.CreatePrincipal(ctx, NewPrincipal{
		Kind: entity.KindExternal, Email: externalKey, Password: goodPass, Role: "guest", EmailVerified: true,
	})
	require.NoError(t, err)

	return &fixture{store: mem, tokens: tokens, svc: svc, clock: c, member: m, ext: e}
}

func (f *fixture) login(kind entity.Kind, key, pw string) (*LoginResult, error) {
	return f.svc.Login(context.Background(), LoginRequest{
		Kind: kind, LoginKey: key, Password: pw, SourceIP: "203.0.113.9", UserAgent: "test",
	})
}

func (f *fixture) state(t *testing.T, p *entity.Principal) *entity.Principal {
	t.Helper()
	cur, err := f.store.FindByID(context.Background(), p.Kind, p.ID)
	require.NoError(t, err)
	return cur
}
