package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

func TestLoginMemberSuccess(t *testing.T) {
	f := newFixture(t)

	res, err := f.login(entity.KindMember, memberKey, goodPass)
	require.NoError(t, err)
	assert.Equal(t, f.member.ID, res.Principal.ID)
	assert.Equal(t, entity.KindMember, res.Principal.Kind)

	claims, err := f.tokens.Validate(res.Tokens.AccessToken, token.ClassAccess)
	require.NoError(t, err)
	assert.Equal(t, f.member.ID, claims.Subject)

	attempts := f.store.Attempts(entity.KindMember, f.member.ID)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Nil(t, attempts[0].FailureReason)
	assert.Equal(t, "203.0.113.9", attempts[0].SourceIP)
}

func TestLoginExternalIgnoresEmailCase(t *testing.T) {
	f := newFixture(t)

	res, err := f.login(entity.KindExternal, "  EXT@Example.com ", goodPass)
	require.NoError(t, err)
	assert.Equal(t, f.ext.ID, res.Principal.ID)
	assert.True(t, res.Principal.EmailVerified)
}

func TestLoginKindsAreSeparate(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(entity.KindExternal, memberKey, goodPass)
	assert.ErrorIs(t, err, apperr.ErrPrincipalNotFound)
}

func TestLoginUnknownPrincipal(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(entity.KindMember, "999999", goodPass)
	assert.ErrorIs(t, err, apperr.ErrPrincipalNotFound)
}

func TestLoginEmptyKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(entity.KindMember, "  ", goodPass)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestFiveFailuresLock(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 5; i++ {
		_, err := f.login(entity.KindMember, memberKey, badPass)
		require.ErrorIs(t, err, apperr.ErrInvalidPassword)
		cur := f.state(t, f.member)
		assert.Equal(t, i, cur.FailureCount)
		assert.Equal(t, i >= 5, cur.Locked, "after %d failures", i)
	}

	_, err := f.login(entity.KindMember, memberKey, goodPass)
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)

	cur := f.state(t, f.member)
	assert.Equal(t, 5, cur.FailureCount, "blocked attempts do not count")

	attempts := f.store.Attempts(entity.KindMember, f.member.ID)
	require.Len(t, attempts, 6)
	assert.Equal(t, entity.ReasonAccountLocked, *attempts[5].FailureReason)
	for _, a := range attempts[:5] {
		assert.Equal(t, entity.ReasonInvalidPassword, *a.FailureReason)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 4; i++ {
		_, err := f.login(entity.KindMember, memberKey, badPass)
		require.ErrorIs(t, err, apperr.ErrInvalidPassword)
	}
	_, err := f.login(entity.KindMember, memberKey, goodPass)
	require.NoError(t, err)

	cur := f.state(t, f.member)
	assert.Equal(t, 0, cur.FailureCount)
	assert.False(t, cur.Locked)

	// a fresh run of four failures does not lock either
	for i := 0; i < 4; i++ {
		_, err := f.login(entity.KindMember, memberKey, badPass)
		require.ErrorIs(t, err, apperr.ErrInvalidPassword)
	}
	assert.False(t, f.state(t, f.member).Locked)
}

func TestSuccessDoesNotClearLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.store.RecordFailure(ctx, f.member.Kind, f.member.ID, 5, nil)
		require.NoError(t, err)
	}

	err := f.svc.Tracker().RecordSuccess(ctx, f.state(t, f.member), nil)
	require.NoError(t, err)

	cur := f.state(t, f.member)
	assert.Equal(t, 0, cur.FailureCount)
	assert.True(t, cur.Locked)
}

func TestConcurrentFailuresAreAllCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.login(entity.KindMember, memberKey, badPass)
		require.ErrorIs(t, err, apperr.ErrInvalidPassword)
	}

	snapshot := f.state(t, f.member)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Tracker().RecordFailure(ctx, snapshot, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cur := f.state(t, f.member)
	assert.Equal(t, 6, cur.FailureCount)
	assert.True(t, cur.Locked)
}

// barrierStore holds every lookup until all gated callers have read the principal,
// so concurrent logins all see the same pre-failure snapshot.
type barrierStore struct {
	*repo.MemoryRepo
	wg *sync.WaitGroup
}

func (b barrierStore) FindByLoginKey(ctx context.Context, kind entity.Kind, key string) (*entity.Principal, error) {
	p, err := b.MemoryRepo.FindByLoginKey(ctx, kind, key)
	b.wg.Done()
	b.wg.Wait()
	return p, err
}

func TestConcurrentLoginsFromFourFailures(t *testing.T) {
	mem := repo.NewMemoryRepo()
	gate := &sync.WaitGroup{}
	f := newFixtureWithStore(t, mem, func(m *repo.MemoryRepo) PrincipalStore {
		return barrierStore{MemoryRepo: m, wg: gate}
	})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := mem.RecordFailure(ctx, f.member.Kind, f.member.ID, 5, nil)
		require.NoError(t, err)
	}

	gate.Add(2)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.login(entity.KindMember, memberKey, badPass)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, apperr.ErrInvalidPassword)
	}

	cur := f.state(t, f.member)
	assert.Equal(t, 6, cur.FailureCount)
	assert.True(t, cur.Locked)
}

func TestExternalStatusGates(t *testing.T) {
	cases := []struct {
		name     string
		status   entity.AccountStatus
		verified bool
		want     error
		reason   string
	}{
		{"inactive", entity.StatusInactive, true, apperr.ErrAccountInactive, entity.ReasonAccountInactive},
		{"suspended", entity.StatusSuspended, true, apperr.ErrAccountSuspended, entity.ReasonAccountSuspended},
		{"unverified", entity.StatusActive, false, apperr.ErrEmailNotVerified, entity.ReasonEmailNotVerified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			email := tc.name + "@example.com"
			p, err := f.svc.CreatePrincipal(context.Background(), NewPrincipal{
				Kind: entity.KindExternal, Email: email, Password: goodPass, Role: "guest",
				Status: tc.status, EmailVerified: tc.verified,
			})
			require.NoError(t, err)

			// the gate runs before the password is looked at
			_, err = f.login(entity.KindExternal, email, badPass)
			assert.ErrorIs(t, err, tc.want)
			_, err = f.login(entity.KindExternal, email, goodPass)
			assert.ErrorIs(t, err, tc.want)

			assert.Equal(t, 0, f.state(t, p).FailureCount)
			attempts := f.store.Attempts(entity.KindExternal, p.ID)
			require.Len(t, attempts, 2)
			assert.Equal(t, tc.reason, *attempts[0].FailureReason)
			assert.False(t, attempts[0].Success)
		})
	}
}

func TestMemberIgnoresStatusFields(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.CreatePrincipal(context.Background(), NewPrincipal{
		Kind: entity.KindMember, LoginKey: "555", Password: goodPass, Role: "staff",
		Status: entity.StatusSuspended, EmailVerified: false,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, p.Status)

	_, err = f.login(entity.KindMember, "555", goodPass)
	assert.NoError(t, err)
}

func TestLoginWithoutPasswordHash(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePrincipal(context.Background(), NewPrincipal{
		Kind: entity.KindMember, LoginKey: "777", Role: "staff",
	})
	require.NoError(t, err)

	_, err = f.login(entity.KindMember, "777", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidPassword)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, _ = f.login(entity.KindMember, memberKey, badPass)
	}
	require.True(t, f.state(t, f.member).Locked)

	require.NoError(t, f.svc.Unlock(context.Background(), f.member.Kind, f.member.ID))
	cur := f.state(t, f.member)
	assert.False(t, cur.Locked)
	assert.Equal(t, 0, cur.FailureCount)

	_, err := f.login(entity.KindMember, memberKey, goodPass)
	assert.NoError(t, err)

	err = f.svc.Unlock(context.Background(), entity.KindMember, "nope")
	assert.ErrorIs(t, err, apperr.ErrPrincipalNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.login(entity.KindMember, memberKey, goodPass)
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, f.member.Kind, f.member.ID, badPass, "another good one")
	assert.ErrorIs(t, err, apperr.ErrInvalidPassword)
	assert.Equal(t, 0, f.state(t, f.member).FailureCount, "change does not feed lockout")

	err = f.svc.ChangePassword(ctx, f.member.Kind, f.member.ID, goodPass, "short")
	assert.ErrorIs(t, err, apperr.ErrWeakPassword)

	require.NoError(t, f.svc.ChangePassword(ctx, f.member.Kind, f.member.ID, goodPass, "another good one"))

	_, err = f.login(entity.KindMember, memberKey, goodPass)
	assert.ErrorIs(t, err, apperr.ErrInvalidPassword)
	_, err = f.login(entity.KindMember, memberKey, "another good one")
	assert.NoError(t, err)

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken, "refresh tokens minted before the change are void")
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.login(entity.KindExternal, externalKey, goodPass)
	require.NoError(t, err)

	pair, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrInvalidToken)
}

func TestRehashKeepsIssuedTokensValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stronger, err := NewService(f.store, f.tokens, BcryptHasher{Cost: bcrypt.MinCost + 1}, nil, Config{Now: f.clock.Now})
	require.NoError(t, err)

	other, err := f.login(entity.KindMember, memberKey, goodPass)
	require.NoError(t, err)

	before := f.state(t, f.member)
	res, err := stronger.Login(ctx, LoginRequest{Kind: entity.KindMember, LoginKey: memberKey, Password: goodPass})
	require.NoError(t, err)

	after := f.state(t, f.member)
	assert.Equal(t, before.Version, after.Version, "rehash is not a credential change")
	cost, err := bcrypt.Cost([]byte(*after.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)

	_, err = stronger.Refresh(ctx, res.Tokens.RefreshToken)
	assert.NoError(t, err)
	_, err = stronger.Refresh(ctx, other.Tokens.RefreshToken)
	assert.NoError(t, err, "sessions opened before the rehash survive it")
}

func TestCreatePrincipalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePrincipal(ctx, NewPrincipal{Kind: entity.KindMember, LoginKey: "12ab", Role: "staff"})
	assert.Error(t, err)

	_, err = f.svc.CreatePrincipal(ctx, NewPrincipal{Kind: entity.KindExternal, LoginKey: "no-at-sign", Role: "guest"})
	assert.Error(t, err)

	_, err = f.svc.CreatePrincipal(ctx, NewPrincipal{Kind: entity.KindMember, LoginKey: "1", Role: ""})
	assert.Error(t, err)

	_, err = f.svc.CreatePrincipal(ctx, NewPrincipal{Kind: entity.KindMember, LoginKey: memberKey, Role: "staff"})
	assert.Error(t, err, "duplicate login key")

	_, err = f.svc.CreatePrincipal(ctx, NewPrincipal{Kind: entity.KindMember, LoginKey: "31", Role: "staff", Password: "tiny"})
	assert.ErrorIs(t, err, apperr.ErrWeakPassword)

	_, err = f.svc.CreatePrincipal(ctx, NewPrincipal{
		Kind: entity.KindExternal, Email: "banned@example.com", Role: "guest", Status: "BANNED", EmailVerified: true, Password: goodPass,
	})
	assert.Error(t, err, "unknown status")
	_, err = f.store.FindByLoginKey(ctx, entity.KindExternal, "banned@example.com")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUnknownStoredStatusCannotLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hash, err := f.svc.hasher.Hash(goodPass)
	require.NoError(t, err)
	email := "legacy@example.com"
	require.NoError(t, f.store.Create(ctx, &entity.Principal{
		ID: "9001", Kind: entity.KindExternal, LoginKey: email, Email: &email,
		PasswordHash: &hash, Role: "guest", Status: "BANNED", EmailVerified: true,
	}))

	res, err := f.login(entity.KindExternal, email, goodPass)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperr.ErrAccountInactive)
}
