package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// MemoryRepo is an in-process store with the same contract as PrincipalRepo.
// It backs STORE=memory and the unit tests. A single mutex serializes every
// mutation, which gives the same atomicity the SQL statements provide.
type MemoryRepo struct {
	mu         sync.Mutex
	principals map[string]*entity.Principal
	attempts   []entity.LoginAttempt
	tokens     map[string]*entity.ResetToken
	now        func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		principals: make(map[string]*entity.Principal),
		tokens:     make(map[string]*entity.ResetToken),
		now:        time.Now,
	}
}

func memKey(kind entity.Kind, id string) string { return string(kind) + "/" + id }

func clonePrincipal(p *entity.Principal) *entity.Principal {
	c := *p
	if p.Email != nil {
		e := *p.Email
		c.Email = &e
	}
	if p.PasswordHash != nil {
		h := *p.PasswordHash
		c.PasswordHash = &h
	}
	if p.DeletedAt != nil {
		d := *p.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// EnsureTables is a no-op for the memory store.
func (m *MemoryRepo) EnsureTables(context.Context) error { return nil }

func (m *MemoryRepo) Create(_ context.Context, p *entity.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Deleted() {
			continue
		}
		if existing.Kind == p.Kind && existing.LoginKey == p.LoginKey {
			return fmt.Errorf("duplicate login key %q", p.LoginKey)
		}
		if p.Email != nil && existing.Email != nil && entity.NormalizeEmail(*existing.Email) == entity.NormalizeEmail(*p.Email) {
			return fmt.Errorf("duplicate email %q", *p.Email)
		}
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = entity.StatusActive
	}
	now := m.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.principals[memKey(p.Kind, p.ID)] = clonePrincipal(p)
	return nil
}

func (m *MemoryRepo) FindByLoginKey(_ context.Context, kind entity.Kind, loginKey string) (*entity.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Kind == kind && p.LoginKey == loginKey && !p.Deleted() {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := entity.NormalizeEmail(email)
	for _, p := range m.principals {
		if p.Email != nil && entity.NormalizeEmail(*p.Email) == want && !p.Deleted() {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) FindByID(_ context.Context, kind entity.Kind, id string) (*entity.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrincipal(p), nil
}

// live must be called with mu held.
func (m *MemoryRepo) live(kind entity.Kind, id string) (*entity.Principal, bool) {
	p, ok := m.principals[memKey(kind, id)]
	if !ok || p.Deleted() {
		return nil, false
	}
	return p, true
}

func (m *MemoryRepo) RecordFailure(_ context.Context, kind entity.Kind, id string, threshold int, attempt *entity.LoginAttempt) (entity.LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return entity.LockState{}, ErrNotFound
	}
	p.FailureCount++
	if p.FailureCount >= threshold {
		p.Locked = true
	}
	p.UpdatedAt = m.now().UTC()
	m.appendAttempt(attempt)
	return entity.LockState{FailureCount: p.FailureCount, Locked: p.Locked}, nil
}

func (m *MemoryRepo) RecordSuccess(_ context.Context, kind entity.Kind, id string, attempt *entity.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return ErrNotFound
	}
	p.FailureCount = 0
	p.UpdatedAt = m.now().UTC()
	m.appendAttempt(attempt)
	return nil
}

func (m *MemoryRepo) AppendAttempt(_ context.Context, attempt *entity.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAttempt(attempt)
	return nil
}

func (m *MemoryRepo) appendAttempt(a *entity.LoginAttempt) {
	if a == nil {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}
	m.attempts = append(m.attempts, *a)
}

func (m *MemoryRepo) Unlock(_ context.Context, kind entity.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return ErrNotFound
	}
	p.Locked = false
	p.FailureCount = 0
	p.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepo) UpdatePassword(_ context.Context, kind entity.Kind, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = &hash
	p.Version++
	p.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepo) Rehash(_ context.Context, kind entity.Kind, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = &hash
	p.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepo) SoftDelete(_ context.Context, kind entity.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(kind, id)
	if !ok {
		return ErrNotFound
	}
	now := m.now().UTC()
	p.DeletedAt = &now
	return nil
}

func (m *MemoryRepo) IssueResetToken(_ context.Context, t *entity.ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(t.PrincipalKind, t.PrincipalID); !ok {
		return ErrNotFound
	}
	for _, existing := range m.tokens {
		if existing.PrincipalKind == t.PrincipalKind && existing.PrincipalID == t.PrincipalID && !existing.Used {
			usedAt := t.CreatedAt
			existing.Used = true
			existing.UsedAt = &usedAt
		}
	}
	c := *t
	m.tokens[t.TokenHash] = &c
	return nil
}

func (m *MemoryRepo) RedeemResetToken(_ context.Context, tokenHash string, now time.Time, newHash func() (string, error)) (*entity.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := m.live(t.PrincipalKind, t.PrincipalID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := t.Check(now, p.EmailAddress()); err != nil {
		return nil, err
	}
	h, err := newHash()
	if err != nil {
		return nil, err
	}
	p.PasswordHash = &h
	p.Version++
	p.FailureCount = 0
	p.Locked = false
	p.UpdatedAt = now
	usedAt := now
	t.Used = true
	t.UsedAt = &usedAt
	return clonePrincipal(p), nil
}

// Attempts returns the recorded attempts of one principal in insertion order.
func (m *MemoryRepo) Attempts(kind entity.Kind, id string) []entity.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.LoginAttempt
	for _, a := range m.attempts {
		if a.PrincipalKind == kind && a.PrincipalID == id {
			out = append(out, a)
		}
	}
	return out
}

// ResetTokens returns the principal's tokens, oldest first.
func (m *MemoryRepo) ResetTokens(kind entity.Kind, id string) []entity.ResetToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.ResetToken
	for _, t := range m.tokens {
		if t.PrincipalKind == kind && t.PrincipalID == id {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
