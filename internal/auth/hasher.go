package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

const (
	minPasswordBytes = 8
	maxPasswordBytes = 72 // bcrypt ignores anything longer
)

// PasswordHasher defines the minimal hashing interface so the algorithm can be swapped.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation. bcrypt salts every hash and compares in constant time.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports a stored cost lower than the configured one.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c < b.cost()
}

// ValidatePassword enforces the password policy for new secrets.
func ValidatePassword(pw string) error {
	if len(pw) < minPasswordBytes || len(pw) > maxPasswordBytes {
		return apperr.ErrWeakPassword
	}
	return nil
}
