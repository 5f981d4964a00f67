package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords with bcrypt and digests API keys with SHA-256.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost is zero.
func NewHasher(cost int) *Hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns a salted bcrypt digest of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", New(KindValidation, ReasonEmptyPassword).WithPublic("password must not be empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", Wrap(KindValidation, ReasonLongPassword, err).WithPublic("password is too long")
		}
		return "", Wrap(KindInternal, "", err)
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. An empty password or an
// empty/corrupt digest is a validation error, not a mismatch, so callers can
// tell a wrong password from a broken stored hash.
func (h *Hasher) Verify(password, digest string) (bool, error) {
	if password == "" {
		return false, New(KindValidation, ReasonEmptyPassword).WithPublic("password must not be empty")
	}
	if digest == "" {
		return false, New(KindValidation, ReasonMalformedDigest)
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, Wrap(KindValidation, ReasonMalformedDigest, err)
	}
}

// HashKey returns the hex SHA-256 digest of a raw API key. Keys are random and
// high-entropy, so a fast deterministic digest is enough and keeps lookups cheap.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
