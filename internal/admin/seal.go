package admin

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// maxSkew tolerates session stamps slightly ahead of the local clock.
const maxSkew = time.Minute

// ErrBadSession covers every way a session token can fail to open.
var ErrBadSession = errors.New("admin: invalid session")

// session is the sealed payload.
type session struct {
	UserID   int64 `json:"uid"`
	IssuedAt int64 `json:"iat"`
}

// sealer encrypts and authenticates session payloads with NaCl secretbox.
type sealer struct {
	key [32]byte
	ttl time.Duration
	now func() time.Time
}

// newSealer derives the box key from secret, separated from the token signing key.
func newSealer(secret []byte, ttl time.Duration, now func() time.Time) *sealer {
	s := &sealer{key: sha256.Sum256(append([]byte("admin-session:"), secret...)), ttl: ttl, now: now}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *sealer) seal(userID int64) (string, error) {
	plain, err := json.Marshal(session{UserID: userID, IssuedAt: s.now().Unix()})
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], plain, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

// open returns the user id in tok. Corrupt, forged and expired tokens all
// yield ErrBadSession.
func (s *sealer) open(tok string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return 0, ErrBadSession
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return 0, ErrBadSession
	}
	var sess session
	if err := json.Unmarshal(plain, &sess); err != nil || sess.UserID <= 0 {
		return 0, ErrBadSession
	}
	issued := time.Unix(sess.IssuedAt, 0)
	now := s.now()
	if now.Sub(issued) >= s.ttl || issued.Sub(now) > maxSkew {
		return 0, ErrBadSession
	}
	return sess.UserID, nil
}
