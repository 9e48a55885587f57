package security

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
)

// IdentityHasher produces deterministic hashes of identifying fields so the
// relational store can detect duplicate patients without holding plaintext.
type IdentityHasher interface {
	Hash(value string) string
}

type argonHasher struct {
	salt []byte
}

// NewIdentityHasher returns an argon2id hasher keyed by a deployment-wide salt.
func NewIdentityHasher(salt string) IdentityHasher {
	return &argonHasher{salt: []byte(salt)}
}

func (h *argonHasher) Hash(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ""
	}
	sum := argon2.IDKey([]byte(normalized), h.salt, 1, 32*1024, 2, 32)
	return hex.EncodeToString(sum)
}
