package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Token secrets have the form "hub_<ulid><hex>". The ULID doubles as the
// token ID so that a leaked secret can be matched to its stored record
// without a table scan, and the random tail carries the actual entropy.
const tokenPrefix = "hub_"

const tokenRandomBytes = 20

// GenerateToken mints a new token for the given owner. The returned secret
// is shown to the caller exactly once; the Token carries only its digest.
func GenerateToken(ownerKind SubjectKind, ownerName string, scopes []string, note string, expiresIn time.Duration, now time.Time) (*Token, string, error) {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	raw := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token secret: %w", err)
	}
	secret := tokenPrefix + strings.ToLower(id) + hex.EncodeToString(raw)

	token := &Token{
		ID:        id,
		Digest:    DigestToken(secret),
		OwnerKind: ownerKind,
		OwnerName: ownerName,
		Scopes:    append([]string(nil), scopes...),
		Note:      note,
		Created:   now,
	}
	if expiresIn > 0 {
		exp := now.Add(expiresIn)
		token.Expires = &exp
	}
	return token, secret, nil
}

// DigestToken returns the hex SHA-256 digest of a token secret. Only the
// digest is ever persisted.
func DigestToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// LooksLikeToken reports whether a credential string has the hub token
// shape, letting the API reject malformed credentials before a store
// round-trip.
func LooksLikeToken(secret string) bool {
	return strings.HasPrefix(secret, tokenPrefix) && len(secret) > len(tokenPrefix)+26
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
