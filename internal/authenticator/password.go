package authenticator

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"hub/pkg/logging"
)

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashPassword hashes a plaintext password with argon2id in PHC string
// format.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against a PHC argon2id hash.
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// PasswordAuthenticator checks credentials against a static map of argon2id
// hashes, typically loaded from the hub config file.
type PasswordAuthenticator struct {
	hashes map[string]string
	// dummyHash keeps verification time flat for unknown usernames.
	dummyHash string
}

// NewPasswordAuthenticator creates a password backend over a
// username->hash map.
func NewPasswordAuthenticator(hashes map[string]string) (*PasswordAuthenticator, error) {
	dummy, err := HashPassword("-")
	if err != nil {
		return nil, err
	}
	normalized := make(map[string]string, len(hashes))
	for name, hash := range hashes {
		norm, err := NormalizeUsername(name)
		if err != nil {
			return nil, fmt.Errorf("password user: %w", err)
		}
		normalized[norm] = hash
	}
	return &PasswordAuthenticator{hashes: normalized, dummyHash: dummy}, nil
}

// Authenticate implements Authenticator.
func (p *PasswordAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	name, err := NormalizeUsername(creds.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	hash, known := p.hashes[name]
	if !known {
		hash = p.dummyHash
	}
	if !VerifyPassword(hash, creds.Password) || !known {
		logging.Debug("Authenticator", "password login rejected for %s", name)
		return nil, ErrInvalidCredentials
	}
	return &Identity{Username: name}, nil
}
