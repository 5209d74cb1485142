package authenticator

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// TrustedHeaderAuthenticator reads the username from a header set by an
// authenticating front proxy. The proxy proves itself with a shared secret
// in a second header; without that check any client could forge the
// username header.
type TrustedHeaderAuthenticator struct {
	userHeader   string
	secretHeader string
	secret       string
}

// NewTrustedHeaderAuthenticator creates the backend. All three values are
// required.
func NewTrustedHeaderAuthenticator(userHeader, secretHeader, secret string) (*TrustedHeaderAuthenticator, error) {
	if userHeader == "" || secretHeader == "" || secret == "" {
		return nil, fmt.Errorf("trusted header auth: header names and secret are required")
	}
	return &TrustedHeaderAuthenticator{
		userHeader:   userHeader,
		secretHeader: secretHeader,
		secret:       secret,
	}, nil
}

// Authenticate implements Authenticator.
func (t *TrustedHeaderAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Header == nil {
		return nil, ErrInvalidCredentials
	}
	presented := creds.Header.Get(t.secretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(t.secret)) != 1 {
		return nil, ErrInvalidCredentials
	}
	name, err := NormalizeUsername(creds.Header.Get(t.userHeader))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Identity{Username: name}, nil
}
