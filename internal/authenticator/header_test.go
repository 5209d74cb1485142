package authenticator

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedHeaderAuthenticator(t *testing.T) {
	auth, err := NewTrustedHeaderAuthenticator("X-Remote-User", "X-Proxy-Secret", "s3cret")
	require.NoError(t, err)
	ctx := context.Background()

	header := http.Header{}
	header.Set("X-Remote-User", "Alice")
	header.Set("X-Proxy-Secret", "s3cret")
	id, err := auth.Authenticate(ctx, Credentials{Header: header})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	// Wrong proxy secret means the username header cannot be trusted.
	header.Set("X-Proxy-Secret", "forged")
	_, err = auth.Authenticate(ctx, Credentials{Header: header})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	header.Set("X-Proxy-Secret", "s3cret")
	header.Del("X-Remote-User")
	_, err = auth.Authenticate(ctx, Credentials{Header: header})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, Credentials{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTrustedHeaderAuthenticatorConfig(t *testing.T) {
	_, err := NewTrustedHeaderAuthenticator("", "X-Proxy-Secret", "s3cret")
	assert.Error(t, err)
	_, err = NewTrustedHeaderAuthenticator("X-Remote-User", "X-Proxy-Secret", "")
	assert.Error(t, err)
}
