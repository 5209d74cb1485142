package authenticator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	assert.True(t, VerifyPassword(hash, "hunter2"))
	assert.False(t, VerifyPassword(hash, "hunter3"))
	assert.False(t, VerifyPassword("not-a-hash", "hunter2"))
	assert.False(t, VerifyPassword("", "hunter2"))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestPasswordAuthenticator(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	auth, err := NewPasswordAuthenticator(map[string]string{"Alice": hash})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := auth.Authenticate(ctx, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Nil(t, id.Admin)

	// Usernames are case-normalized on both sides.
	id, err = auth.Authenticate(ctx, Credentials{Username: "ALICE", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	_, err = auth.Authenticate(ctx, Credentials{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Authenticate(ctx, Credentials{Username: "bob", Password: "secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{" Alice ", "alice", false},
		{"a.b-c_d", "a.b-c_d", false},
		{"", "", true},
		{"-leading", "", true},
		{"has space", "", true},
		{"slash/name", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeUsername(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
