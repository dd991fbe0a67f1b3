package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("secret", "quill")
	require.NoError(t, err)

	token, err := v.Sign(User{ID: "user-1", Email: "a@example.com"}, "quill", time.Hour, time.Now())
	require.NoError(t, err)

	u, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier("secret", "quill")
	require.NoError(t, err)
	other, err := NewVerifier("other-secret", "")
	require.NoError(t, err)

	expired, err := v.Sign(User{ID: "u"}, "quill", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	wrongIssuer, err := v.Sign(User{ID: "u"}, "someone-else", time.Hour, time.Now())
	require.NoError(t, err)
	wrongKey, err := other.Sign(User{ID: "u"}, "quill", time.Hour, time.Now())
	require.NoError(t, err)
	noSubject, err := v.Sign(User{}, "quill", time.Hour, time.Now())
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u",
		Issuer:    "quill",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong issuer", wrongIssuer},
		{"wrong key", wrongKey},
		{"no subject", noSubject},
		{"alg none", noneAlg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetUser(ctx))
	assert.Equal(t, "", UserID(ctx))

	ctx = SetUser(ctx, &User{ID: "u1"})
	assert.Equal(t, "u1", UserID(ctx))
}
