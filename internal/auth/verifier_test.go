package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/auth"
)

func TestVerifyDevToken(t *testing.T) {
	t.Parallel()
	v := auth.NewVerifier(auth.Config{})
	require.Equal(t, auth.ModeDev, v.Mode())

	p, err := v.Verify(context.Background(), "key_1:analysis.read,events.publish")
	require.NoError(t, err)
	assert.Equal(t, "key_1", p.CredentialID)
	assert.Equal(t, []string{"analysis.read", "events.publish"}, p.Scopes)

	p, err = v.Verify(context.Background(), "key_2:")
	require.NoError(t, err)
	assert.Empty(t, p.Scopes)

	for _, bad := range []string{"", "nocolon", ":scopes"} {
		_, err := v.Verify(context.Background(), bad)
		assert.ErrorIs(t, err, auth.ErrUnauthorized, bad)
	}
}

func TestVerifyHMAC(t *testing.T) {
	t.Parallel()
	v := auth.NewVerifier(auth.Config{Mode: "hmac", HMACSecret: "topsecret"})

	sign := func(secret string, claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}

	p, err := v.Verify(context.Background(), sign("topsecret", jwt.MapClaims{
		"sub":   "key_9",
		"scope": "reports.read crm.*",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "key_9", p.CredentialID)
	assert.Equal(t, []string{"reports.read", "crm.*"}, p.Scopes)

	p, err = v.Verify(context.Background(), sign("topsecret", jwt.MapClaims{"sub": "key_9", "scope": []any{"a.read", "b.read"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.read", "b.read"}, p.Scopes)

	_, err = v.Verify(context.Background(), sign("wrong", jwt.MapClaims{"sub": "key_9"}))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = v.Verify(context.Background(), sign("topsecret", jwt.MapClaims{"sub": "key_9", "exp": time.Now().Add(-time.Minute).Unix()}))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = v.Verify(context.Background(), sign("topsecret", jwt.MapClaims{"scope": "x"}))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestVerifyJWKS(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v := auth.NewVerifier(auth.Config{Mode: "jwks", JWKSURL: srv.URL, CredentialClaim: "cid", ScopeClaim: "scp"})
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"cid": "key_rs", "scp": "documents.read"})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "key_rs", p.CredentialID)
	assert.Equal(t, []string{"documents.read"}, p.Scopes)

	tok.Header["kid"] = "unknown"
	signed, err = tok.SignedString(key)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestHasScope(t *testing.T) {
	t.Parallel()
	tests := []struct {
		granted []string
		scope   string
		want    bool
	}{
		{[]string{"analysis.read"}, "analysis.read", true},
		{[]string{"analysis.*"}, "analysis.read", true},
		{[]string{"*"}, "crm.read", true},
		{[]string{"analysis.read"}, "documents.read", false},
		{[]string{"analysis"}, "analysis.read", false},
		{nil, "reports.read", false},
		{nil, "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auth.HasScope(tt.granted, tt.scope), "%v / %s", tt.granted, tt.scope)
	}
	assert.Equal(t, []string{"a", "b", "c"}, auth.ParseScopes("a, b c"))
	assert.Nil(t, auth.ParseScopes(" "))
}
