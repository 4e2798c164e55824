package federated

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	currentKey = []byte("current-signing-key-0123456789abcdef")
	oldKey     = []byte("previous-signing-key-0123456789abcd")
)

func sign(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"email": "alice@x.com",
		"name":  "Alice",
		"aud":   "secureapp",
		"iss":   "https://accounts.example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(
		base64.StdEncoding.EncodeToString(currentKey),
		base64.StdEncoding.EncodeToString(oldKey),
		"secureapp",
		"https://accounts.example.com",
	)
	require.NoError(t, err)
	return v
}

func TestVerifyCurrentAndOldKey(t *testing.T) {
	v := newVerifier(t)
	ctx := context.Background()

	id, err := v.Verify(ctx, sign(t, currentKey, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, Identity{Email: "alice@x.com", DisplayName: "Alice"}, id)

	id, err = v.Verify(ctx, sign(t, oldKey, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", id.Email)
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t)
	ctx := context.Background()

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAudience := validClaims()
	wrongAudience["aud"] = "someone-else"

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"

	noEmail := validClaims()
	delete(noEmail, "email")

	unverified := validClaims()
	unverified["email_verified"] = false

	noExpiry := validClaims()
	delete(noExpiry, "exp")

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.jwt",
		"unknown key":    sign(t, []byte("some-other-key-0123456789abcdefgh"), validClaims()),
		"expired":        sign(t, currentKey, expired),
		"wrong audience": sign(t, currentKey, wrongAudience),
		"wrong issuer":   sign(t, currentKey, wrongIssuer),
		"no email":       sign(t, currentKey, noEmail),
		"unverified":     sign(t, currentKey, unverified),
		"no expiry":      sign(t, currentKey, noExpiry),
	}
	for name, credential := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(ctx, credential)
			assert.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	v := newVerifier(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestMissingNameIsAllowed(t *testing.T) {
	v := newVerifier(t)
	claims := validClaims()
	delete(claims, "name")

	id, err := v.Verify(context.Background(), sign(t, currentKey, claims))
	require.NoError(t, err)
	assert.Empty(t, id.DisplayName)
}

func TestNewJWTVerifierConfig(t *testing.T) {
	_, err := NewJWTVerifier("", "", "", "")
	assert.Error(t, err)

	_, err = NewJWTVerifier("%%%not-base64", "", "", "")
	assert.Error(t, err)

	v, err := NewJWTVerifier(base64.StdEncoding.EncodeToString(currentKey), "", "", "")
	require.NoError(t, err)
	assert.Len(t, v.keys, 1)
}
