// Package federated turns an opaque credential from an external identity
// provider into a verified email and display name.
package federated

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned for any credential that does not verify.
var ErrInvalidCredential = errors.New("invalid federated credential")

// Identity is what the provider vouches for.
type Identity struct {
	Email       string
	DisplayName string
}

// Verifier maps a credential to a verified identity or fails.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed ID tokens. Tokens signed with the previous
// key keep verifying until the old key is removed from configuration.
type JWTVerifier struct {
	keys     [][]byte
	audience string
	issuer   string
}

// NewJWTVerifier takes base64 encoded signing keys. oldKey may be empty.
func NewJWTVerifier(currentKey, oldKey, audience, issuer string) (*JWTVerifier, error) {
	if currentKey == "" {
		return nil, errors.New("federated signing key is required")
	}
	v := &JWTVerifier{audience: audience, issuer: issuer}
	for _, encoded := range []string{currentKey, oldKey} {
		if encoded == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode federated signing key: %w", err)
		}
		v.keys = append(v.keys, key)
	}
	return v, nil
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrInvalidCredential
	}

	var lastErr error
	for _, key := range v.keys {
		claims, err := v.parse(credential, key)
		if err != nil {
			lastErr = err
			continue
		}
		if claims.Email == "" || (claims.EmailVerified != nil && !*claims.EmailVerified) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{Email: claims.Email, DisplayName: claims.Name}, nil
	}
	return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, lastErr)
}

func (v *JWTVerifier) parse(credential string, key []byte) (*idClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &idClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}
