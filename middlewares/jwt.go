package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrMalformedAuthorization is returned for an Authorization header that is
// not "Bearer <token>".
var ErrMalformedAuthorization = errors.New("authorization header must be 'Bearer <token>'")

type bearerKey struct{}

// GetTokenFromAuthorizationHeader extracts the token from a bearer header.
// An empty header yields an empty token and no error.
func GetTokenFromAuthorizationHeader(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", nil
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthorization
	}
	return parts[1], nil
}

// BearerCredential stores the bearer token of the request, if any, in the
// request context. A malformed header is rejected with 400.
func BearerCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := GetTokenFromAuthorizationHeader(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if token != "" {
			r = r.WithContext(context.WithValue(r.Context(), bearerKey{}, token))
		}
		next.ServeHTTP(w, r)
	})
}

// BearerFromContext returns the token stored by BearerCredential.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok && token != ""
}
