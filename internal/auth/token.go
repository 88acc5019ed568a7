// Package auth extracts the local user identity from the session's bearer
// token. The identity is needed client-side for self-echo suppression on
// typing events and for rendering own messages; signature validation is the
// server's job and is deliberately not performed here.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UserID returns the user id claim from a bearer token without verifying
// its signature. It accepts either a "userId" claim or the standard "sub".
func UserID(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if id, ok := claims["userId"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("auth: token carries no user id claim")
}
