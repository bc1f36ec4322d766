// ABOUTME: Client-side inspection of the backend bearer token
// ABOUTME: Reads the expiry claim without verifying, to warn before a doomed connect

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired indicates the configured token's exp claim has passed.
var ErrTokenExpired = errors.New("token is expired")

// ExpiresAt extracts the expiry time from a JWT without verifying its
// signature: the client cannot verify (it has no secret), it only wants to
// know whether connecting is pointless. A token without an exp claim
// returns the zero time and no error.
func ExpiresAt(tokenString string) (time.Time, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Check returns ErrTokenExpired when the token expires within skew from
// now. Malformed tokens are reported as errors; tokens without an expiry
// pass.
func Check(tokenString string, skew time.Duration) error {
	expiresAt, err := ExpiresAt(tokenString)
	if err != nil {
		return err
	}
	if expiresAt.IsZero() {
		return nil
	}
	if time.Now().Add(skew).After(expiresAt) {
		return ErrTokenExpired
	}
	return nil
}
