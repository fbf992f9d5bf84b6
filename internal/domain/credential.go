package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry reads the exp claim of a provider session token.
// The signature is not checked: the provider is the only verifier.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenValid reports whether token is present, well-formed and not expired at now.
func TokenValid(token string, now time.Time) bool {
	exp, ok := tokenExpiry(token)
	return ok && exp.After(now)
}

// TokenExpiresIn returns the remaining lifetime of token, or 0 if it is invalid.
func TokenExpiresIn(token string, now time.Time) time.Duration {
	exp, ok := tokenExpiry(token)
	if !ok || !exp.After(now) {
		return 0
	}
	return exp.Sub(now)
}
