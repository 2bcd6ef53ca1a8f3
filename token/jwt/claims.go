package jwt

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
)

// DefaultExpiryBuffer is how far ahead of exp a token is already treated as expired.
const DefaultExpiryBuffer = 60 * time.Second

// Claims are the access token claims this layer reads.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwtlib.RegisteredClaims
}

// Decode reads the claims of rawToken WITHOUT verifying its signature. The
// result is only used to decide whether to attempt a refresh; the backend
// verifies the signature on every request.
func Decode(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, apperrors.ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "ParseUnverified: %v", err)
	}
	return claims, nil
}

// Expiry returns the exp claim of rawToken.
func Expiry(rawToken string) (time.Time, error) {
	claims, err := Decode(rawToken)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, apperrors.ErrMissingExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Subject returns the sub claim of rawToken.
func Subject(rawToken string) (string, error) {
	claims, err := Decode(rawToken)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsExpired reports whether rawToken must be refreshed before use: true when
// exp is not more than buffer after now, or when exp cannot be read at all.
func IsExpired(rawToken string, now time.Time, buffer time.Duration) bool {
	exp, err := Expiry(rawToken)
	if err != nil {
		return true
	}
	return !exp.After(now.Add(buffer))
}

