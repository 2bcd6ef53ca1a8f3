package errors

import (
	"errors"
	"fmt"
)

// Common error types shared across the session packages
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSignInNotExposed   = errors.New("sign-in is not exposed for this session type")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingExpiry       = errors.New("token has no exp claim")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNoSession           = errors.New("no session")

	// Session errors
	ErrUnknownSessionType  = errors.New("unknown session type")
	ErrAlreadyBootstrapped = errors.New("session already bootstrapped")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendConfig      = errors.New("backend refused the client's api key")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

