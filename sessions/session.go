package sessions

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
)

// SessionType identifies one of the isolated auth contexts sharing a store.
type SessionType string

const (
	// Main is the buyer-facing storefront session.
	Main SessionType = "main"
	// Seller is the seller console session.
	Seller SessionType = "seller"
	// Admin is the admin console session.
	Admin SessionType = "admin"
)

// AllTypes lists every session type in registry construction order.
var AllTypes = []SessionType{Main, Seller, Admin}

func (t SessionType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known session types.
func (t SessionType) Valid() bool {
	switch t {
	case Main, Seller, Admin:
		return true
	}
	return false
}

// ParseSessionType converts a string into a SessionType.
func ParseSessionType(s string) (SessionType, error) {
	t := SessionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", apperrors.Wrapf(apperrors.ErrUnknownSessionType, "%q", s)
	}
	return t, nil
}

// StorageKey is the single persistence key for a session type's token bundle.
// It never matches the auth SDK default key ("sb-<project>-auth-token").
func StorageKey(projectID string, t SessionType) string {
	return fmt.Sprintf("sb-%s-auth-token-%s", projectID, t)
}

// ProjectIDFromURL extracts the project identifier from the backend URL: the
// first DNS label of the host, or the whole hostname when it has no dots.
func ProjectIDFromURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", apperrors.Wrapf(err, "[ProjectIDFromURL] parse %q", backendURL)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("[ProjectIDFromURL] no host in %q", backendURL)
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i], nil
	}
	return host, nil
}
