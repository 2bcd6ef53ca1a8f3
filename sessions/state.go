package sessions

import "github.com/jrsteele09/go-storefront-auth/profiles"

// State is the lifecycle position of a single session.
type State int

const (
	Uninitialized State = iota
	Loading
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User is the identity derived from a valid access token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Snapshot is a consumer's read-only view of a session at one point in time.
// Profile is only ever set when User is set.
type Snapshot struct {
	Type    SessionType       `json:"type"`
	State   State             `json:"state"`
	User    *User             `json:"user"`
	Profile *profiles.Profile `json:"profile"`
	Loading bool              `json:"loading"`
}

// Authenticated reports whether the snapshot carries a user.
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}
