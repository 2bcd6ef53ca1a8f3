package profiles

import (
	"context"
	"errors"
	"time"
)

// Role is the application-level role stored on a profile row.
type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ErrProfileNotFound is returned when the profile table has no row for the user.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a row of the profiles table, keyed by the auth user id.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DisplayName falls back to the email when no name is set.
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

func (p *Profile) IsSeller() bool {
	return p.Role == RoleSeller || p.Role == RoleAdmin
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Repo reads profile rows. bearer is sent as the Authorization token; callers
// pass the public key when no user token is available.
type Repo interface {
	GetByID(ctx context.Context, id, bearer string) (*Profile, error)
}
