package model

import (
	"time"
)

type Principal struct {
	ID               string     `db:"id" json:"id"`
	ExternalID       *string    `db:"external_id" json:"externalId,omitempty"`
	FirstName        string     `db:"first_name" json:"firstName"`
	LastName         string     `db:"last_name" json:"lastName"`
	Email            string     `db:"email" json:"email"`
	Phone            string     `db:"phone" json:"phone"`
	Role             Role       `db:"role" json:"role"`
	Active           bool       `db:"active" json:"active"`
	Username         *string    `db:"username" json:"username,omitempty"`
	PasswordHash     *string    `db:"password_hash" json:"-"`
	SessionTokenHash *string    `db:"session_token_hash" json:"-"`
	SessionExpiresAt *time.Time `db:"session_expires_at" json:"-"`
	LastSyncedAt     *time.Time `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanLogin reports whether the principal may hold a session. Admins are
// always active; sales principals start inactive until an admin enables them.
func (p *Principal) CanLogin() bool {
	return p.IsAdmin() || p.Active
}

func (p *Principal) Activation() ActivationState {
	if p.Active {
		return ActivationActive
	}
	return ActivationInactive
}

// DirectoryEntry is the shape of a principal visible to sales users.
type DirectoryEntry struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone"`
}

type PrincipalFilter struct {
	Role   *Role
	Active *bool
	Limit  int
	Offset int
}

type UpsertExternalParams struct {
	ExternalID string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
}

type EnsureAdminParams struct {
	Username     string
	PasswordHash string
}
