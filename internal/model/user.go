package model

import "time"

// Role is the party a user acts as. It is carried in the JWT "role" claim
// and stored as messages.sender_role.
type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleTechnician Role = "TECHNICIAN"
)

// Other returns the opposite party of a repair conversation.
func (r Role) Other() Role {
	if r == RoleTechnician {
		return RoleCustomer
	}
	return RoleTechnician
}

// User is a row of the `users` table.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique, lower-cased email address.
//	PasswordHash – bcrypt hash.
//	Role         – CUSTOMER or TECHNICIAN.
//	DisplayName  – name shown to the other party of a repair.
//	IsActive     – whether the account may sign in.
type User struct {
	ID           uint64    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         Role      `db:"role"`
	DisplayName  string    `db:"display_name"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64     `db:"id"`
	UserID    uint64     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}
