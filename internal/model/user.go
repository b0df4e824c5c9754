package model

import "time"

type User struct {
	ID            string      `db:"id" json:"id"`
	Email         string      `db:"email" json:"email"`
	DisplayName   string      `db:"display_name" json:"displayName"`
	FirstName     string      `db:"first_name" json:"firstName"`
	LastName      string      `db:"last_name" json:"lastName"`
	Role          AccountRole `db:"role" json:"role"`
	Tier          AccountTier `db:"tier" json:"tier"`
	PhoneNumber   string      `db:"phone_number" json:"phoneNumber"`
	PhoneVerified bool        `db:"phone_verified" json:"phoneVerified"`
	EmailVerified bool        `db:"email_verified" json:"-"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updatedAt"`
}

// Initials is derived presentation data carried alongside the profile.
func (u *User) Initials() string {
	initials := ""
	if u.FirstName != "" {
		initials += string([]rune(u.FirstName)[0:1])
	}
	if u.LastName != "" {
		initials += string([]rune(u.LastName)[0:1])
	}
	if initials == "" && u.Email != "" {
		initials = string([]rune(u.Email)[0:1])
	}
	return initials
}

type CreateUserParams struct {
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	Role        AccountRole
	PhoneNumber string
}

type Credential struct {
	ID           string    `db:"id" json:"-"`
	UserID       string    `db:"user_id" json:"-"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"-"`
}

type RefreshToken struct {
	ID        string    `db:"id" json:"-"`
	UserID    string    `db:"user_id" json:"-"`
	TokenHash string    `db:"token_hash" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

type CreateRefreshTokenParams struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}
