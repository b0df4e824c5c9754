// Package gateway defines the identity provider contract the session
// lifecycle consumes. Any conforming implementation is a drop-in
// replacement; Local is the Postgres-backed one this service ships.
package gateway

import (
	"context"
	"time"

	"github.com/paylite/session-server/internal/model"
)

// Session is the credential material held for an authenticated principal.
// Token values never reach durable session storage; only the gateway's
// local cache holds them.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
}

// Remaining reports the session lifetime left at now.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Profile is the signup input.
type Profile struct {
	Email       string
	Password    string
	DisplayName string
	FirstName   string
	LastName    string
	Role        model.AccountRole
	PhoneNumber string
}

// Result is the outcome of a gateway operation that may authenticate.
type Result struct {
	User                 *model.User
	Session              *Session
	RequiresConfirmation bool
}

// Gateway is the identity provider contract. Every call may fail and no
// ordering is guaranteed between concurrent calls from different
// components.
type Gateway interface {
	Login(ctx context.Context, email, password string) (*Result, error)
	Signup(ctx context.Context, profile Profile) (*Result, error)
	Logout(ctx context.Context) error

	// GetSession is a synchronous read of locally cached credentials.
	// It carries no network guarantee and returns (nil, nil) when no
	// session is cached.
	GetSession(ctx context.Context) (*Session, error)

	RefreshSession(ctx context.Context) (*Result, error)

	// ValidateAndRefreshSession checks remaining validity and refreshes
	// proactively when the remaining lifetime is below the refresh
	// threshold.
	ValidateAndRefreshSession(ctx context.Context) (*Result, error)
}
