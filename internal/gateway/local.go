package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/model"
	"github.com/paylite/session-server/internal/repository"
	"github.com/paylite/session-server/internal/util"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// LocalConfig tunes the Postgres-backed gateway.
type LocalConfig struct {
	TokenSecret      string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	RefreshThreshold time.Duration
	RequireConfirmed bool
}

// Local implements Gateway against the identity tables. It caches the
// current token pair in memory; GetSession reads only that cache.
type Local struct {
	users    LocalUserRepo
	creds    LocalCredentialRepo
	tokens   LocalRefreshTokenRepo
	accounts LocalAccountCreator
	cfg      LocalConfig
	now      func() time.Time

	mu      sync.Mutex
	current *Session
}

// Narrow repo views so tests can hand in struct mocks without
// implementing WithTx.
type LocalUserRepo interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

type LocalCredentialRepo interface {
	FindByUserID(ctx context.Context, userID string) (*model.Credential, error)
	UpdateHash(ctx context.Context, userID, passwordHash string) error
}

type LocalRefreshTokenRepo interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Create(ctx context.Context, params model.CreateRefreshTokenParams) (*model.RefreshToken, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// LocalAccountCreator writes the user row and credential atomically.
type LocalAccountCreator interface {
	CreateAccount(ctx context.Context, params model.CreateUserParams, passwordHash string) (*model.User, error)
}

var _ LocalUserRepo = (repository.UserRepository)(nil)
var _ LocalCredentialRepo = (repository.CredentialRepository)(nil)
var _ LocalRefreshTokenRepo = (repository.RefreshTokenRepository)(nil)
var _ LocalAccountCreator = (*repository.AccountWriter)(nil)

func NewLocal(
	users LocalUserRepo,
	creds LocalCredentialRepo,
	tokens LocalRefreshTokenRepo,
	accounts LocalAccountCreator,
	cfg LocalConfig,
) *Local {
	return &Local{
		users:    users,
		creds:    creds,
		tokens:   tokens,
		accounts: accounts,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (g *Local) Login(ctx context.Context, email, password string) (*Result, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperrors.CodedField(apperrors.CodeMissingRequired, "password", "password is required")
	}

	user, err := g.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "identity lookup failed", err)
	}
	if user == nil {
		// Do not reveal whether the account exists.
		return nil, apperrors.Coded(apperrors.CodeInvalidCredentials, "invalid credentials")
	}

	cred, err := g.creds.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "credential lookup failed", err)
	}
	if cred == nil || !util.CheckPasswordHash(password, cred.PasswordHash) {
		return nil, apperrors.Coded(apperrors.CodeInvalidCredentials, "invalid credentials")
	}

	if g.cfg.RequireConfirmed && !user.EmailVerified {
		return nil, apperrors.Coded(apperrors.CodeUnconfirmed, "email not confirmed")
	}

	session, err := g.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Msg("gateway login succeeded")

	return &Result{User: user, Session: session}, nil
}

func (g *Local) Signup(ctx context.Context, profile Profile) (*Result, error) {
	if err := validateEmail(profile.Email); err != nil {
		return nil, err
	}
	if len(profile.Password) < minPasswordLength {
		return nil, apperrors.CodedField(apperrors.CodeWeakPassword, "password", "password too short")
	}

	existing, err := g.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "identity lookup failed", err)
	}
	if existing != nil {
		return nil, apperrors.CodedField(apperrors.CodeEmailTaken, "email", "email already registered")
	}

	hash, err := util.HashPassword(profile.Password)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeUnknown, "hash password", err)
	}

	user, err := g.accounts.CreateAccount(ctx, model.CreateUserParams{
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		Role:        profile.Role,
		PhoneNumber: profile.PhoneNumber,
	}, hash)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "create account failed", err)
	}

	if g.cfg.RequireConfirmed {
		// Account exists but cannot authenticate until confirmed.
		return &Result{User: user, RequiresConfirmation: true}, nil
	}

	session, err := g.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Msg("gateway signup succeeded")

	return &Result{User: user, Session: session}, nil
}

// Logout revokes every refresh token for the account, not just the
// current one, so no sibling session survives an explicit sign-out.
func (g *Local) Logout(ctx context.Context) error {
	g.mu.Lock()
	current := g.current
	g.current = nil
	g.mu.Unlock()

	if current == nil {
		return nil
	}

	if err := g.tokens.DeleteByUserID(ctx, current.UserID); err != nil {
		return apperrors.CodedWrap(apperrors.CodeNetwork, "revoke refresh tokens failed", err)
	}
	return nil
}

func (g *Local) GetSession(_ context.Context) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current == nil {
		return nil, nil
	}
	copied := *g.current
	return &copied, nil
}

func (g *Local) RefreshSession(ctx context.Context) (*Result, error) {
	g.mu.Lock()
	current := g.current
	g.mu.Unlock()

	if current == nil {
		return nil, apperrors.Coded(apperrors.CodeSessionInvalid, "no session to refresh")
	}

	row, err := g.tokens.FindByTokenHash(ctx, util.HashToken(current.RefreshToken))
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "refresh token lookup failed", err)
	}
	if row == nil {
		return nil, apperrors.Coded(apperrors.CodeSessionExpired, "refresh token expired or revoked")
	}

	user, err := g.users.FindByID(ctx, row.UserID)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "identity lookup failed", err)
	}
	if user == nil {
		return nil, apperrors.Coded(apperrors.CodeSessionInvalid, "session principal no longer exists")
	}

	// Rotate: revoke the old refresh token before issuing the new pair.
	if err := g.tokens.DeleteByTokenHash(ctx, row.TokenHash); err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "revoke refresh token failed", err)
	}

	session, err := g.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("userId", user.ID).Time("expiresAt", session.ExpiresAt).Msg("session refreshed")

	return &Result{User: user, Session: session}, nil
}

func (g *Local) ValidateAndRefreshSession(ctx context.Context) (*Result, error) {
	g.mu.Lock()
	current := g.current
	g.mu.Unlock()

	if current == nil {
		return nil, apperrors.Coded(apperrors.CodeSessionInvalid, "no active session")
	}

	if current.Remaining(g.now()) < g.cfg.RefreshThreshold {
		return g.RefreshSession(ctx)
	}

	userID, err := g.parseAccessToken(current.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "identity lookup failed", err)
	}
	if user == nil {
		return nil, apperrors.Coded(apperrors.CodeSessionInvalid, "session principal no longer exists")
	}

	copied := *current
	return &Result{User: user, Session: &copied}, nil
}

// ----------------------------------------------------------------------

func (g *Local) issueSession(ctx context.Context, userID string) (*Session, error) {
	now := g.now()
	expiresAt := now.Add(g.cfg.AccessTokenTTL)

	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(g.cfg.TokenSecret))
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeUnknown, "sign access token", err)
	}

	refreshToken, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeUnknown, "generate refresh token", err)
	}

	if _, err := g.tokens.Create(ctx, model.CreateRefreshTokenParams{
		UserID:    userID,
		TokenHash: util.HashToken(refreshToken),
		ExpiresAt: now.Add(g.cfg.RefreshTokenTTL),
	}); err != nil {
		return nil, apperrors.CodedWrap(apperrors.CodeNetwork, "persist refresh token failed", err)
	}

	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UserID:       userID,
	}

	g.mu.Lock()
	g.current = session
	g.mu.Unlock()

	copied := *session
	return &copied, nil
}

func (g *Local) parseAccessToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(g.cfg.TokenSecret), nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil {
		return "", apperrors.CodedWrap(apperrors.CodeSessionExpired, "access token invalid", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperrors.Coded(apperrors.CodeSessionInvalid, "access token claims malformed")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", apperrors.Coded(apperrors.CodeSessionInvalid, "access token missing subject")
	}
	return sub, nil
}

// ChangePassword verifies the current password before rotating the
// stored hash. All refresh tokens for the account are revoked, then the
// caller's session is reissued so only the caller survives the change.
func (g *Local) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	g.mu.Lock()
	current := g.current
	g.mu.Unlock()

	if current == nil {
		return apperrors.Coded(apperrors.CodeSessionInvalid, "no active session")
	}
	if len(newPassword) < minPasswordLength {
		return apperrors.CodedField(apperrors.CodeWeakPassword, "newPassword", "password too short")
	}

	cred, err := g.creds.FindByUserID(ctx, current.UserID)
	if err != nil {
		return apperrors.CodedWrap(apperrors.CodeNetwork, "credential lookup failed", err)
	}
	if cred == nil || !util.CheckPasswordHash(currentPassword, cred.PasswordHash) {
		return apperrors.CodedField(apperrors.CodeInvalidCredentials, "currentPassword", "current password is incorrect")
	}

	hash, err := util.HashPassword(newPassword)
	if err != nil {
		return apperrors.CodedWrap(apperrors.CodeUnknown, "hash password", err)
	}
	if err := g.creds.UpdateHash(ctx, current.UserID, hash); err != nil {
		return apperrors.CodedWrap(apperrors.CodeNetwork, "update credential failed", err)
	}
	if err := g.tokens.DeleteByUserID(ctx, current.UserID); err != nil {
		return apperrors.CodedWrap(apperrors.CodeNetwork, "revoke refresh tokens failed", err)
	}

	if _, err := g.issueSession(ctx, current.UserID); err != nil {
		return err
	}

	log.Info().Str("userId", current.UserID).Msg("password changed, sibling sessions revoked")
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.CodedField(apperrors.CodeMissingRequired, "email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperrors.CodedField(apperrors.CodeInvalidEmail, "email", "email is malformed")
	}
	return nil
}
