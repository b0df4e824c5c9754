package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paylite/session-server/internal/broadcast"
	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/gateway"
	"github.com/paylite/session-server/internal/httputil"
	"github.com/paylite/session-server/internal/lifecycle"
	"github.com/paylite/session-server/internal/model"
	"github.com/paylite/session-server/internal/store"
)

type stubGateway struct {
	loginFn          func(ctx context.Context, email, password string) (*gateway.Result, error)
	signupFn         func(ctx context.Context, profile gateway.Profile) (*gateway.Result, error)
	changePasswordFn func(ctx context.Context, currentPassword, newPassword string) error
}

func (g *stubGateway) Login(ctx context.Context, email, password string) (*gateway.Result, error) {
	if g.loginFn != nil {
		return g.loginFn(ctx, email, password)
	}
	return &gateway.Result{User: testUser()}, nil
}

func (g *stubGateway) Signup(ctx context.Context, profile gateway.Profile) (*gateway.Result, error) {
	if g.signupFn != nil {
		return g.signupFn(ctx, profile)
	}
	return &gateway.Result{User: testUser()}, nil
}

func (g *stubGateway) Logout(context.Context) error { return nil }

func (g *stubGateway) GetSession(context.Context) (*gateway.Session, error) { return nil, nil }

func (g *stubGateway) RefreshSession(context.Context) (*gateway.Result, error) {
	return &gateway.Result{User: testUser()}, nil
}

func (g *stubGateway) ValidateAndRefreshSession(context.Context) (*gateway.Result, error) {
	return &gateway.Result{User: testUser()}, nil
}

func (g *stubGateway) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if g.changePasswordFn != nil {
		return g.changePasswordFn(ctx, currentPassword, newPassword)
	}
	return nil
}

func testUser() *model.User {
	return &model.User{ID: "user-1", Email: "ada@example.com", DisplayName: "Ada"}
}

func newHandler(t *testing.T, gw *stubGateway) (*AuthHandler, *lifecycle.Manager) {
	t.Helper()

	broker := broadcast.NewLocalBroker()
	t.Cleanup(broker.Close)

	st := store.New(store.NewMemoryPersister())
	mgr := lifecycle.NewManager(st, gw, broker, lifecycle.Config{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	})
	return NewAuthHandler(mgr, gw), mgr
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("returns the session view on success", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})

		rec := postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.IsAuthenticated)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.Greater(t, resp.LastLoginTime, int64(0))
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})

		rec := postJSON(h.Routes(), "/login", `{"email":"ada@example.com"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps invalid credentials to 401", func(t *testing.T) {
		gw := &stubGateway{
			loginFn: func(ctx context.Context, email, password string) (*gateway.Result, error) {
				return nil, apperrors.Coded(apperrors.CodeInvalidCredentials, "invalid login credentials")
			},
		}
		h, _ := newHandler(t, gw)

		rec := postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body httputil.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, apperrors.CodeInvalidCredentials, body.Code)
	})

	t.Run("sets Retry-After on rate limits", func(t *testing.T) {
		gw := &stubGateway{
			loginFn: func(ctx context.Context, email, password string) (*gateway.Result, error) {
				return nil, apperrors.RateLimited(30 * time.Second)
			},
		}
		h, _ := newHandler(t, gw)

		rec := postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	})
}

func TestSignupEndpoint(t *testing.T) {
	t.Run("creates and authenticates", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})

		rec := postJSON(h.Routes(), "/signup", `{"email":"ada@example.com","password":"correct-horse","displayName":"Ada"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.IsAuthenticated)
		assert.False(t, resp.RequiresConfirmation)
	})

	t.Run("reports pending confirmation", func(t *testing.T) {
		gw := &stubGateway{
			signupFn: func(ctx context.Context, profile gateway.Profile) (*gateway.Result, error) {
				return &gateway.Result{RequiresConfirmation: true}, nil
			},
		}
		h, _ := newHandler(t, gw)

		rec := postJSON(h.Routes(), "/signup", `{"email":"ada@example.com","password":"correct-horse"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.False(t, resp.IsAuthenticated)
		assert.True(t, resp.RequiresConfirmation)
	})
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("session read initializes and reports unauthenticated", func(t *testing.T) {
		h, mgr := newHandler(t, &stubGateway{})

		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.False(t, resp.IsAuthenticated)
		assert.True(t, resp.SessionInitialized)
		assert.True(t, mgr.State().SessionInitialized)
	})

	t.Run("logout clears the session", func(t *testing.T) {
		h, mgr := newHandler(t, &stubGateway{})
		postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)

		rec := postJSON(h.Routes(), "/logout", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, mgr.State().IsAuthenticated)
	})

	t.Run("extend requires an active session", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})

		rec := postJSON(h.Routes(), "/session/extend", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("extend restarts the window", func(t *testing.T) {
		h, mgr := newHandler(t, &stubGateway{})
		postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)
		before := mgr.State().LastLoginTime

		rec := postJSON(h.Routes(), "/session/extend", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, mgr.State().LastLoginTime.Before(before))
	})
}

func TestChangePasswordEndpoint(t *testing.T) {
	t.Run("rotates the credential", func(t *testing.T) {
		var gotCurrent, gotNew string
		gw := &stubGateway{
			changePasswordFn: func(_ context.Context, currentPassword, newPassword string) error {
				gotCurrent, gotNew = currentPassword, newPassword
				return nil
			},
		}
		h, _ := newHandler(t, gw)
		postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)

		rec := postJSON(h.Routes(), "/password", `{"currentPassword":"correct-horse","newPassword":"battery-staple"}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "correct-horse", gotCurrent)
		assert.Equal(t, "battery-staple", gotNew)
	})

	t.Run("requires an active session", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})

		rec := postJSON(h.Routes(), "/password", `{"currentPassword":"a","newPassword":"b"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("requires both passwords", func(t *testing.T) {
		h, _ := newHandler(t, &stubGateway{})
		postJSON(h.Routes(), "/login", `{"email":"ada@example.com","password":"correct-horse"}`)

		rec := postJSON(h.Routes(), "/password", `{"currentPassword":"correct-horse"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
