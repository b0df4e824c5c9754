// Package handler exposes the session lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/gateway"
	"github.com/paylite/session-server/internal/httputil"
	"github.com/paylite/session-server/internal/lifecycle"
	"github.com/paylite/session-server/internal/model"
	"github.com/paylite/session-server/internal/store"
)

// PasswordChanger is the credential rotation capability of the gateway.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, currentPassword, newPassword string) error
}

type AuthHandler struct {
	manager   *lifecycle.Manager
	passwords PasswordChanger
}

func NewAuthHandler(manager *lifecycle.Manager, passwords PasswordChanger) *AuthHandler {
	return &AuthHandler{manager: manager, passwords: passwords}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Post("/signup", h.Signup)
	r.Post("/logout", h.Logout)
	r.Get("/session", h.Session)
	r.Post("/session/extend", h.Extend)
	r.Post("/password", h.ChangePassword)
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Role        string `json:"role"`
	PhoneNumber string `json:"phoneNumber"`
}

// sessionResponse is the client-facing view of the auth state. Token
// material never appears here.
type sessionResponse struct {
	User                 *model.User `json:"user"`
	IsAuthenticated      bool        `json:"isAuthenticated"`
	SessionInitialized   bool        `json:"sessionInitialized"`
	LastLoginTime        int64       `json:"lastLoginTime,omitempty"`
	RemainingMinutes     int         `json:"remainingMinutes,omitempty"`
	RequiresConfirmation bool        `json:"requiresConfirmation,omitempty"`
}

func toSessionResponse(state store.AuthState, check lifecycle.CheckResult) sessionResponse {
	resp := sessionResponse{
		User:               state.User,
		IsAuthenticated:    state.IsAuthenticated,
		SessionInitialized: state.SessionInitialized,
	}
	if !state.LastLoginTime.IsZero() {
		resp.LastLoginTime = state.LastLoginTime.UnixMilli()
	}
	if check.Authenticated {
		resp.RemainingMinutes = int(check.Remaining.Minutes())
	}
	return resp
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeMissingRequired, "invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, apperrors.CodedField(apperrors.CodeMissingRequired, "email", "email and password are required"))
		return
	}

	state, err := h.manager.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	check := h.manager.CheckSession(r.Context())
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(*state, check))
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeMissingRequired, "invalid request body"))
		return
	}

	role := model.AccountRole(req.Role)
	if req.Role == "" {
		role = model.RolePersonal
	}

	state, pending, err := h.manager.Signup(r.Context(), gateway.Profile{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        role,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	check := h.manager.CheckSession(r.Context())
	resp := toSessionResponse(*state, check)
	resp.RequiresConfirmation = pending
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.manager.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the current auth state, initializing on first call.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	if _, err := h.manager.Initialize(r.Context()); err != nil {
		log.Warn().Err(err).Msg("initialization failed on session read")
		httputil.WriteError(w, err)
		return
	}

	check := h.manager.CheckSession(r.Context())
	state := h.manager.State()
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(state, check))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword rotates the credential and revokes every other session
// for the account.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if !h.manager.State().IsAuthenticated {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeSessionInvalid, "no active session"))
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeMissingRequired, "invalid request body"))
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeMissingRequired, "current and new password are required"))
		return
	}

	if err := h.passwords.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Extend restarts the expiration window in response to the expiry
// warning.
func (h *AuthHandler) Extend(w http.ResponseWriter, r *http.Request) {
	if !h.manager.State().IsAuthenticated {
		httputil.WriteError(w, apperrors.Coded(apperrors.CodeSessionInvalid, "no active session to extend"))
		return
	}

	if err := h.manager.Extend(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}

	check := h.manager.CheckSession(r.Context())
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(h.manager.State(), check))
}
