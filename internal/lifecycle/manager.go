// Package lifecycle orchestrates the session: cold-start restoration,
// periodic revalidation, expiry detection and warning, extension, and
// forced logout with the process-wide broadcast.
package lifecycle

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paylite/session-server/internal/broadcast"
	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/gateway"
	"github.com/paylite/session-server/internal/store"
)

type Config struct {
	SessionDuration  time.Duration
	WarningThreshold time.Duration
	MonitorInterval  time.Duration
	MaxRetries       int
	BaseDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionDuration == 0 {
		c.SessionDuration = 7 * 24 * time.Hour
	}
	if c.WarningThreshold == 0 {
		c.WarningThreshold = 30 * time.Minute
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// InitResult is what initialization reports to callers.
type InitResult struct {
	Authenticated bool
	Restored      bool
}

// Warning is the one-shot pre-expiry notice. Its two resolutions are
// Extend and Logout.
type Warning struct {
	RemainingMinutes int
}

// CheckResult is the outcome of an expiration check.
type CheckResult struct {
	Authenticated bool
	Remaining     time.Duration
	Warning       *Warning
}

type Manager struct {
	store  *store.Store
	gw     gateway.Gateway
	broker broadcast.Broker
	cfg    Config
	now    func() time.Time
	ledger *apperrors.RetryLedger

	// initMu guards the single-flight initialization. Concurrent callers
	// wait on initInFlight and observe one shared result; exactly one
	// gateway restore runs per process lifetime.
	initMu       sync.Mutex
	initInFlight chan struct{}
	initResult   InitResult
	initErr      error

	warnMu sync.Mutex
	warned bool

	monMu       sync.Mutex
	monitorDone chan struct{}
	checking    bool
}

func NewManager(st *store.Store, gw gateway.Gateway, broker broadcast.Broker, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		store:  st,
		gw:     gw,
		broker: broker,
		cfg:    cfg,
		now:    time.Now,
		ledger: apperrors.NewRetryLedger(cfg.MaxRetries),
	}
}

// WithClock overrides the manager clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// State returns a copy of the current auth state.
func (m *Manager) State() store.AuthState {
	return m.store.State()
}

// Initialize performs cold-start session restoration. Idempotent: once
// the store reports initialized it short-circuits, and concurrent
// callers share a single in-flight restore.
func (m *Manager) Initialize(ctx context.Context) (InitResult, error) {
	m.initMu.Lock()
	if m.store.State().SessionInitialized {
		authenticated := m.store.State().IsAuthenticated
		m.initMu.Unlock()
		return InitResult{Authenticated: authenticated}, nil
	}
	if m.initInFlight != nil {
		ch := m.initInFlight
		m.initMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return InitResult{}, ctx.Err()
		}

		m.initMu.Lock()
		res, err := m.initResult, m.initErr
		m.initMu.Unlock()
		return res, err
	}
	ch := make(chan struct{})
	m.initInFlight = ch
	m.initMu.Unlock()

	res, err := m.restore(ctx)

	m.initMu.Lock()
	m.initResult, m.initErr = res, err
	m.initInFlight = nil
	close(ch)
	m.initMu.Unlock()

	return res, err
}

func (m *Manager) restore(ctx context.Context) (InitResult, error) {
	m.store.SetLoading(ctx, "Restoring your session...")

	sess, err := m.gw.GetSession(ctx)
	if err != nil {
		// Initialization itself failed; initialized stays false so the
		// caller's retry affordance can run restoration again.
		ce := apperrors.Classify(err)
		m.store.LoginFailure(ctx, ce)
		log.Error().Err(err).Msg("session restore failed")
		return InitResult{}, ce
	}

	if sess == nil {
		// No prior session: clear any stale authenticated state and the
		// durable copy, then mark initialization complete.
		m.store.Logout(ctx)
		m.store.SetInitialized(ctx, true)
		log.Info().Msg("no session to restore")
		return InitResult{Authenticated: false}, nil
	}

	var result *gateway.Result
	if sess.Remaining(m.now()) <= 0 {
		// Expired credentials get exactly one refresh attempt.
		result, err = m.gw.RefreshSession(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("restore refresh failed, forcing logout")
			m.forceLogout(ctx, broadcast.ReasonExpired)
			m.store.SetInitialized(ctx, true)
			return InitResult{Authenticated: false}, nil
		}
	} else {
		// Validate by fetching the current principal.
		result, err = m.gw.ValidateAndRefreshSession(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("restore validation failed, forcing logout")
			m.forceLogout(ctx, broadcast.ReasonValidationFailed)
			m.store.SetInitialized(ctx, true)
			return InitResult{Authenticated: false}, nil
		}
	}

	now := m.now()
	m.store.LoginSuccess(ctx, result.User, now)
	m.store.SetInitialized(ctx, true)
	m.resetWarning()

	log.Info().Str("userId", result.User.ID).Msg("session restored")
	return InitResult{Authenticated: true, Restored: true}, nil
}

// Login authenticates fresh credentials through the gateway.
// Authentication and validation failures surface to the caller and never
// trigger logout.
func (m *Manager) Login(ctx context.Context, email, password string) (*store.AuthState, error) {
	m.store.SetLoading(ctx, "Signing you in...")

	result, err := m.withRetry(ctx, "login", func(ctx context.Context) (*gateway.Result, error) {
		return m.gw.Login(ctx, email, password)
	})
	if err != nil {
		ce := apperrors.Classify(err)
		m.store.LoginFailure(ctx, ce)
		return nil, ce
	}

	m.store.LoginSuccess(ctx, result.User, time.Time{})
	m.store.SetInitialized(ctx, true)
	m.resetWarning()

	state := m.store.State()
	return &state, nil
}

// Signup registers a new account. When the gateway requires
// confirmation the caller gets an unauthenticated state back.
func (m *Manager) Signup(ctx context.Context, profile gateway.Profile) (*store.AuthState, bool, error) {
	m.store.SetLoading(ctx, "Creating your account...")

	result, err := m.withRetry(ctx, "signup", func(ctx context.Context) (*gateway.Result, error) {
		return m.gw.Signup(ctx, profile)
	})
	if err != nil {
		ce := apperrors.Classify(err)
		m.store.SignupFailure(ctx, ce)
		return nil, false, ce
	}

	if result.RequiresConfirmation {
		m.store.SignupSuccess(ctx, nil)
		state := m.store.State()
		return &state, true, nil
	}

	m.store.SignupSuccess(ctx, result.User)
	m.store.SetInitialized(ctx, true)
	m.resetWarning()

	state := m.store.State()
	return &state, false, nil
}

// Logout is the voluntary path: best-effort gateway revocation, then
// clear the store and purge the durable copy.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.gw.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("gateway logout failed, clearing local state anyway")
	}
	m.store.Logout(ctx)
	m.resetWarning()
}

// CheckSession applies the expiration formula. Past expiry it forces
// logout; inside the warning window it claims the one-shot warning for
// the caller.
func (m *Manager) CheckSession(ctx context.Context) CheckResult {
	result := m.checkExpiry(ctx)
	if !result.Authenticated {
		return result
	}

	if result.Remaining <= m.cfg.WarningThreshold {
		m.warnMu.Lock()
		if !m.warned {
			m.warned = true
			result.Warning = &Warning{
				RemainingMinutes: int(math.Ceil(result.Remaining.Minutes())),
			}
		}
		m.warnMu.Unlock()
	}

	return result
}

// checkExpiry applies the expiration formula without touching the
// one-shot warning, so a background pass cannot consume the notice
// meant for an interactive caller.
func (m *Manager) checkExpiry(ctx context.Context) CheckResult {
	state := m.store.State()
	if !state.IsAuthenticated || state.LastLoginTime.IsZero() {
		return CheckResult{Authenticated: false}
	}

	remaining := m.cfg.SessionDuration - m.now().Sub(state.LastLoginTime)
	if remaining <= 0 {
		log.Info().Time("lastLoginTime", state.LastLoginTime).Msg("session expired")
		m.ForceLogout(ctx, broadcast.ReasonExpired)
		return CheckResult{Authenticated: false}
	}

	return CheckResult{Authenticated: true, Remaining: remaining}
}

// Extend refreshes the session in response to the expiry warning. On
// success the warning resets and the expiration window restarts; on
// failure the session is forcibly closed.
func (m *Manager) Extend(ctx context.Context) error {
	result, err := m.withRetry(ctx, "extend", m.gw.RefreshSession)
	if err != nil {
		log.Warn().Err(err).Msg("session extend failed, forcing logout")
		m.ForceLogout(ctx, broadcast.ReasonExpired)
		return apperrors.Classify(err)
	}

	state := m.store.State()
	m.store.LoginSuccess(ctx, result.User, state.SessionRestoredAt)
	m.resetWarning()

	log.Info().Str("userId", result.User.ID).Msg("session extended")
	return nil
}

// ForceLogout clears the store, purges the durable copy, revokes
// gateway credentials best-effort, and broadcasts the expiration so
// independent observers react without polling.
func (m *Manager) ForceLogout(ctx context.Context, reason string) {
	m.forceLogout(ctx, reason)
}

func (m *Manager) forceLogout(ctx context.Context, reason string) {
	if err := m.gw.Logout(ctx); err != nil {
		log.Debug().Err(err).Msg("gateway logout during forced logout failed")
	}

	m.store.SessionExpired(ctx)
	m.resetWarning()

	if err := m.broker.Publish(ctx, broadcast.Event{Reason: reason}); err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("failed to broadcast session expiry")
	}
}

func (m *Manager) resetWarning() {
	m.warnMu.Lock()
	m.warned = false
	m.warnMu.Unlock()
}
