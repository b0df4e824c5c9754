// Package store holds the single authoritative auth state record. Every
// other component reads it; only the mutation methods here write it.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/model"
)

// AuthState is the one session record per running instance.
type AuthState struct {
	User               *model.User
	IsAuthenticated    bool
	SessionInitialized bool
	LastLoginTime      time.Time
	LastSessionCheck   time.Time
	Loading            bool
	LoadingMessage     string
	Err                *apperrors.ClassifiedError
	SessionRestoredAt  time.Time
}

type ChangeKind string

const (
	ChangeLoading        ChangeKind = "loading"
	ChangeLoginSuccess   ChangeKind = "login_success"
	ChangeLoginFailure   ChangeKind = "login_failure"
	ChangeSignupSuccess  ChangeKind = "signup_success"
	ChangeSignupFailure  ChangeKind = "signup_failure"
	ChangeLogout         ChangeKind = "logout"
	ChangeSessionExpired ChangeKind = "session_expired"
	ChangeInitialized    ChangeKind = "initialized"
	ChangeSessionCheck   ChangeKind = "session_check"
)

type Change struct {
	Kind  ChangeKind
	State AuthState
}

type subscriber struct {
	ch chan Change
}

// Store applies mutations in dispatch order under one mutex and mirrors
// the durable subset to its Persister after each one.
type Store struct {
	mu          sync.Mutex
	state       AuthState
	persister   Persister
	subscribers map[*subscriber]bool
	now         func() time.Time
	maxAge      time.Duration
}

func New(persister Persister) *Store {
	return &Store{
		persister:   persister,
		subscribers: make(map[*subscriber]bool),
		now:         time.Now,
	}
}

// WithClock overrides the store clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithMaxAge bounds how old a persisted snapshot may be before
// Rehydrate discards it. Zero means no bound.
func (s *Store) WithMaxAge(maxAge time.Duration) *Store {
	s.maxAge = maxAge
	return s
}

// Rehydrate seeds the in-memory state from the durable snapshot. Any
// read or parse failure is treated as no prior session: the store fails
// open to unauthenticated, never closed to a corrupt authenticated state.
// A snapshot older than the configured max age is discarded and purged
// rather than believed. SessionInitialized is deliberately not carried
// over; a fresh process must run cold-start restoration before trusting
// the snapshot.
func (s *Store) Rehydrate(ctx context.Context) {
	snap, err := s.persister.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("auth snapshot unreadable, starting unauthenticated")
		return
	}
	if snap == nil {
		return
	}
	if !snap.IsAuthenticated || snap.User == nil || snap.LastLoginTime <= 0 {
		return
	}

	lastLogin := time.UnixMilli(snap.LastLoginTime)
	if s.maxAge > 0 && s.now().Sub(lastLogin) > s.maxAge {
		log.Info().Time("lastLoginTime", lastLogin).Msg("persisted session expired, starting unauthenticated")
		if err := s.persister.Purge(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to purge stale auth snapshot")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.User = snap.User
	s.state.IsAuthenticated = true
	s.state.LastLoginTime = lastLogin
	log.Info().Str("userId", snap.User.ID).Msg("auth state rehydrated")
}

// State returns a copy of the current record.
func (s *Store) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener for state changes. The returned cancel
// function unsubscribes deterministically and closes the channel.
func (s *Store) Subscribe() (<-chan Change, func()) {
	sub := &subscriber{ch: make(chan Change, 16)}

	s.mu.Lock()
	s.subscribers[sub] = true
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subscribers[sub] {
			delete(s.subscribers, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// ----------------------------------------------------------------------
// Mutations. Each is a pure transform of the previous value applied
// under the mutex, then persisted (or purged) and broadcast.
// ----------------------------------------------------------------------

func (s *Store) SetLoading(ctx context.Context, message string) {
	s.apply(ctx, ChangeLoading, func(st *AuthState) {
		st.Loading = true
		st.LoadingMessage = message
		st.Err = nil
	})
}

// LoginSuccess records an authenticated principal. A non-zero restoredAt
// marks the session as originating from cold-start restore rather than a
// fresh login. LastLoginTime never moves backward while authenticated.
func (s *Store) LoginSuccess(ctx context.Context, user *model.User, restoredAt time.Time) {
	now := s.now()
	s.apply(ctx, ChangeLoginSuccess, func(st *AuthState) {
		st.User = user
		st.IsAuthenticated = true
		if now.After(st.LastLoginTime) {
			st.LastLoginTime = now
		}
		st.SessionRestoredAt = restoredAt
		st.Loading = false
		st.LoadingMessage = ""
		st.Err = nil
	})
}

func (s *Store) LoginFailure(ctx context.Context, ce *apperrors.ClassifiedError) {
	s.apply(ctx, ChangeLoginFailure, func(st *AuthState) {
		st.User = nil
		st.IsAuthenticated = false
		st.Loading = false
		st.LoadingMessage = ""
		st.Err = ce
	})
}

func (s *Store) SignupSuccess(ctx context.Context, user *model.User) {
	now := s.now()
	s.apply(ctx, ChangeSignupSuccess, func(st *AuthState) {
		st.Loading = false
		st.LoadingMessage = ""
		st.Err = nil
		if user != nil {
			st.User = user
			st.IsAuthenticated = true
			if now.After(st.LastLoginTime) {
				st.LastLoginTime = now
			}
		}
	})
}

func (s *Store) SignupFailure(ctx context.Context, ce *apperrors.ClassifiedError) {
	s.apply(ctx, ChangeSignupFailure, func(st *AuthState) {
		st.Loading = false
		st.LoadingMessage = ""
		st.Err = ce
	})
}

// Logout clears every session field and purges the durable copy.
func (s *Store) Logout(ctx context.Context) {
	s.applyAndPurge(ctx, ChangeLogout)
}

// SessionExpired is logout triggered by expiration detection; the state
// transform is identical but listeners can distinguish the cause.
func (s *Store) SessionExpired(ctx context.Context) {
	s.applyAndPurge(ctx, ChangeSessionExpired)
}

func (s *Store) SetInitialized(ctx context.Context, initialized bool) {
	s.apply(ctx, ChangeInitialized, func(st *AuthState) {
		st.SessionInitialized = initialized
		st.Loading = false
		st.LoadingMessage = ""
	})
}

func (s *Store) UpdateSessionCheck(ctx context.Context) {
	now := s.now()
	s.apply(ctx, ChangeSessionCheck, func(st *AuthState) {
		st.LastSessionCheck = now
	})
}

// ----------------------------------------------------------------------

func (s *Store) apply(ctx context.Context, kind ChangeKind, fn func(*AuthState)) {
	s.mu.Lock()
	fn(&s.state)
	state := s.state
	s.mu.Unlock()

	s.notify(Change{Kind: kind, State: state})
	s.persist(ctx, state)
}

func (s *Store) applyAndPurge(ctx context.Context, kind ChangeKind) {
	s.mu.Lock()
	s.state = AuthState{}
	state := s.state
	s.mu.Unlock()

	s.notify(Change{Kind: kind, State: state})
	if err := s.persister.Purge(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to purge auth snapshot")
	}
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		select {
		case sub.ch <- change:
		default:
			log.Warn().Str("kind", string(change.Kind)).Msg("store listener buffer full, dropping change")
		}
	}
}

func (s *Store) persist(ctx context.Context, state AuthState) {
	snap := Snapshot{
		User:               state.User,
		IsAuthenticated:    state.IsAuthenticated,
		SessionInitialized: state.SessionInitialized,
	}
	if !state.LastLoginTime.IsZero() {
		snap.LastLoginTime = state.LastLoginTime.UnixMilli()
	}

	if err := s.persister.Save(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("failed to persist auth snapshot")
	}
}
