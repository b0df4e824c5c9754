// Package guard provides the route protection middleware: Public routes
// bounce authenticated sessions away, Private routes demand a live
// session, and Security routes add a fresh gateway verification.
package guard

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paylite/session-server/internal/broadcast"
	"github.com/paylite/session-server/internal/config"
	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/gateway"
	"github.com/paylite/session-server/internal/httputil"
	"github.com/paylite/session-server/internal/lifecycle"
	"github.com/paylite/session-server/internal/store"
)

// WarningHeader carries the minutes remaining when a request lands
// inside the expiry warning window.
const WarningHeader = "X-Session-Expires-In-Minutes"

type Options struct {
	LoginPath     string
	HomePath      string
	VerifyRetries int
	VerifyDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.HomePath == "" {
		o.HomePath = "/"
	}
	if o.VerifyRetries == 0 {
		o.VerifyRetries = config.SecurityGuardMaxRetries
	}
	if o.VerifyDelay == 0 {
		o.VerifyDelay = config.SecurityGuardRetryDelay
	}
	return o
}

type Guard struct {
	store   *store.Store
	manager *lifecycle.Manager
	gw      gateway.Gateway
	broker  broadcast.Broker
	opts    Options
	sub     *broadcast.Subscriber
}

// New builds the guard set and starts watching the expiry broadcast so
// forced logouts from other processes clear this one's state too.
func New(st *store.Store, mgr *lifecycle.Manager, gw gateway.Gateway, broker broadcast.Broker, opts Options) *Guard {
	g := &Guard{
		store:   st,
		manager: mgr,
		gw:      gw,
		broker:  broker,
		opts:    opts.withDefaults(),
		sub:     broker.Subscribe(),
	}
	go g.watch()
	return g
}

func (g *Guard) watch() {
	for {
		select {
		case <-g.sub.Done:
			return
		case event := <-g.sub.Events:
			if g.store.State().IsAuthenticated {
				log.Info().Str("eventId", event.ID).Str("reason", event.Reason).Msg("expiry broadcast received, clearing session")
				g.store.SessionExpired(context.Background())
			}
		}
	}
}

// Close stops the broadcast watcher.
func (g *Guard) Close() {
	g.broker.Unsubscribe(g.sub)
}

// Public serves the wrapped handler to unauthenticated visitors and
// redirects live sessions to their destination. Guards never cause
// logout on their own.
func (g *Guard) Public(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := g.manager.Initialize(r.Context())
		if err != nil {
			if ce := apperrors.Classify(err); !ce.Recoverable {
				g.writeUnavailable(w, ce)
				return
			}
			// Public content stays reachable while restoration can still
			// be retried.
			log.Warn().Err(err).Msg("initialization failed on public route")
			next.ServeHTTP(w, r)
			return
		}

		if res.Authenticated && g.manager.CheckSession(r.Context()).Authenticated {
			http.Redirect(w, r, g.sanitizeRedirect(r.URL.Query().Get("redirect")), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Private demands a live, unexpired session. Unauthenticated requests
// are redirected to login with the original destination preserved;
// initialization failures are terminal and retryable.
func (g *Guard) Private(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := g.manager.Initialize(r.Context()); err != nil {
			g.writeUnavailable(w, err)
			return
		}

		check := g.manager.CheckSession(r.Context())
		if !check.Authenticated {
			g.redirectToLogin(w, r)
			return
		}
		if check.Warning != nil {
			w.Header().Set(WarningHeader, strconv.Itoa(check.Warning.RemainingMinutes))
		}

		next.ServeHTTP(w, r)
	})
}

// Security layers a fresh gateway verification on top of Private for
// routes that move money or change credentials.
func (g *Guard) Security(next http.Handler) http.Handler {
	return g.Private(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.verify(r.Context()); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("session verification failed on security route")
			g.writeUnavailable(w, err)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// verify round-trips to the gateway, retrying transient failures a
// bounded number of times with fixed spacing.
func (g *Guard) verify(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= g.opts.VerifyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.opts.VerifyDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err = g.gw.ValidateAndRefreshSession(ctx); err == nil {
			return nil
		}
	}
	return err
}

func (g *Guard) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := g.opts.LoginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

// sanitizeRedirect allows only same-site absolute paths; anything else
// falls back to home.
func (g *Guard) sanitizeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return g.opts.HomePath
	}
	return raw
}

// writeUnavailable reports a terminal guard failure the caller may
// retry.
func (g *Guard) writeUnavailable(w http.ResponseWriter, err error) {
	ce := apperrors.Classify(err)
	httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
		Error:       ce.Message,
		Code:        ce.Code,
		Category:    ce.Category,
		Recoverable: true,
		Suggestions: []string{"Please try again in a moment"},
	})
}
