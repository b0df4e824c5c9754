package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paylite/session-server/internal/broadcast"
)

const monitorTickTimeout = 30 * time.Second

// StartMonitor launches the periodic session check loop. Safe to call
// once per manager; a second call while running is a no-op.
func (m *Manager) StartMonitor() {
	m.monMu.Lock()
	defer m.monMu.Unlock()

	if m.monitorDone != nil {
		return
	}
	m.monitorDone = make(chan struct{})

	log.Info().Dur("interval", m.cfg.MonitorInterval).Msg("starting session monitor")
	go m.run(m.monitorDone)
}

// StopMonitor halts the loop. The current tick, if any, finishes.
func (m *Manager) StopMonitor() {
	m.monMu.Lock()
	defer m.monMu.Unlock()

	if m.monitorDone == nil {
		return
	}
	close(m.monitorDone)
	m.monitorDone = nil
	log.Info().Msg("session monitor stopped")
}

func (m *Manager) run(done chan struct{}) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs one monitor pass: the expiration formula first, then a
// gateway revalidation under the retry policy. Overlapping passes are
// skipped rather than queued.
func (m *Manager) Tick() {
	m.monMu.Lock()
	if m.checking {
		m.monMu.Unlock()
		log.Debug().Msg("session check already in flight, skipping tick")
		return
	}
	m.checking = true
	m.monMu.Unlock()

	defer func() {
		m.monMu.Lock()
		m.checking = false
		m.monMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), monitorTickTimeout)
	defer cancel()

	state := m.store.State()
	if !state.SessionInitialized || !state.IsAuthenticated {
		return
	}

	check := m.checkExpiry(ctx)
	if !check.Authenticated {
		return
	}
	if check.Remaining <= m.cfg.WarningThreshold {
		log.Warn().Dur("remaining", check.Remaining).Msg("session expiring soon")
	}

	if _, err := m.withRetry(ctx, "validate", m.gw.ValidateAndRefreshSession); err != nil {
		log.Warn().Err(err).Msg("session validation failed after retries, forcing logout")
		m.forceLogout(ctx, broadcast.ReasonValidationFailed)
		return
	}

	m.store.UpdateSessionCheck(ctx)
}
