// Package jobs holds background maintenance loops.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paylite/session-server/internal/config"
)

type expiredTokenDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob sweeps expired refresh token rows on an interval.
type CleanupJob struct {
	tokens   expiredTokenDeleter
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(tokens expiredTokenDeleter) *CleanupJob {
	return &CleanupJob{
		tokens:   tokens,
		interval: config.CleanupJobInterval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	log.Info().Dur("interval", j.interval).Msg("starting refresh token cleanup job")
	go j.run()
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("refresh token cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.runCleanup()
		}
	}
}

func (j *CleanupJob) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := j.tokens.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to delete expired refresh tokens")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("expired refresh tokens removed")
	}
}
