package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockDeleter struct {
	mu      sync.Mutex
	calls   int
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.deleted, m.err
}

func (m *mockDeleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCleanupJob(t *testing.T) {
	t.Run("sweeps on each tick", func(t *testing.T) {
		deleter := &mockDeleter{deleted: 3}
		job := &CleanupJob{
			tokens:   deleter,
			interval: 10 * time.Millisecond,
			done:     make(chan struct{}),
		}

		job.Start()
		defer job.Stop()

		assert.Eventually(t, func() bool {
			return deleter.callCount() >= 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("errors do not stop the loop", func(t *testing.T) {
		deleter := &mockDeleter{err: assert.AnError}
		job := &CleanupJob{
			tokens:   deleter,
			interval: 10 * time.Millisecond,
			done:     make(chan struct{}),
		}

		job.Start()
		defer job.Stop()

		assert.Eventually(t, func() bool {
			return deleter.callCount() >= 2
		}, time.Second, 5*time.Millisecond)
	})
}
