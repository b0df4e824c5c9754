package errors

import "sync"

// RetryLedger counts recovery attempts per key so callers can cap how
// often a recoverable failure is retried before giving up.
type RetryLedger struct {
	mu       sync.Mutex
	attempts map[string]int
	max      int
}

func NewRetryLedger(max int) *RetryLedger {
	return &RetryLedger{
		attempts: make(map[string]int),
		max:      max,
	}
}

// Attempt records one attempt for key and reports whether the caller is
// still within budget.
func (l *RetryLedger) Attempt(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts[key]++
	return l.attempts[key] <= l.max
}

// Attempts returns the count recorded for key.
func (l *RetryLedger) Attempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[key]
}

// Reset clears the counter for key, typically after a success.
func (l *RetryLedger) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}
