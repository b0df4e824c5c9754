package lifecycle

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	apperrors "github.com/paylite/session-server/internal/errors"
	"github.com/paylite/session-server/internal/gateway"
)

// withRetry runs a gateway call under exponential backoff. Delays double
// from BaseDelay per attempt, up to MaxRetries retries after the first
// try. Only transient failures are retried; everything else returns on
// the first attempt.
func (m *Manager) withRetry(ctx context.Context, op string, fn func(context.Context) (*gateway.Result, error)) (*gateway.Result, error) {
	var result *gateway.Result

	backoff := retry.WithMaxRetries(uint64(m.cfg.MaxRetries), retry.NewExponential(m.cfg.BaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err == nil {
			m.ledger.Reset(op)
			result = res
			return nil
		}

		ce := apperrors.Classify(err)
		if !isRetryable(ce) {
			return ce
		}

		m.ledger.Attempt(op)
		log.Debug().Str("op", op).Str("code", string(ce.Code)).Msg("transient gateway failure, will retry")
		return retry.RetryableError(ce)
	})
	if err != nil {
		log.Warn().Str("op", op).Int("attempts", m.ledger.Attempts(op)).Err(err).Msg("gateway call failed")
		return nil, err
	}
	return result, nil
}

// isRetryable limits backoff to transient failures. Rate limits carry
// their own retryAfter and must not be hammered; authorization,
// validation, and authentication failures will not change on retry.
func isRetryable(ce *apperrors.ClassifiedError) bool {
	if ce.RetryAfter > 0 || ce.Code == apperrors.CodeRateLimited {
		return false
	}
	switch ce.Category {
	case apperrors.CategoryNetwork:
		return true
	case apperrors.CategorySystem:
		return ce.Recoverable
	default:
		return false
	}
}
