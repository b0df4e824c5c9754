package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("coded errors map directly", func(t *testing.T) {
		err := Coded(CodeInvalidCredentials, "bad login")
		assert.Equal(t, CodeInvalidCredentials, Normalize(err))
	})

	t.Run("wrapped coded errors map directly", func(t *testing.T) {
		err := fmt.Errorf("login: %w", Coded(CodeEmailTaken, "dup"))
		assert.Equal(t, CodeEmailTaken, Normalize(err))
	})

	t.Run("deadline exceeded maps to timeout", func(t *testing.T) {
		assert.Equal(t, CodeTimeout, Normalize(context.DeadlineExceeded))
	})

	t.Run("raw provider messages map via substring table", func(t *testing.T) {
		tests := []struct {
			raw  string
			code Code
		}{
			{"Invalid Credentials supplied", CodeInvalidCredentials},
			{"user already registered", CodeEmailTaken},
			{"account not confirmed", CodeUnconfirmed},
			{"rate limit exceeded", CodeRateLimited},
			{"network failure", CodeNetwork},
			{"dial tcp: connection refused", CodeNetwork},
			{"session expired", CodeSessionExpired},
			{"permission denied", CodeForbidden},
		}
		for _, tc := range tests {
			assert.Equal(t, tc.code, Normalize(errors.New(tc.raw)), tc.raw)
		}
	})

	t.Run("unrecognized input maps to unknown", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, Normalize(errors.New("quux happened")))
	})

	t.Run("nil maps to unknown", func(t *testing.T) {
		assert.Equal(t, CodeUnknown, Normalize(nil))
	})
}

func TestClassify(t *testing.T) {
	t.Run("invalid credentials is recoverable authentication", func(t *testing.T) {
		ce := Classify(Coded(CodeInvalidCredentials, "invalid credentials"))
		assert.Equal(t, CategoryAuthentication, ce.Category)
		assert.Equal(t, SeverityMedium, ce.Severity)
		assert.True(t, ce.Recoverable)
		assert.NotEmpty(t, ce.Suggestions)
	})

	t.Run("session expired is not recoverable", func(t *testing.T) {
		ce := Classify(Coded(CodeSessionExpired, "session expired"))
		assert.Equal(t, CategorySession, ce.Category)
		assert.Equal(t, SeverityHigh, ce.Severity)
		assert.False(t, ce.Recoverable)
	})

	t.Run("forbidden is critical authorization", func(t *testing.T) {
		ce := Classify(Coded(CodeForbidden, "nope"))
		assert.Equal(t, CategoryAuthorization, ce.Category)
		assert.Equal(t, SeverityCritical, ce.Severity)
		assert.False(t, ce.Recoverable)
	})

	t.Run("unknown errors default to recoverable system", func(t *testing.T) {
		ce := Classify(errors.New("totally unexpected"))
		assert.Equal(t, CodeUnknown, ce.Code)
		assert.Equal(t, CategorySystem, ce.Category)
		assert.Equal(t, SeverityMedium, ce.Severity)
		assert.True(t, ce.Recoverable)
		assert.Equal(t, "totally unexpected", ce.OriginalMessage)
		assert.NotEqual(t, "totally unexpected", ce.Message)
	})

	t.Run("rate limited carries retry-after", func(t *testing.T) {
		ce := Classify(RateLimited(30 * time.Second))
		assert.Equal(t, CodeRateLimited, ce.Code)
		assert.Equal(t, 30*time.Second, ce.RetryAfter)
	})

	t.Run("field scoped validation carries field", func(t *testing.T) {
		ce := Classify(CodedField(CodeInvalidEmail, "email", "bad email"))
		assert.Equal(t, "email", ce.Field)
		assert.Equal(t, CategoryValidation, ce.Category)
	})

	t.Run("already classified errors pass through", func(t *testing.T) {
		first := Classify(Coded(CodeNetwork, "down"))
		second := Classify(first)
		assert.Same(t, first, second)
	})

	t.Run("classified error unwraps to cause", func(t *testing.T) {
		cause := Coded(CodeNetwork, "down")
		ce := Classify(cause)
		assert.Equal(t, cause, ce.Unwrap())
	})

	t.Run("every code has a table row", func(t *testing.T) {
		codes := []Code{
			CodeInvalidCredentials, CodeEmailTaken, CodeUnconfirmed,
			CodeWeakPassword, CodeInvalidEmail, CodeMissingRequired,
			CodeRateLimited, CodeNetwork, CodeTimeout,
			CodeSessionExpired, CodeSessionInvalid, CodeForbidden, CodeUnknown,
		}
		for _, code := range codes {
			_, ok := table[code]
			assert.True(t, ok, "missing table row for %s", code)
		}
	})
}

func TestRedact(t *testing.T) {
	t.Run("masks password-like pairs", func(t *testing.T) {
		msg := Redact("login failed password=hunter2 for user")
		assert.NotContains(t, msg, "hunter2")
		assert.Contains(t, msg, "[REDACTED]")
	})

	t.Run("masks tokens", func(t *testing.T) {
		msg := Redact("refresh token: abc123def")
		assert.NotContains(t, msg, "abc123def")
	})

	t.Run("leaves plain messages untouched", func(t *testing.T) {
		assert.Equal(t, "connection refused", Redact("connection refused"))
	})
}

func TestRetryLedger(t *testing.T) {
	t.Run("allows attempts within budget", func(t *testing.T) {
		l := NewRetryLedger(2)
		assert.True(t, l.Attempt("login"))
		assert.True(t, l.Attempt("login"))
		assert.False(t, l.Attempt("login"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewRetryLedger(1)
		require.True(t, l.Attempt("a"))
		assert.True(t, l.Attempt("b"))
	})

	t.Run("reset restores budget", func(t *testing.T) {
		l := NewRetryLedger(1)
		require.True(t, l.Attempt("a"))
		require.False(t, l.Attempt("a"))
		l.Reset("a")
		assert.True(t, l.Attempt("a"))
		assert.Equal(t, 1, l.Attempts("a"))
	})
}
