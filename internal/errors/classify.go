package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// classification is one row of the static lookup table.
type classification struct {
	Category    Category
	Severity    Severity
	Message     string
	Field       string
	Recoverable bool
	Suggestions []string
}

// table is the closed mapping from normalized codes to user-facing
// classifications. Adding a Code without a row here means it falls back
// to the CodeUnknown classification.
var table = map[Code]classification{
	CodeInvalidCredentials: {
		Category:    CategoryAuthentication,
		Severity:    SeverityMedium,
		Message:     "The email or password you entered is incorrect.",
		Recoverable: true,
		Suggestions: []string{
			"Double-check your email address and password",
			"Use the password reset link if you have forgotten your password",
		},
	},
	CodeEmailTaken: {
		Category:    CategoryAuthentication,
		Severity:    SeverityLow,
		Message:     "An account with this email already exists.",
		Field:       "email",
		Recoverable: true,
		Suggestions: []string{
			"Sign in instead",
			"Use the password reset link if you have forgotten your password",
		},
	},
	CodeUnconfirmed: {
		Category:    CategoryAuthentication,
		Severity:    SeverityMedium,
		Message:     "Your account has not been confirmed yet.",
		Recoverable: true,
		Suggestions: []string{
			"Check your inbox for the confirmation email",
			"Request a new confirmation email",
		},
	},
	CodeWeakPassword: {
		Category:    CategoryValidation,
		Severity:    SeverityLow,
		Message:     "Your password does not meet the minimum requirements.",
		Field:       "password",
		Recoverable: true,
		Suggestions: []string{
			"Use at least 8 characters with a mix of letters and numbers",
		},
	},
	CodeInvalidEmail: {
		Category:    CategoryValidation,
		Severity:    SeverityLow,
		Message:     "Please enter a valid email address.",
		Field:       "email",
		Recoverable: true,
	},
	CodeMissingRequired: {
		Category:    CategoryValidation,
		Severity:    SeverityLow,
		Message:     "Please fill in all required fields.",
		Recoverable: true,
	},
	CodeRateLimited: {
		Category:    CategorySystem,
		Severity:    SeverityHigh,
		Message:     "Too many attempts. Please wait a moment before trying again.",
		Recoverable: true,
		Suggestions: []string{
			"Wait a few minutes before trying again",
		},
	},
	CodeNetwork: {
		Category:    CategoryNetwork,
		Severity:    SeverityMedium,
		Message:     "We could not reach the server. Check your connection and try again.",
		Recoverable: true,
		Suggestions: []string{
			"Check your internet connection",
			"Try again in a few seconds",
		},
	},
	CodeTimeout: {
		Category:    CategoryNetwork,
		Severity:    SeverityMedium,
		Message:     "The request took too long. Please try again.",
		Recoverable: true,
	},
	CodeSessionExpired: {
		Category:    CategorySession,
		Severity:    SeverityHigh,
		Message:     "Your session has expired. Please sign in again.",
		Recoverable: false,
		Suggestions: []string{
			"Sign in again to continue",
		},
	},
	CodeSessionInvalid: {
		Category:    CategorySession,
		Severity:    SeverityHigh,
		Message:     "Your session is no longer valid. Please sign in again.",
		Recoverable: false,
	},
	CodeForbidden: {
		Category:    CategoryAuthorization,
		Severity:    SeverityCritical,
		Message:     "You do not have permission to perform this action.",
		Recoverable: false,
		Suggestions: []string{
			"Sign in with an account that has the required access",
		},
	},
	CodeUnknown: {
		Category:    CategorySystem,
		Severity:    SeverityMedium,
		Message:     "Something went wrong. Please try again.",
		Recoverable: true,
	},
}

// rawMessagePatterns is the last-resort mapping for errors that arrive as
// plain text from a provider. Sentinel-tagged errors never get here.
var rawMessagePatterns = []struct {
	substr string
	code   Code
}{
	{"invalid credentials", CodeInvalidCredentials},
	{"invalid login", CodeInvalidCredentials},
	{"already registered", CodeEmailTaken},
	{"already exists", CodeEmailTaken},
	{"not confirmed", CodeUnconfirmed},
	{"email not verified", CodeUnconfirmed},
	{"password too short", CodeWeakPassword},
	{"weak password", CodeWeakPassword},
	{"rate limit", CodeRateLimited},
	{"too many requests", CodeRateLimited},
	{"network failure", CodeNetwork},
	{"connection refused", CodeNetwork},
	{"no such host", CodeNetwork},
	{"timeout", CodeTimeout},
	{"deadline exceeded", CodeTimeout},
	{"session expired", CodeSessionExpired},
	{"token expired", CodeSessionExpired},
	{"invalid session", CodeSessionInvalid},
	{"invalid token", CodeSessionInvalid},
	{"forbidden", CodeForbidden},
	{"permission denied", CodeForbidden},
}

// Normalize maps any raw failure onto a canonical Code.
func Normalize(err error) Code {
	if err == nil {
		return CodeUnknown
	}

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rawMessagePatterns {
		if strings.Contains(msg, p.substr) {
			return p.code
		}
	}

	return CodeUnknown
}

// Classify maps a raw failure into a ClassifiedError. Already-classified
// errors pass through unchanged.
func Classify(err error) *ClassifiedError {
	if ce, ok := AsClassified(err); ok {
		return ce
	}

	code := Normalize(err)
	row, ok := table[code]
	if !ok {
		row = table[CodeUnknown]
	}

	ce := &ClassifiedError{
		Code:        code,
		Message:     row.Message,
		Category:    row.Category,
		Severity:    row.Severity,
		Field:       row.Field,
		Recoverable: row.Recoverable,
		Suggestions: row.Suggestions,
		Timestamp:   time.Now(),
		cause:       err,
	}

	if err != nil {
		ce.OriginalMessage = err.Error()
	}

	var coded *codedError
	if errors.As(err, &coded) {
		if coded.field != "" {
			ce.Field = coded.field
		}
		ce.RetryAfter = coded.retryAfter
	}

	log.Debug().
		Str("code", string(code)).
		Str("category", string(ce.Category)).
		Str("severity", string(ce.Severity)).
		Bool("recoverable", ce.Recoverable).
		Str("original", Redact(ce.OriginalMessage)).
		Msg("error classified")

	return ce
}

var sensitivePattern = regexp.MustCompile(`(?i)(password|secret|token|credential)[^\s]*[=:]\s*\S+`)

// Redact masks password-like key/value pairs inside a raw message so the
// classification log never leaks secrets.
func Redact(msg string) string {
	return sensitivePattern.ReplaceAllString(msg, "$1=[REDACTED]")
}
