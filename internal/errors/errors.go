package errors

import (
	"errors"
	"fmt"
	"time"
)

// Category groups failures by how the caller must react to them.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryNetwork        Category = "network"
	CategorySession        Category = "session"
	CategoryAuthorization  Category = "authorization"
	CategorySystem         Category = "system"
)

// Severity ranks how loudly a failure should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Code is a normalized failure identifier. The identity gateway's exact
// wording is an external, unstable contract; everything is mapped onto
// this closed set before classification.
type Code string

const (
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeUnconfirmed        Code = "UNCONFIRMED"
	CodeWeakPassword       Code = "WEAK_PASSWORD"
	CodeInvalidEmail       Code = "INVALID_EMAIL"
	CodeMissingRequired    Code = "MISSING_REQUIRED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodeForbidden          Code = "FORBIDDEN"
	CodeUnknown            Code = "UNKNOWN"
)

// ClassifiedError is the immutable classification record surfaced to
// callers. Message is always safe to show; OriginalMessage is not.
type ClassifiedError struct {
	Code            Code          `json:"code"`
	OriginalMessage string        `json:"-"`
	Message         string        `json:"message"`
	Category        Category      `json:"category"`
	Severity        Severity      `json:"severity"`
	Field           string        `json:"field,omitempty"`
	Recoverable     bool          `json:"recoverable"`
	Suggestions     []string      `json:"suggestions,omitempty"`
	RetryAfter      time.Duration `json:"-"`
	Timestamp       time.Time     `json:"timestamp"`
	cause           error
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// codedError is a lightweight tagged error returned by collaborators
// (notably the identity gateway) so Normalize never has to parse prose.
type codedError struct {
	code       Code
	msg        string
	field      string
	retryAfter time.Duration
	cause      error
}

func (e *codedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// Coded tags an error message with a normalized code.
func Coded(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// CodedWrap tags an underlying error with a normalized code.
func CodedWrap(code Code, msg string, cause error) error {
	return &codedError{code: code, msg: msg, cause: cause}
}

// CodedField tags a validation failure scoped to a single input field.
func CodedField(code Code, field, msg string) error {
	return &codedError{code: code, msg: msg, field: field}
}

// RateLimited tags a rate-limit rejection with the wait the caller must
// honor before retrying.
func RateLimited(retryAfter time.Duration) error {
	return &codedError{
		code:       CodeRateLimited,
		msg:        "too many attempts",
		retryAfter: retryAfter,
	}
}

// IsClassified checks whether err already carries a classification.
func IsClassified(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce)
}

// AsClassified extracts a ClassifiedError if err carries one.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns the normalized code without full classification.
func CodeOf(err error) Code {
	return Normalize(err)
}
