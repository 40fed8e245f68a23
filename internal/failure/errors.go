package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the retry-relevant class of a failure.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindClientError Kind = "client_error"
	KindValidation  Kind = "validation"
	KindUnknown     Kind = "unknown"
)

// Code is a stable machine-readable failure code.
type Code string

const (
	CodeConnectionRefused     Code = "CONNECTION_REFUSED"
	CodeConnectionReset       Code = "CONNECTION_RESET"
	CodeTimeout               Code = "REQUEST_TIMEOUT"
	CodeUpstreamUnavailable   Code = "UPSTREAM_UNAVAILABLE"
	CodeAuthFailed            Code = "AUTH_FAILED"
	CodeAccessForbidden       Code = "ACCESS_FORBIDDEN"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeBadRequest            Code = "BAD_REQUEST"
	CodeValidation            Code = "VALIDATION_FAILED"
	CodeCanceled              Code = "CANCELED"
	CodeGeneric               Code = "GENERIC_ERROR"
	CodeNotionDatabaseMissing Code = "NOTION_DB_NOT_FOUND"
	CodeNotionInvalidProperty Code = "NOTION_INVALID_PROPERTY"
	CodeGmailQuotaExceeded    Code = "GMAIL_QUOTA_EXCEEDED"
	CodeCalendarEventGone     Code = "CALENDAR_EVENT_GONE"
	CodeAIOverloaded          Code = "AI_OVERLOADED"
)

// Classified is an immutable classification of a raw error.
type Classified struct {
	Kind       Kind
	Code       Code
	HTTPStatus int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (c *Classified) Error() string {
	if c.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%s, status %d): %s", c.Kind, c.Code, c.HTTPStatus, c.Message)
	}
	return fmt.Sprintf("%s (%s): %s", c.Kind, c.Code, c.Message)
}

func (c *Classified) Unwrap() error { return c.Err }

// StatusError is a non-2xx answer from a REST endpoint.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	Header     http.Header
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("status=%d message=%s", e.StatusCode, e.Message)
}

// ValidationError is a local precondition failure; it never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// KindOf returns the kind of a classified or enriched error, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the code of a classified or enriched error.
func CodeOf(err error) Code {
	var c *Classified
	if errors.As(err, &c) {
		return c.Code
	}
	return ""
}

const maxMessageRunes = 500

// trimMessage режет по границе руны
func trimMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes]) + "..."
	}
	return msg
}
