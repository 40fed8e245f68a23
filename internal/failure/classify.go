package failure

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
)

type classificationRule struct {
	pattern *regexp.Regexp
	kind    Kind
	code    Code
}

// Applied in order to messages of errors that carry no status code.
var classificationRules = []classificationRule{
	{regexp.MustCompile(`(?i)connection refused|no such host`), KindTransient, CodeConnectionRefused},
	{regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`), KindTransient, CodeTimeout},
	{regexp.MustCompile(`(?i)connection reset|broken pipe|unexpected eof|server closed`), KindTransient, CodeConnectionReset},
	{regexp.MustCompile(`(?i)service unavailable|bad gateway|overloaded`), KindTransient, CodeUpstreamUnavailable},
	{regexp.MustCompile(`(?i)rate.?limit|too many requests|quota`), KindRateLimited, CodeRateLimited},
	{regexp.MustCompile(`(?i)unauthori[sz]ed|invalid[_ ]grant|invalid token|token expired`), KindAuth, CodeAuthFailed},
	{regexp.MustCompile(`(?i)forbidden|permission denied|insufficient permissions`), KindAuth, CodeAccessForbidden},
	{regexp.MustCompile(`(?i)not found|does not exist|object_not_found`), KindNotFound, CodeNotFound},
}

// Google reasons that mean "slow down" even though the status is 403.
var googleRateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// Classify maps any error to a Classified value. Already classified errors
// are returned unchanged.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	var c *Classified
	if errors.As(err, &c) {
		return c
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return &Classified{Kind: KindValidation, Code: CodeValidation, Message: verr.Error(), Err: err}
	}

	var serr *StatusError
	if errors.As(err, &serr) {
		out := FromStatus(serr.StatusCode, serr.Message, err)
		out.RetryAfter = ParseRetryAfter(serr.Header.Get("Retry-After"), time.Now())
		return out
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fromGoogle(gerr)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Classified{Kind: KindUnknown, Code: CodeCanceled, Message: "operation canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Classified{Kind: KindTransient, Code: CodeTimeout, Message: "operation timed out", Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Classified{Kind: KindTransient, Code: CodeConnectionRefused, Message: trimMessage(err.Error()), Err: err}
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &Classified{Kind: KindTransient, Code: CodeConnectionReset, Message: trimMessage(err.Error()), Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		code := CodeConnectionRefused
		if nerr.Timeout() {
			code = CodeTimeout
		}
		return &Classified{Kind: KindTransient, Code: code, Message: trimMessage(err.Error()), Err: err}
	}

	msg := err.Error()
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(msg) {
			return &Classified{Kind: rule.kind, Code: rule.code, Message: trimMessage(msg), Err: err}
		}
	}

	return &Classified{Kind: KindUnknown, Code: CodeGeneric, Message: trimMessage(msg), Err: err}
}

// FromStatus classifies an HTTP status code.
func FromStatus(status int, message string, cause error) *Classified {
	out := &Classified{HTTPStatus: status, Message: trimMessage(message), Err: cause}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		out.Kind, out.Code = KindAuth, CodeAuthFailed
	case status == http.StatusForbidden:
		out.Kind, out.Code = KindAuth, CodeAccessForbidden
	case status == http.StatusNotFound:
		out.Kind, out.Code = KindNotFound, CodeNotFound
	case status == http.StatusGone:
		out.Kind, out.Code = KindNotFound, CodeCalendarEventGone
	case status == http.StatusRequestTimeout:
		out.Kind, out.Code = KindTransient, CodeTimeout
	case status == http.StatusTooManyRequests:
		out.Kind, out.Code = KindRateLimited, CodeRateLimited
	case status == http.StatusConflict:
		out.Kind, out.Code = KindClientError, CodeConflict
	case status >= 400 && status < 500:
		out.Kind, out.Code = KindClientError, CodeBadRequest
	case status >= 500:
		out.Kind, out.Code = KindTransient, CodeUpstreamUnavailable
	default:
		out.Kind, out.Code = KindUnknown, CodeGeneric
	}
	return out
}

func fromGoogle(gerr *googleapi.Error) *Classified {
	message := gerr.Message
	if message == "" {
		message = gerr.Body
	}
	out := FromStatus(gerr.Code, message, gerr)
	if gerr.Code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if googleRateLimitReasons[item.Reason] {
				out.Kind, out.Code = KindRateLimited, CodeRateLimited
				break
			}
		}
	}
	out.RetryAfter = ParseRetryAfter(gerr.Header.Get("Retry-After"), time.Now())
	return out
}

// ParseRetryAfter reads a Retry-After header given either as delta seconds
// or as an HTTP date. It returns zero when the header is absent or invalid.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
