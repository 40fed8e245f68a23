package failure

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tasksync/internal/models"
)

// Rule maps a classified failure to a user-facing message. Empty Service,
// empty Kind and nil Pattern match anything. A non-empty Code replaces the
// classified code.
type Rule struct {
	Service     models.Service
	Kind        Kind
	Pattern     *regexp.Regexp
	Code        Code
	UserMessage string
}

func (r Rule) matches(service models.Service, c *Classified) bool {
	if r.Service != "" && r.Service != service {
		return false
	}
	if r.Kind != "" && r.Kind != c.Kind {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(c.Message) {
		return false
	}
	return true
}

const fallbackMessage = "Unexpected error during {operation}. Quote reference {correlation_id} when reporting it."

// DefaultRules is the ordered rule table. Service specific rules come first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Service:     models.ServiceDocStore,
			Kind:        KindNotFound,
			Pattern:     regexp.MustCompile(`(?i)database`),
			Code:        CodeNotionDatabaseMissing,
			UserMessage: "Notion database not found. Check the configured database id and that the integration has access to it.",
		},
		{
			Service:     models.ServiceDocStore,
			Kind:        KindClientError,
			Pattern:     regexp.MustCompile(`(?i)validation_error|property`),
			Code:        CodeNotionInvalidProperty,
			UserMessage: "Notion rejected the task fields. Check that the database property names and types match the configuration.",
		},
		{
			Service:     models.ServiceDocStore,
			Kind:        KindAuth,
			UserMessage: "Notion authentication failed. Check the integration token and that the database is shared with it.",
		},
		{
			Service:     models.ServiceMail,
			Kind:        KindRateLimited,
			Pattern:     regexp.MustCompile(`(?i)quota`),
			Code:        CodeGmailQuotaExceeded,
			UserMessage: "Gmail quota exceeded. The message will be picked up again on a later run.",
		},
		{
			Service:     models.ServiceMail,
			Kind:        KindAuth,
			UserMessage: "Gmail authentication failed. The mailbox needs to be authorized again.",
		},
		{
			Service:     models.ServiceCalendar,
			Kind:        KindNotFound,
			UserMessage: "The calendar event no longer exists.",
		},
		{
			Service:     models.ServiceCalendar,
			Kind:        KindAuth,
			UserMessage: "Google Calendar authentication failed. The calendar needs to be authorized again.",
		},
		{
			Service:     models.ServiceAI,
			Pattern:     regexp.MustCompile(`(?i)overloaded`),
			Code:        CodeAIOverloaded,
			UserMessage: "The email analysis service is overloaded. Try again later.",
		},
		{Kind: KindValidation, UserMessage: "Invalid input for {operation}: {reason}."},
		{Kind: KindAuth, UserMessage: "Authentication credentials invalid or expired for {service}."},
		{Kind: KindRateLimited, UserMessage: "Rate limit exceeded for {service}. The request was retried automatically."},
		{Kind: KindTransient, UserMessage: "{service} is temporarily unavailable. {operation} was retried automatically and can be run again later."},
		{Kind: KindNotFound, UserMessage: "The requested {service} object was not found during {operation}."},
		{Kind: KindClientError, UserMessage: "{service} rejected the request made during {operation}."},
	}
}

// Enriched is the terminal failure of an operation, safe to show to users.
// Technical is for logs only.
type Enriched struct {
	Classified  *Classified
	Operation   models.OperationContext
	UserMessage string
	Technical   map[string]string
	Attempts    int
}

func (e *Enriched) Error() string {
	return fmt.Sprintf("%s (correlation_id=%s)", e.UserMessage, e.Operation.CorrelationID)
}

func (e *Enriched) Unwrap() error { return e.Classified }

func (e *Enriched) Kind() Kind { return e.Classified.Kind }

func (e *Enriched) Code() Code { return e.Classified.Code }

// AsEnriched extracts an Enriched failure from an error chain.
func AsEnriched(err error) (*Enriched, bool) {
	var e *Enriched
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type Enricher struct {
	rules    []Rule
	fallback string
}

// NewEnricher builds an enricher over rules; nil rules means DefaultRules.
func NewEnricher(rules []Rule) *Enricher {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Enricher{rules: rules, fallback: fallbackMessage}
}

// Enrich classifies err and attaches a user message chosen from the rule table.
func (e *Enricher) Enrich(err error, op models.OperationContext, attempts int) *Enriched {
	if err == nil {
		return nil
	}
	if existing, ok := AsEnriched(err); ok {
		return existing
	}

	classified := Classify(err)
	template := e.fallback
	for _, rule := range e.rules {
		if !rule.matches(op.Service, classified) {
			continue
		}
		template = rule.UserMessage
		if rule.Code != "" && rule.Code != classified.Code {
			copied := *classified
			copied.Code = rule.Code
			classified = &copied
		}
		break
	}

	return &Enriched{
		Classified:  classified,
		Operation:   op,
		UserMessage: render(template, op, err),
		Technical:   technicalContext(classified, op, attempts),
		Attempts:    attempts,
	}
}

var serviceNames = map[models.Service]string{
	models.ServiceMail:     "Gmail",
	models.ServiceDocStore: "Notion",
	models.ServiceCalendar: "Google Calendar",
	models.ServiceAI:       "Anthropic",
}

func render(template string, op models.OperationContext, err error) string {
	service, ok := serviceNames[op.Service]
	if !ok {
		service = "Remote service"
	}
	operation := op.Operation
	if operation == "" {
		operation = "the operation"
	}
	reason := "invalid value"
	var verr *ValidationError
	if errors.As(err, &verr) {
		reason = verr.Error()
	}
	return strings.NewReplacer(
		"{operation}", operation,
		"{service}", service,
		"{correlation_id}", op.CorrelationID,
		"{reason}", strings.TrimPrefix(reason, "validation failed: "),
	).Replace(template)
}

func technicalContext(c *Classified, op models.OperationContext, attempts int) map[string]string {
	ctx := map[string]string{
		"kind":           string(c.Kind),
		"code":           string(c.Code),
		"error":          Redact(c.Message),
		"service":        string(op.Service),
		"operation":      op.Operation,
		"correlation_id": op.CorrelationID,
		"attempts":       strconv.Itoa(attempts),
	}
	if c.HTTPStatus > 0 {
		ctx["http_status"] = strconv.Itoa(c.HTTPStatus)
	}
	if c.RetryAfter > 0 {
		ctx["retry_after"] = c.RetryAfter.String()
	}
	if c.Err != nil {
		ctx["cause"] = Redact(trimMessage(c.Err.Error()))
	}
	return ctx
}
