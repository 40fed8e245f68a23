// Package ai extracts a structured summary from an email with the Anthropic
// Messages API. Each Analyze call is a single request.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
)

const (
	apiVersion    = "2023-06-01"
	maxBodyLength = 10000
	maxListItems  = 10
)

var (
	urgencies  = map[string]bool{"high": true, "medium": true, "low": true}
	categories = map[string]bool{"meeting": true, "request": true, "info": true, "followup": true, "approval": true, "other": true}
)

type Analyzer struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewAnalyzer(cfg config.AnthropicConfig, httpClient *http.Client) *Analyzer {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Analyzer{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze returns the analysis of email. A reply without a JSON object
// yields an empty analysis rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, email *models.Email) (*models.EmailAnalysis, error) {
	if a.apiKey == "" {
		return nil, failure.Validation("anthropic.api_key", "api key is empty")
	}

	payload, err := json.Marshal(messageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  []message{{Role: "user", Content: Prompt(email)}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationHeader, id)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &failure.StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body)), Header: resp.Header}
		var parsed apiError
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
			statusErr.Code = parsed.Error.Type
			statusErr.Message = parsed.Error.Type + ": " + parsed.Error.Message
		}
		return nil, statusErr
	}

	var decoded messageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text strings.Builder
	for _, part := range decoded.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	return ParseAnalysis(text.String()), nil
}

// Prompt renders the analysis request for one email.
func Prompt(email *models.Email) string {
	body := email.BodyText
	if r := []rune(body); len(r) > maxBodyLength {
		body = string(r[:maxBodyLength]) + "\n\n[Email truncated for analysis]"
	}
	date := ""
	if !email.Date.IsZero() {
		date = email.Date.Format(time.RFC1123Z)
	}

	return fmt.Sprintf(`Analyze this email and extract structured information for task management.

Subject: %s
From: %s
Date: %s
Body:
%s

Return a JSON object with these fields:
- summary: 2-3 sentence summary of the email's main point and any required action
- action_items: array of specific tasks/actions required (empty array if none)
- key_dates: array of objects with "date" (ISO format or descriptive) and "context" fields
- important_links: array of objects with "url" and "description" fields
- key_contacts: array of objects with "name", "email", and "role" fields
- urgency: "high", "medium", or "low" based on time sensitivity and importance
- category: one of "meeting", "request", "info", "followup", "approval", or "other"

Return ONLY the JSON object, no other text.`, email.Subject, email.Sender, date, body)
}

// ParseAnalysis reads the first JSON object in text and clamps every field
// to the allowed values and lengths.
func ParseAnalysis(text string) *models.EmailAnalysis {
	out := &models.EmailAnalysis{Urgency: "medium", Category: "other"}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out
	}
	var raw models.EmailAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return out
	}

	out.Summary = clip(raw.Summary, models.MaxCodeBlockLength)
	for _, item := range head(raw.ActionItems) {
		if item = strings.TrimSpace(item); item != "" {
			out.ActionItems = append(out.ActionItems, clip(item, 500))
		}
	}
	for _, d := range head(raw.KeyDates) {
		out.KeyDates = append(out.KeyDates, models.KeyDate{Date: clip(d.Date, 50), Context: clip(d.Context, 200)})
	}
	for _, l := range head(raw.ImportantLinks) {
		if l.URL != "" {
			out.ImportantLinks = append(out.ImportantLinks, models.Link{URL: clip(l.URL, 500), Description: clip(l.Description, 200)})
		}
	}
	for _, c := range head(raw.KeyContacts) {
		out.KeyContacts = append(out.KeyContacts, models.Contact{Name: clip(c.Name, 100), Email: clip(c.Email, 200), Role: clip(c.Role, 100)})
	}
	if u := strings.ToLower(strings.TrimSpace(raw.Urgency)); urgencies[u] {
		out.Urgency = u
	}
	if c := strings.ToLower(strings.TrimSpace(raw.Category)); categories[c] {
		out.Category = c
	}
	return out
}

func head[T any](items []T) []T {
	if len(items) > maxListItems {
		return items[:maxListItems]
	}
	return items
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
