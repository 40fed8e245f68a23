package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/failure"
	"tasksync/internal/models"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailService reads the inbox and labels processed messages.
type GmailService struct {
	service *gmail.Service
	userID  string
}

func NewGmailService(ctx context.Context, cfg config.GmailConfig, opts ...option.ClientOption) (*GmailService, error) {
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "me"
	}
	return &GmailService{service: srv, userID: userID}, nil
}

func (s *GmailService) ListMessages(ctx context.Context, query string, max int64) ([]string, error) {
	call := s.service.Users.Messages.List(s.userID).Q(query).Context(ctx)
	if max > 0 {
		call = call.MaxResults(max)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (s *GmailService) GetMessage(ctx context.Context, id string) (*models.Email, error) {
	msg, err := s.service.Users.Messages.Get(s.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return toEmail(msg), nil
}

// ModifyLabels changes labels on at most MaxLabelBatch messages in one call.
func (s *GmailService) ModifyLabels(ctx context.Context, ids []string, add, remove []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > models.MaxLabelBatch {
		return failure.Validation("ids", fmt.Sprintf("at most %d messages per call, got %d", models.MaxLabelBatch, len(ids)))
	}
	return s.service.Users.Messages.BatchModify(s.userID, &gmail.BatchModifyMessagesRequest{
		Ids:            ids,
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
}

// LabelID resolves a user label by name and creates it when missing.
func (s *GmailService) LabelID(ctx context.Context, name string) (string, error) {
	resp, err := s.service.Users.Labels.List(s.userID).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, name) {
			return l.Id, nil
		}
	}

	created, err := s.service.Users.Labels.Create(s.userID, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func toEmail(msg *gmail.Message) *models.Email {
	email := &models.Email{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Labels:    msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		email.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		email.BodyText = msg.Snippet
		return email
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			email.Subject = strings.TrimSpace(h.Value)
		case "from":
			email.Sender = addressOf(h.Value)
		case "to":
			email.Receiver = addressOf(h.Value)
		}
	}

	var plain, htmlBody []string
	collectBodies(msg.Payload, &plain, &htmlBody)
	email.BodyText = strings.TrimSpace(strings.Join(plain, "\n"))
	email.BodyHTML = strings.TrimSpace(strings.Join(htmlBody, "\n"))
	if email.BodyText == "" && email.BodyHTML != "" {
		email.BodyText = HTMLToText(email.BodyHTML)
	}
	if email.BodyText == "" {
		email.BodyText = msg.Snippet
	}
	return email
}

func collectBodies(part *gmail.MessagePart, plain, htmlBody *[]string) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		if data, err := decodeBody(part.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain"):
				*plain = append(*plain, data)
			case strings.HasPrefix(part.MimeType, "text/html"):
				*htmlBody = append(*htmlBody, data)
			}
		}
	}
	for _, p := range part.Parts {
		collectBodies(p, plain, htmlBody)
	}
}

// Gmail bodies are base64url, with or without padding.
func decodeBody(data string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", err
		}
	}
	return string(raw), nil
}

// addressOf returns the first address of a header value, or the value itself
// when it does not parse.
func addressOf(value string) string {
	list, err := mail.ParseAddressList(value)
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(value)
	}
	return list[0].Address
}
