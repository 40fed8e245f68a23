package models

import (
	"fmt"
	"time"
)

// Email is a message read from the inbox.
type Email struct {
	MessageID string
	ThreadID  string
	Subject   string
	Sender    string
	Receiver  string
	Date      time.Time
	BodyText  string
	BodyHTML  string
	Labels    []string
}

// URL links back to the message in the Gmail web client.
func (e *Email) URL() string {
	return fmt.Sprintf("https://mail.google.com/mail/u/0/#inbox/%s", e.MessageID)
}

// EmailAnalysis is the optional AI summary attached to a task.
type EmailAnalysis struct {
	Summary        string    `json:"summary"`
	ActionItems    []string  `json:"action_items"`
	KeyDates       []KeyDate `json:"key_dates"`
	ImportantLinks []Link    `json:"important_links"`
	KeyContacts    []Contact `json:"key_contacts"`
	Urgency        string    `json:"urgency"`
	Category       string    `json:"category"`
}

type KeyDate struct {
	Date    string `json:"date"`
	Context string `json:"context"`
}

type Link struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
