package models

import "time"

const (
	EventConfirmed = "confirmed"
	EventCancelled = "cancelled"
)

// Event is a calendar entry mirrored from a task.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	HTMLLink    string    `json:"html_link,omitempty"`
}

// Deleted reports whether the event was removed on the calendar side.
func (e *Event) Deleted() bool {
	return e != nil && e.Status == EventCancelled
}

// EventPayload is the writable part of an event.
type EventPayload struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	TimeZone    string
	// Restore marks a previously cancelled event as confirmed again.
	Restore bool
}

type EventRef struct {
	ID       string `json:"id"`
	HTMLLink string `json:"html_link,omitempty"`
}
