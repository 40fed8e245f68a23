package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusNotStarted TaskStatus = "Not started"
	StatusInProgress TaskStatus = "In progress"
	StatusCompleted  TaskStatus = "Completed"
	StatusCancelled  TaskStatus = "Cancelled"
)

// Closed reports whether the status ends the task's life on the calendar.
func (s TaskStatus) Closed() bool {
	switch TaskStatus(strings.TrimSpace(string(s))) {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// DueWindow is the scheduled span of a task. A zero End means End == Start.
type DueWindow struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end,omitempty"`
	AllDay bool      `json:"all_day,omitempty"`
}

// Normalized returns the window with End defaulted and never before Start.
func (w DueWindow) Normalized() DueWindow {
	if w.End.IsZero() || w.End.Before(w.Start) {
		w.End = w.Start
	}
	return w
}

// Task is a record in the document store.
type Task struct {
	SourceID      string     `json:"source_id"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	Due           *DueWindow `json:"due,omitempty"`
	LinkedEventID string     `json:"linked_event_id,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	MessageID     string     `json:"message_id,omitempty"`
	LastEditedAt  time.Time  `json:"last_edited_at"`
	Archived      bool       `json:"archived,omitempty"`
}

// TaskDraft carries the fields of a task created from an email.
type TaskDraft struct {
	Title     string
	Status    TaskStatus
	MessageID string
	Sender    string
	Receiver  string
	EmailURL  string
	Due       *DueWindow
}

// TaskPatch lists the task fields to change; nil fields are left untouched.
// An empty LinkedEventID clears the link.
type TaskPatch struct {
	Title         *string
	Status        *TaskStatus
	Due           *DueWindow
	LinkedEventID *string
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.Due == nil && p.LinkedEventID == nil
}

// TaskFilter selects tasks by their natural key.
type TaskFilter struct {
	MessageID string
	PageSize  int
}

type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading_2"
	BlockBullet    BlockType = "bulleted_list_item"
	BlockTodo      BlockType = "to_do"
	BlockCallout   BlockType = "callout"
	BlockCode      BlockType = "code"
	BlockDivider   BlockType = "divider"
	BlockToggle    BlockType = "toggle"
)

// Block is one piece of page content appended under a task.
type Block struct {
	Type     BlockType
	Text     string
	URL      string
	Checked  bool
	Language string
	Emoji    string
	Children []Block
}
