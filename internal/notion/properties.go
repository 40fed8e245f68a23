package notion

import (
	"strings"
	"time"

	"tasksync/internal/models"
)

const dateLayout = "2006-01-02"

type page struct {
	ID             string              `json:"id"`
	URL            string              `json:"url"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	Properties     map[string]property `json:"properties"`
}

type property struct {
	Type     string       `json:"type"`
	Title    []richText   `json:"title"`
	RichText []richText   `json:"rich_text"`
	Status   *namedOption `json:"status"`
	Select   *namedOption `json:"select"`
	Date     *dateValue   `json:"date"`
	URL      *string      `json:"url"`
	Email    *string      `json:"email"`
}

type richText struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text"`
}

type namedOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end"`
}

func (p property) text() string {
	var b strings.Builder
	for _, rt := range append(p.Title, p.RichText...) {
		if rt.PlainText != "" {
			b.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			b.WriteString(rt.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *Client) toTask(p page) models.Task {
	task := models.Task{
		SourceID:     p.ID,
		SourceURL:    p.URL,
		LastEditedAt: p.LastEditedTime,
		Archived:     p.Archived,
	}
	if prop, ok := p.Properties[c.props.Title]; ok {
		task.Title = prop.text()
	}
	if prop, ok := p.Properties[c.props.Status]; ok {
		switch {
		case prop.Status != nil:
			task.Status = models.TaskStatus(prop.Status.Name)
		case prop.Select != nil:
			task.Status = models.TaskStatus(prop.Select.Name)
		}
	}
	if prop, ok := p.Properties[c.props.Due]; ok && prop.Date != nil {
		task.Due = parseDue(*prop.Date)
	}
	if prop, ok := p.Properties[c.props.EventID]; ok {
		task.LinkedEventID = prop.text()
	}
	if prop, ok := p.Properties[c.props.MessageID]; ok {
		task.MessageID = prop.text()
	}
	return task
}

// parseDue reads a Notion date. Date-only values are all-day and taken as
// UTC midnight; the rest are RFC 3339 timestamps.
func parseDue(v dateValue) *models.DueWindow {
	start, allDay, ok := parseDate(v.Start)
	if !ok {
		return nil
	}
	due := &models.DueWindow{Start: start, AllDay: allDay}
	if v.End != nil {
		if end, _, ok := parseDate(*v.End); ok {
			due.End = end
		}
	}
	return due
}

func parseDate(s string) (time.Time, bool, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false
	}
	if len(s) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, s, time.UTC)
		return t, true, err == nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err == nil
}

func formatDate(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}

func encodeDue(due models.DueWindow) map[string]any {
	value := map[string]any{"start": formatDate(due.Start, due.AllDay)}
	if !due.End.IsZero() && due.End.After(due.Start) {
		value["end"] = formatDate(due.End, due.AllDay)
	}
	return map[string]any{"date": value}
}

func encodeText(s string) []map[string]any {
	if s == "" {
		return []map[string]any{}
	}
	return []map[string]any{{"type": "text", "text": map[string]any{"content": truncate(s, models.MaxCodeBlockLength)}}}
}

func (c *Client) encodeStatus(status models.TaskStatus) map[string]any {
	return map[string]any{c.statusType: map[string]any{"name": string(status)}}
}

func (c *Client) draftProperties(d models.TaskDraft) map[string]any {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = "(no subject)"
	}
	props := map[string]any{
		c.props.Title:     map[string]any{"title": encodeText(title)},
		c.props.MessageID: map[string]any{"rich_text": encodeText(d.MessageID)},
	}
	if d.EmailURL != "" {
		props[c.props.EmailLink] = map[string]any{"url": d.EmailURL}
	}
	if d.Sender != "" {
		props[c.props.Sender] = map[string]any{"email": d.Sender}
	}
	if d.Receiver != "" {
		props[c.props.Receiver] = map[string]any{"email": d.Receiver}
	}
	if d.Status != "" {
		props[c.props.Status] = c.encodeStatus(d.Status)
	}
	if d.Due != nil && !d.Due.Start.IsZero() {
		props[c.props.Due] = encodeDue(*d.Due)
	}
	return props
}

func (c *Client) patchProperties(p models.TaskPatch) map[string]any {
	props := map[string]any{}
	if p.Title != nil {
		props[c.props.Title] = map[string]any{"title": encodeText(*p.Title)}
	}
	if p.Status != nil {
		props[c.props.Status] = c.encodeStatus(*p.Status)
	}
	if p.Due != nil {
		props[c.props.Due] = encodeDue(*p.Due)
	}
	if p.LinkedEventID != nil {
		props[c.props.EventID] = map[string]any{"rich_text": encodeText(*p.LinkedEventID)}
	}
	return props
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
