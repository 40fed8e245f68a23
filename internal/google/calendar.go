package google

import (
	"context"
	"fmt"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const dateLayout = "2006-01-02"

// CalendarService mirrors tasks into one Google calendar. Each method is a
// single API call.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	timeZone   string
	clientIDs  bool
}

func NewCalendarService(ctx context.Context, cfg config.GoogleConfig, opts ...option.ClientOption) (*CalendarService, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarService{
		service:    srv,
		calendarID: calendarID,
		timeZone:   cfg.TimeZone,
		clientIDs:  cfg.ClientIDsEnabled(),
	}, nil
}

func (s *CalendarService) SupportsClientIDs() bool { return s.clientIDs }

func (s *CalendarService) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.service.Events.Get(s.calendarID, id).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return toEvent(ev), nil
}

func (s *CalendarService) CreateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error) {
	ev := s.toAPIEvent(payload)
	ev.Id = id
	created, err := s.service.Events.Insert(s.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return models.EventRef{}, err
	}
	return models.EventRef{ID: created.Id, HTMLLink: created.HtmlLink}, nil
}

func (s *CalendarService) UpdateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error) {
	updated, err := s.service.Events.Update(s.calendarID, id, s.toAPIEvent(payload)).Context(ctx).Do()
	if err != nil {
		return models.EventRef{}, err
	}
	return models.EventRef{ID: updated.Id, HTMLLink: updated.HtmlLink}, nil
}

func (s *CalendarService) DeleteEvent(ctx context.Context, id string) error {
	return s.service.Events.Delete(s.calendarID, id).Context(ctx).Do()
}

func (s *CalendarService) toAPIEvent(p models.EventPayload) *calendar.Event {
	tz := p.TimeZone
	if tz == "" {
		tz = s.timeZone
	}
	ev := &calendar.Event{
		Summary:     p.Title,
		Description: p.Description,
		Location:    p.Location,
		Start:       eventTime(p.Start, p.AllDay, tz),
		End:         eventTime(p.End, p.AllDay, tz),
	}
	if p.Restore {
		ev.Status = models.EventConfirmed
	}
	return ev
}

func eventTime(t time.Time, allDay bool, tz string) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.Format(dateLayout)}
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func toEvent(ev *calendar.Event) *models.Event {
	out := &models.Event{
		ID:          ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
		HTMLLink:    ev.HtmlLink,
	}
	out.Start, out.AllDay = parseEventTime(ev.Start)
	out.End, _ = parseEventTime(ev.End)
	if ev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			out.UpdatedAt = t
		}
	}
	return out
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, time.UTC)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, false
}
