package mapping

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"tasksync/internal/failure"
	"tasksync/internal/models"
	"tasksync/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalendar struct {
	mu        sync.Mutex
	events    map[string]models.EventPayload
	cancelled map[string]bool
	clientIDs bool
	nextID    int
	calls     int
	updates   int
	creates   int
	deletes   int
}

func newFakeCalendar(clientIDs bool) *fakeCalendar {
	return &fakeCalendar{events: map[string]models.EventPayload{}, cancelled: map[string]bool{}, clientIDs: clientIDs}
}

func notFound() error { return &failure.StatusError{StatusCode: http.StatusNotFound, Message: "Not Found"} }

func (f *fakeCalendar) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.events[id]
	if !ok {
		return nil, notFound()
	}
	return &models.Event{ID: id, Title: p.Title, Start: p.Start, End: p.End}, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.creates++
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("server%d", f.nextID)
	}
	if _, exists := f.events[id]; exists || f.cancelled[id] {
		return models.EventRef{}, &failure.StatusError{StatusCode: http.StatusConflict, Message: "The requested identifier already exists."}
	}
	f.events[id] = payload
	return models.EventRef{ID: id, HTMLLink: "https://calendar/" + id}, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.updates++
	if f.cancelled[id] && payload.Restore {
		delete(f.cancelled, id)
		f.events[id] = payload
		return models.EventRef{ID: id}, nil
	}
	if _, ok := f.events[id]; !ok {
		return models.EventRef{}, notFound()
	}
	f.events[id] = payload
	return models.EventRef{ID: id}, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.deletes++
	if _, ok := f.events[id]; !ok {
		return &failure.StatusError{StatusCode: http.StatusGone, Message: "Resource has been deleted"}
	}
	delete(f.events, id)
	return nil
}

func (f *fakeCalendar) SupportsClientIDs() bool { return f.clientIDs }

func newWriter(cal *fakeCalendar) *EventWriter {
	exec := retry.NewExecutor(nil, retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return NewEventWriter(cal, exec, Options{TimeZone: "UTC"})
}

func dueAt(t time.Time) *models.DueWindow { return &models.DueWindow{Start: t} }

func TestDeriveEventID(t *testing.T) {
	a, err := DeriveEventID("t1")
	require.NoError(t, err)
	b, err := DeriveEventID("t1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, ValidEventID(a), a)
	assert.Len(t, a, 32)

	c, err := DeriveEventID("t2")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	hyphenated, _ := DeriveEventID("1A2B3C4D-0000-4000-8000-00000000AAAA")
	plain, _ := DeriveEventID("1a2b3c4d00004000800000000000aaaa")
	assert.Equal(t, hyphenated, plain)

	_, err = DeriveEventID("  ")
	assert.True(t, failure.IsKind(err, failure.KindValidation))
}

func TestDeriveEventID_ValidForManyInputs(t *testing.T) {
	for i := 0; i < 500; i++ {
		id, err := DeriveEventID(fmt.Sprintf("page-%d", i))
		require.NoError(t, err)
		require.True(t, ValidEventID(id), id)
	}
	assert.False(t, ValidEventID("abc"))
	assert.False(t, ValidEventID("has_underscore"))
	assert.False(t, ValidEventID("wxyz12345"))
}

func TestValidEventID_LengthBounds(t *testing.T) {
	assert.True(t, ValidEventID(strings.Repeat("a", 5)))
	assert.True(t, ValidEventID(strings.Repeat("0", 1024)))
	assert.False(t, ValidEventID(strings.Repeat("a", 4)))
	assert.False(t, ValidEventID(strings.Repeat("a", 1025)))
}

func TestEnsure_CreatesWithDerivedIDThenUpdates(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)
	task := models.Task{SourceID: "t1", Title: "Pay invoice", Status: "Open", Due: dueAt(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))}

	first, err := w.Ensure(context.Background(), task, ModeUpsert)
	require.NoError(t, err)
	want, _ := DeriveEventID("t1")
	assert.Equal(t, want, first.EventID)
	assert.True(t, first.Created)
	assert.False(t, first.Assigned)

	second, err := w.Ensure(context.Background(), task, ModeUpsert)
	require.NoError(t, err)
	assert.Equal(t, first.EventID, second.EventID)
	assert.False(t, second.Created)
	assert.Len(t, cal.events, 1, "no duplicate event")
	assert.Equal(t, 1, cal.creates)
}

func TestEnsure_ValidationBeforeNetwork(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)

	_, err := w.Ensure(context.Background(), models.Task{SourceID: "t1"}, ModeUpsert)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindValidation))

	_, err = w.Ensure(context.Background(), models.Task{SourceID: "t1", Due: dueAt(time.Now())}, ModeUpdate)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindValidation))

	assert.Equal(t, 0, cal.calls)
}

func TestEnsure_ServerAssignedIDs(t *testing.T) {
	cal := newFakeCalendar(false)
	w := newWriter(cal)
	task := models.Task{SourceID: "t9", Title: "Call back", Due: dueAt(time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC))}

	res, err := w.Ensure(context.Background(), task, ModeUpsert)
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, "server1", res.EventID)

	task.LinkedEventID = res.EventID
	res, err = w.Ensure(context.Background(), task, ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, "server1", res.EventID)
	assert.False(t, res.Created)
	assert.Len(t, cal.events, 1)
}

func TestEnsure_UpdateModeDoesNotCreate(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)
	task := models.Task{SourceID: "t5", LinkedEventID: "e5", Due: dueAt(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))}

	_, err := w.Ensure(context.Background(), task, ModeUpdate)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindNotFound))
	assert.Equal(t, 1, cal.updates, "not_found is not retried")
	assert.Equal(t, 0, cal.creates)
}

func TestEnsure_RestoresCancelledEvent(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)
	task := models.Task{SourceID: "t3", Title: "Renew", Due: dueAt(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))}
	id, _ := DeriveEventID("t3")
	cal.cancelled[id] = true

	res, err := w.Ensure(context.Background(), task, ModeUpsert)
	require.NoError(t, err)
	assert.Equal(t, id, res.EventID)
	assert.True(t, cal.events[id].Restore)
}

func TestEnsure_PropagatesOtherFailures(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)
	task := models.Task{SourceID: "t4", LinkedEventID: "e4", Due: dueAt(time.Now())}

	failing := &failingCalendar{fakeCalendar: cal, err: &failure.StatusError{StatusCode: http.StatusForbidden, Message: "forbidden"}}
	w.calendar = failing

	_, err := w.Ensure(context.Background(), task, ModeUpdate)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindAuth))
	assert.Equal(t, 0, cal.creates)
}

type failingCalendar struct {
	*fakeCalendar
	err error
}

func (f *failingCalendar) UpdateEvent(ctx context.Context, id string, payload models.EventPayload) (models.EventRef, error) {
	return models.EventRef{}, f.err
}

func TestDelete(t *testing.T) {
	cal := newFakeCalendar(true)
	w := newWriter(cal)
	cal.events["e1"] = models.EventPayload{Title: "x"}

	deleted, err := w.Delete(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = w.Delete(context.Background(), "e1")
	require.NoError(t, err, "already deleted is not an error")
	assert.False(t, deleted)

	_, err = w.Delete(context.Background(), "")
	assert.True(t, failure.IsKind(err, failure.KindValidation))
}

func TestPayload(t *testing.T) {
	w := newWriter(newFakeCalendar(true))
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("TimedDefaultsDuration", func(t *testing.T) {
		p := w.Payload(models.Task{Title: "A", SourceURL: "https://www.notion.so/abc", Due: dueAt(start)})
		assert.Equal(t, start.Add(time.Hour), p.End)
		assert.Equal(t, "https://www.notion.so/abc", p.Location)
		assert.Equal(t, "Notion Task: A\nLink: https://www.notion.so/abc", p.Description)
		assert.Equal(t, "UTC", p.TimeZone)
	})

	t.Run("TimedKeepsEnd", func(t *testing.T) {
		end := start.Add(30 * time.Minute)
		p := w.Payload(models.Task{Due: &models.DueWindow{Start: start, End: end}})
		assert.Equal(t, end, p.End)
	})

	t.Run("AllDayExclusiveEnd", func(t *testing.T) {
		day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
		p := w.Payload(models.Task{Due: &models.DueWindow{Start: day, AllDay: true}})
		assert.True(t, p.AllDay)
		assert.Equal(t, day.AddDate(0, 0, 1), p.End)
	})
}

func TestTaskDue_RoundTripsThroughPayload(t *testing.T) {
	w := newWriter(newFakeCalendar(true))
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	allDay := models.Event{Title: "Trip", Start: day, End: day.AddDate(0, 0, 1), AllDay: true}
	due := TaskDue(allDay)
	assert.True(t, due.End.IsZero())
	p := w.Payload(models.Task{Title: "Trip", Due: &due})
	assert.Equal(t, allDay.End, p.End)

	timed := models.Event{Title: "Call", Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)}
	patch := PatchFromEvent(timed)
	require.NotNil(t, patch.Title)
	assert.Equal(t, "Call", *patch.Title)
	p = w.Payload(models.Task{Title: "Call", Due: patch.Due})
	assert.Equal(t, timed.Start, p.Start)
	assert.Equal(t, timed.End, p.End)
}
