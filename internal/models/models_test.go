package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Closed(t *testing.T) {
	assert.True(t, StatusCompleted.Closed())
	assert.True(t, StatusCancelled.Closed())
	assert.True(t, TaskStatus(" Completed ").Closed())
	assert.False(t, StatusNotStarted.Closed())
	assert.False(t, StatusInProgress.Closed())
	assert.False(t, TaskStatus("").Closed())
}

func TestDueWindow_Normalized(t *testing.T) {
	start := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("EmptyEnd", func(t *testing.T) {
		w := DueWindow{Start: start}.Normalized()
		assert.Equal(t, start, w.End)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		w := DueWindow{Start: start, End: start.Add(-time.Hour)}.Normalized()
		assert.Equal(t, start, w.End)
	})

	t.Run("ValidEnd", func(t *testing.T) {
		end := start.Add(2 * time.Hour)
		w := DueWindow{Start: start, End: end}.Normalized()
		assert.Equal(t, end, w.End)
	})
}

func TestService(t *testing.T) {
	for _, s := range Services {
		assert.True(t, s.Valid())
	}
	got, err := ParseService("calendar")
	require.NoError(t, err)
	assert.Equal(t, ServiceCalendar, got)

	_, err = ParseService("fax")
	assert.Error(t, err)
}

func TestEvent_Deleted(t *testing.T) {
	var nilEvent *Event
	assert.False(t, nilEvent.Deleted())
	assert.False(t, (&Event{Status: EventConfirmed}).Deleted())
	assert.True(t, (&Event{Status: EventCancelled}).Deleted())
}

func TestEmail_URL(t *testing.T) {
	e := &Email{MessageID: "18c2f"}
	assert.Equal(t, "https://mail.google.com/mail/u/0/#inbox/18c2f", e.URL())
}

func TestTaskPatch_Empty(t *testing.T) {
	assert.True(t, TaskPatch{}.Empty())
	title := "x"
	assert.False(t, TaskPatch{Title: &title}.Empty())
}
