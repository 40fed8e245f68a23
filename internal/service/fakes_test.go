package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tasksync/internal/failure"
	"tasksync/internal/models"
	"tasksync/internal/retry"
)

var baseTime = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func statusErr(code int, msg string) error {
	return &failure.StatusError{StatusCode: code, Message: msg}
}

func noSleepExecutor() *retry.Executor {
	return retry.NewExecutor(nil, retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
}

type fakeStore struct {
	mu      sync.Mutex
	tasks   map[string]*models.Task
	blocks  map[string][]models.Block
	clock   time.Time
	gets    int
	queries int
	creates int
	updates int
	appends int
	// createErr fails every CreateTask call when set.
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*models.Task{}, blocks: map[string][]models.Block{}, clock: baseTime}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) put(task models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.SourceURL == "" {
		task.SourceURL = "https://www.notion.so/Task-" + task.SourceID
	}
	if task.LastEditedAt.IsZero() {
		task.LastEditedAt = f.tick()
	}
	f.tasks[task.SourceID] = &task
}

func (f *fakeStore) task(id string) models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tasks[id]
}

func (f *fakeStore) QueryTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	var out []models.Task
	for _, t := range f.tasks {
		if t.MessageID == filter.MessageID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	t, ok := f.tasks[id]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "object_not_found")
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, draft models.TaskDraft) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := fmt.Sprintf("%032x", len(f.tasks)+1)
	t := &models.Task{
		SourceID:     id,
		Title:        draft.Title,
		Status:       draft.Status,
		Due:          draft.Due,
		MessageID:    draft.MessageID,
		SourceURL:    "https://www.notion.so/" + id,
		LastEditedAt: f.tick(),
	}
	f.tasks[id] = t
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	t, ok := f.tasks[id]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "object_not_found")
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Due != nil {
		due := *patch.Due
		t.Due = &due
	}
	if patch.LinkedEventID != nil {
		t.LinkedEventID = *patch.LinkedEventID
	}
	t.LastEditedAt = f.tick()
	cp := *t
	return &cp, nil
}

func (f *fakeStore) AppendContent(ctx context.Context, id string, blocks []models.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	f.blocks[id] = append(f.blocks[id], blocks...)
	return nil
}

type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*models.Event
	calls   int
	creates int
	deletes int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]*models.Event{}}
}

func (f *fakeCalendar) event(id string) *models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

func (f *fakeCalendar) edit(id string, change func(ev *models.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change(f.events[id])
}

func (f *fakeCalendar) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ev, ok := f.events[id]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "Not Found")
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, id string, p models.EventPayload) (models.EventRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.creates++
	if _, exists := f.events[id]; exists {
		return models.EventRef{}, statusErr(http.StatusConflict, "The requested identifier already exists.")
	}
	f.events[id] = &models.Event{ID: id, Status: models.EventConfirmed}
	apply(f.events[id], p)
	return models.EventRef{ID: id}, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, id string, p models.EventPayload) (models.EventRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ev, ok := f.events[id]
	if !ok {
		return models.EventRef{}, statusErr(http.StatusNotFound, "Not Found")
	}
	apply(ev, p)
	if p.Restore {
		ev.Status = models.EventConfirmed
	}
	return models.EventRef{ID: id}, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.deletes++
	ev, ok := f.events[id]
	if !ok || ev.Deleted() {
		return statusErr(http.StatusGone, "Resource has been deleted")
	}
	ev.Status = models.EventCancelled
	return nil
}

func (f *fakeCalendar) SupportsClientIDs() bool { return true }

func apply(ev *models.Event, p models.EventPayload) {
	ev.Title = p.Title
	ev.Description = p.Description
	ev.Location = p.Location
	ev.Start = p.Start
	ev.End = p.End
	ev.AllDay = p.AllDay
	ev.UpdatedAt = baseTime
}

type fakeMailbox struct {
	mu           sync.Mutex
	messages     map[string]*models.Email
	failing      map[string]error
	inbox        []string
	labeled      []string
	modifyCalls  int
	labelLookups int
}

func newFakeMailbox(emails ...*models.Email) *fakeMailbox {
	m := &fakeMailbox{messages: map[string]*models.Email{}, failing: map[string]error{}}
	for _, e := range emails {
		m.messages[e.MessageID] = e
		m.inbox = append(m.inbox, e.MessageID)
	}
	return m
}

func (f *fakeMailbox) ListMessages(ctx context.Context, query string, max int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int64(len(f.inbox)) > max {
		return append([]string(nil), f.inbox[:max]...), nil
	}
	return append([]string(nil), f.inbox...), nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*models.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[id]; ok {
		return nil, err
	}
	e, ok := f.messages[id]
	if !ok {
		return nil, statusErr(http.StatusNotFound, "Requested entity was not found.")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeMailbox) ModifyLabels(ctx context.Context, ids []string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifyCalls++
	f.labeled = append(f.labeled, ids...)
	return nil
}

func (f *fakeMailbox) LabelID(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelLookups++
	return "Label_7", nil
}

type fakeAnalyzer struct {
	result *models.EmailAnalysis
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, email *models.Email) (*models.EmailAnalysis, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeStore) edit(id string, change func(t *models.Task)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change(f.tasks[id])
	f.tasks[id].LastEditedAt = f.tick()
}
