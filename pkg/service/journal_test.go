package service_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/service"
	"github.com/outflowhq/outflow/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func newTestJournal(t *testing.T) *service.RedisJournal {
	t.Helper()
	mr := miniredis.RunT(t)
	journal, err := service.NewRedisJournal(mr.Addr())
	assert.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestRedisJournal_RecordAndLoad(t *testing.T) {
	journal := newTestJournal(t)

	pending := models.Task{
		ID:        "email-1",
		Type:      models.EmailTaskType,
		Status:    models.PendingTaskStatus,
		Priority:  models.HighPriority,
		Data:      map[string]any{"to": "a@b.c"},
		CreatedAt: time.Now(),
	}
	running := models.Task{
		ID:       "scraper-1",
		Type:     models.ScraperTaskType,
		Status:   models.RunningTaskStatus,
		Priority: models.MediumPriority,
	}
	done := models.Task{
		ID:     "email-2",
		Type:   models.EmailTaskType,
		Status: models.CompletedTaskStatus,
	}

	assert.NoError(t, journal.Record(pending))
	assert.NoError(t, journal.Record(running))
	assert.NoError(t, journal.Record(done))

	loaded, err := journal.LoadPending()
	assert.NoError(t, err)
	assert.Len(t, loaded, 2, "pending and running survive, terminal tasks do not")

	byID := make(map[string]models.Task, len(loaded))
	for _, task := range loaded {
		byID[task.ID] = task
	}
	assert.Contains(t, byID, "email-1")
	assert.Contains(t, byID, "scraper-1")
	assert.Equal(t, "a@b.c", byID["email-1"].Data["to"])
}

func TestRedisJournal_Remove(t *testing.T) {
	journal := newTestJournal(t)

	task := models.Task{ID: "email-1", Type: models.EmailTaskType, Status: models.PendingTaskStatus}
	assert.NoError(t, journal.Record(task))
	assert.NoError(t, journal.Remove("email-1"))

	loaded, err := journal.LoadPending()
	assert.NoError(t, err)
	assert.Empty(t, loaded)

	// Removing twice is harmless.
	assert.NoError(t, journal.Remove("email-1"))
}

func TestRedisJournal_QueueWritesThrough(t *testing.T) {
	journal := newTestJournal(t)

	tq := newTestQueue()
	tq.SetJournal(journal)

	id, err := tq.AddTask(models.EmailTaskType, models.MediumPriority, map[string]any{"to": "x@y.z"})
	assert.NoError(t, err)

	loaded, err := journal.LoadPending()
	assert.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Equal(t, id, loaded[0].ID)

	// Completed tasks no longer replay.
	task := tq.GetNextTask(models.EmailTaskType)
	assert.NotNil(t, task)
	assert.NoError(t, tq.CompleteTask(id, nil))

	loaded, err = journal.LoadPending()
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRedisJournal_ReplayOnAttach(t *testing.T) {
	journal := newTestJournal(t)

	// First process: enqueue, start work, then "crash" before completion.
	first := newTestQueue()
	first.SetJournal(journal)
	id, err := first.AddTask(models.EmailTaskType, models.HighPriority, map[string]any{"to": "x@y.z"})
	assert.NoError(t, err)
	assert.NotNil(t, first.GetNextTask(models.EmailTaskType))

	// Second process: AttachJournal replays the interrupted task as pending.
	svc := newTestService(storage.NewMockStore(), service.Collaborators{})
	assert.NoError(t, svc.AttachJournal(journal))

	task, err := svc.Queue().GetTask(id)
	assert.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, task.Status)
	assert.Equal(t, "x@y.z", task.Data["to"])
}
