package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for the service layer.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// TaskOption overrides per-task settings at enqueue time.
type TaskOption func(*models.Task)

// WithMaxRetries overrides the queue's default retry ceiling for one task.
func WithMaxRetries(n int) TaskOption {
	return func(t *models.Task) {
		t.MaxRetries = n
	}
}

// TaskQueue owns the per-type queues, the running sets enforcing the
// concurrency caps, and the task table. All operations lock the queue as a
// whole so the queue/running-set pair stays consistent under concurrent
// processor loops.
type TaskQueue struct {
	mu      sync.Mutex
	configs map[models.TaskType]models.QueueConfig
	tasks   map[string]*models.Task
	pending map[models.TaskType][]string
	running map[models.TaskType]map[string]struct{}
	journal TaskJournal
	logger  Logger
}

func NewTaskQueue(configs map[models.TaskType]models.QueueConfig, logger Logger) *TaskQueue {
	tq := &TaskQueue{
		configs: configs,
		tasks:   make(map[string]*models.Task),
		pending: make(map[models.TaskType][]string),
		running: make(map[models.TaskType]map[string]struct{}),
		logger:  logger,
	}
	for taskType := range configs {
		tq.pending[taskType] = []string{}
		tq.running[taskType] = make(map[string]struct{})
	}
	return tq
}

// SetJournal attaches an optional journal mirroring task state changes to a
// durable store. Must be called before the queue is in use.
func (tq *TaskQueue) SetJournal(j TaskJournal) {
	tq.journal = j
}

// AddTask enqueues a new task and returns its generated ID. It fails fast
// on task types without a registered queue configuration.
func (tq *TaskQueue) AddTask(taskType models.TaskType, priority models.TaskPriority, data map[string]any, opts ...TaskOption) (string, error) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	cfg, ok := tq.configs[taskType]
	if !ok {
		return "", errors.Errorf("no queue configured for task type '%s'", taskType)
	}
	if priority.Rank() == 0 {
		return "", errors.Errorf("invalid priority '%s'", priority)
	}

	task := &models.Task{
		ID:         fmt.Sprintf("%s-%s", taskType, uuid.NewString()),
		Type:       taskType,
		Status:     models.PendingTaskStatus,
		Priority:   priority,
		Data:       data,
		CreatedAt:  time.Now(),
		MaxRetries: cfg.MaxRetries,
	}
	for _, opt := range opts {
		opt(task)
	}

	tq.tasks[task.ID] = task
	tq.insertPending(task)
	tq.record(task)
	tq.logger.Infof("Enqueued task %s with priority %s", task.ID, priority)
	return task.ID, nil
}

// insertPending places the task after every pending task of priority
// greater than or equal to its own, so equal priorities stay FIFO.
func (tq *TaskQueue) insertPending(task *models.Task) {
	queue := tq.pending[task.Type]
	pos := len(queue)
	for i, id := range queue {
		if tq.tasks[id].Priority.Rank() < task.Priority.Rank() {
			pos = i
			break
		}
	}
	queue = append(queue, "")
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = task.ID
	tq.pending[task.Type] = queue
}

// GetNextTask returns the highest-priority pending task for the type, or
// nil when the type's concurrency cap is reached or nothing is pending.
// The returned task is atomically marked running; membership in the
// running set is the dispatch guard against double execution.
func (tq *TaskQueue) GetNextTask(taskType models.TaskType) *models.Task {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	cfg, ok := tq.configs[taskType]
	if !ok {
		return nil
	}
	if len(tq.running[taskType]) >= cfg.MaxConcurrent {
		return nil
	}
	queue := tq.pending[taskType]
	if len(queue) == 0 {
		return nil
	}

	task := tq.tasks[queue[0]]
	tq.pending[taskType] = queue[1:]

	now := time.Now()
	task.Status = models.RunningTaskStatus
	task.StartedAt = &now
	tq.running[taskType][task.ID] = struct{}{}
	tq.record(task)

	snapshot := *task
	return &snapshot
}

// CompleteTask records the outcome of a dispatched task. A nil taskErr
// marks it completed; otherwise the task goes back to pending until its
// failure count exceeds MaxRetries, then it is marked failed. Calling it
// on an already-terminal task is a no-op.
func (tq *TaskQueue) CompleteTask(taskID string, taskErr error) error {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	task, ok := tq.tasks[taskID]
	if !ok {
		return errors.Errorf("task %s not found", taskID)
	}
	if task.Status.Terminal() {
		tq.logger.Infof("Ignoring completion of terminal task %s (status %s)", taskID, task.Status)
		return nil
	}

	delete(tq.running[task.Type], taskID)

	if taskErr == nil {
		now := time.Now()
		task.Status = models.CompletedTaskStatus
		task.CompletedAt = &now
		tq.removePending(task)
		tq.record(task)
		tq.logger.Infof("Task %s completed", taskID)
		return nil
	}

	task.RetryCount++
	task.ErrorMsg = taskErr.Error()
	if task.RetryCount <= task.MaxRetries {
		task.Status = models.PendingTaskStatus
		task.StartedAt = nil
		tq.insertPending(task)
		tq.record(task)
		tq.logger.Infof("Task %s failed (attempt %d/%d), retrying: %v", taskID, task.RetryCount, task.MaxRetries, taskErr)
		return nil
	}

	now := time.Now()
	task.Status = models.FailedTaskStatus
	task.CompletedAt = &now
	tq.removePending(task)
	tq.record(task)
	tq.logger.Errorf("Task %s failed permanently after %d attempts: %v", taskID, task.RetryCount, taskErr)
	return nil
}

// CancelTask marks a non-terminal task cancelled and removes it from
// dispatch. Returns false when the task is unknown or already terminal.
func (tq *TaskQueue) CancelTask(taskID string) bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	task, ok := tq.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return false
	}

	now := time.Now()
	task.Status = models.CancelledTaskStatus
	task.CompletedAt = &now
	delete(tq.running[task.Type], taskID)
	tq.removePending(task)
	tq.record(task)
	tq.logger.Infof("Task %s cancelled", taskID)
	return true
}

func (tq *TaskQueue) removePending(task *models.Task) {
	queue := tq.pending[task.Type]
	for i, id := range queue {
		if id == task.ID {
			tq.pending[task.Type] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// GetTask returns a snapshot of the task with the given ID.
func (tq *TaskQueue) GetTask(taskID string) (models.Task, error) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	task, ok := tq.tasks[taskID]
	if !ok {
		return models.Task{}, errors.Errorf("task %s not found", taskID)
	}
	return *task, nil
}

// GetTasksByType returns snapshots of all stored tasks of the given type.
func (tq *TaskQueue) GetTasksByType(taskType models.TaskType) []models.Task {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	var out []models.Task
	for _, task := range tq.tasks {
		if task.Type == taskType {
			out = append(out, *task)
		}
	}
	return out
}

// GetActiveTasks returns all pending and running tasks across every type.
func (tq *TaskQueue) GetActiveTasks() []models.Task {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	var out []models.Task
	for _, task := range tq.tasks {
		if task.Status == models.PendingTaskStatus || task.Status == models.RunningTaskStatus {
			out = append(out, *task)
		}
	}
	return out
}

// GetStats summarizes the queue for one task type. Average processing time
// covers completed tasks with both start and completion timestamps.
func (tq *TaskQueue) GetStats(taskType models.TaskType) models.QueueStats {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	var stats models.QueueStats
	var total time.Duration
	var timed int
	for _, task := range tq.tasks {
		if task.Type != taskType {
			continue
		}
		switch task.Status {
		case models.PendingTaskStatus:
			stats.Pending++
		case models.RunningTaskStatus:
			stats.Running++
		case models.CompletedTaskStatus:
			stats.Completed++
			if task.StartedAt != nil && task.CompletedAt != nil {
				total += task.CompletedAt.Sub(*task.StartedAt)
				timed++
			}
		case models.FailedTaskStatus:
			stats.Failed++
		}
	}
	if timed > 0 {
		stats.AvgProcessingTime = total / time.Duration(timed)
	}
	return stats
}

// ClearCompleted purges terminal task rows, for the given types or for all
// types when none are given. Pending and running tasks are untouched.
func (tq *TaskQueue) ClearCompleted(types ...models.TaskType) int {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	match := func(t models.TaskType) bool {
		if len(types) == 0 {
			return true
		}
		for _, candidate := range types {
			if candidate == t {
				return true
			}
		}
		return false
	}

	cleared := 0
	for id, task := range tq.tasks {
		if task.Status.Terminal() && match(task.Type) {
			delete(tq.tasks, id)
			tq.remove(id)
			cleared++
		}
	}
	if cleared > 0 {
		tq.logger.Infof("Cleared %d terminal tasks", cleared)
	}
	return cleared
}

// Restore re-inserts journaled tasks after a restart, keeping their IDs
// and retry counts. Tasks caught mid-flight are requeued as pending.
func (tq *TaskQueue) Restore(tasks []models.Task) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	for _, restored := range tasks {
		if _, ok := tq.configs[restored.Type]; !ok {
			tq.logger.Errorf("Dropping journaled task %s: no queue for type '%s'", restored.ID, restored.Type)
			continue
		}
		task := restored
		task.Status = models.PendingTaskStatus
		task.StartedAt = nil
		tq.tasks[task.ID] = &task
		tq.insertPending(&task)
		tq.record(&task)
	}
	if len(tasks) > 0 {
		tq.logger.Infof("Restored %d tasks from journal", len(tasks))
	}
}

func (tq *TaskQueue) record(task *models.Task) {
	if tq.journal == nil {
		return
	}
	if err := tq.journal.Record(*task); err != nil {
		tq.logger.Errorf("Failed to journal task %s: %v", task.ID, err)
	}
}

func (tq *TaskQueue) remove(taskID string) {
	if tq.journal == nil {
		return
	}
	if err := tq.journal.Remove(taskID); err != nil {
		tq.logger.Errorf("Failed to remove task %s from journal: %v", taskID, err)
	}
}
