package models

import "time"

type TaskType string

const (
	WorkflowTaskType TaskType = "workflow"
	ScraperTaskType  TaskType = "scraper"
	EmailTaskType    TaskType = "email"
	SocialTaskType   TaskType = "social"
)

// TaskTypes lists every known task type; each one has its own queue,
// processor loop and executor.
var TaskTypes = []TaskType{WorkflowTaskType, ScraperTaskType, EmailTaskType, SocialTaskType}

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "pending"
	RunningTaskStatus   TaskStatus = "running"
	CompletedTaskStatus TaskStatus = "completed"
	FailedTaskStatus    TaskStatus = "failed"
	CancelledTaskStatus TaskStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == FailedTaskStatus || s == CancelledTaskStatus
}

type TaskPriority string

const (
	LowPriority    TaskPriority = "low"
	MediumPriority TaskPriority = "medium"
	HighPriority   TaskPriority = "high"
)

// Rank maps a priority to a comparable weight; higher dequeues first.
func (p TaskPriority) Rank() int {
	switch p {
	case HighPriority:
		return 3
	case MediumPriority:
		return 2
	case LowPriority:
		return 1
	}
	return 0
}

// Task is one unit of queued work. Data is opaque to the queue and
// interpreted only by the executor registered for the task's type.
type Task struct {
	ID          string         `json:"id"`
	Type        TaskType       `json:"type"`
	Status      TaskStatus     `json:"status"`
	Priority    TaskPriority   `json:"priority"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ErrorMsg    string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
}

// QueueConfig holds the per-type knobs injected at construction time.
type QueueConfig struct {
	MaxConcurrent int
	PollInterval  time.Duration
	MaxRetries    int
}

// QueueStats is a point-in-time snapshot for one task type.
type QueueStats struct {
	Pending           int           `json:"pending"`
	Running           int           `json:"running"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}
