package models

import "time"

type ExecutionStatus string

const (
	RunningExecutionStatus ExecutionStatus = "running"
	SuccessExecutionStatus ExecutionStatus = "success"
	FailedExecutionStatus  ExecutionStatus = "failed"
)

// WorkflowExecution is the durable record of one workflow run.
// It is created with RunningExecutionStatus when the run starts and
// finalized exactly once with success or failed.
type WorkflowExecution struct {
	ID          string          `json:"id" db:"id"`
	WorkflowID  int64           `json:"workflow_id" db:"workflow_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	BusinessID  string          `json:"business_id,omitempty" db:"business_id"`
	Status      ExecutionStatus `json:"status" db:"status"`
	StartedAt   time.Time       `json:"started_at" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMsg    string          `json:"error,omitempty" db:"error_msg"`
	Logs        []string        `json:"logs"`
}

// TriggerExecution records one evaluation of a scheduled or webhook
// trigger, independent of the full run log. Used for audit and analytics.
type TriggerExecution struct {
	ID         int64     `json:"id" db:"id"`
	WorkflowID int64     `json:"workflow_id" db:"workflow_id"`
	TriggerID  string    `json:"trigger_id" db:"trigger_id"`
	Status     string    `json:"status" db:"status"`
	ExecutedAt time.Time `json:"executed_at" db:"executed_at"`
	ErrorMsg   string    `json:"error,omitempty" db:"error_msg"`
}
