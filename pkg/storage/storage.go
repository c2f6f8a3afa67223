package storage

import (
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations for Outflow's execution history.
// Begin returns a transactional view of the same interface; Commit and
// Rollback are no-ops outside a transaction.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(id int64) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)

	// Execution history operations
	CreateExecution(e models.WorkflowExecution) error
	CompleteExecution(id string, status models.ExecutionStatus, errorMsg string, logs []string) error
	GetExecution(id string) (models.WorkflowExecution, error)
	ListExecutions(workflowID int64) ([]models.WorkflowExecution, error)

	// Trigger audit operations
	RecordTriggerExecution(t models.TriggerExecution) error
	ListTriggerExecutions(workflowID int64) ([]models.TriggerExecution, error)
}
