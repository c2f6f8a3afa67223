package storage

import (
	"sync"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/pkg/errors"
)

// mockStore implements Store with in-memory storage for tests and local runs.
type mockStore struct {
	mu         sync.Mutex
	workflows  []models.Workflow
	executions []models.WorkflowExecution
	triggers   []models.TriggerExecution
	nextWfID   int64
	nextTrigID int64
}

func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveWorkflow(w models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWfID++
	w.ID = m.nextWfID
	m.workflows = append(m.workflows, w)
	return w.ID, nil
}

func (m *mockStore) GetWorkflow(id int64) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workflow, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *mockStore) CreateExecution(e models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.executions {
		if existing.ID == e.ID {
			return errors.Errorf("execution %s already exists", e.ID)
		}
	}
	m.executions = append(m.executions, e)
	return nil
}

func (m *mockStore) CompleteExecution(id string, status models.ExecutionStatus, errorMsg string, logs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions {
		if e.ID == id {
			now := time.Now()
			m.executions[i].Status = status
			m.executions[i].ErrorMsg = errorMsg
			m.executions[i].Logs = logs
			m.executions[i].CompletedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) GetExecution(id string) (models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return models.WorkflowExecution{}, ErrNotFound
}

func (m *mockStore) ListExecutions(workflowID int64) ([]models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowExecution
	for _, e := range m.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) RecordTriggerExecution(t models.TriggerExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTrigID++
	t.ID = m.nextTrigID
	m.triggers = append(m.triggers, t)
	return nil
}

func (m *mockStore) ListTriggerExecutions(workflowID int64) ([]models.TriggerExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TriggerExecution
	for _, t := range m.triggers {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	return out, nil
}
