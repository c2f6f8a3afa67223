package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore persists workflows and execution history. It implements
// storage.Store over either *sqlx.DB or *sqlx.Tx, so Begin hands out the
// same type wrapped around a transaction.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// workflowRow maps the workflows table; nodes, edges and targets are JSONB.
type workflowRow struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	Name        string    `db:"name"`
	Nodes       []byte    `db:"nodes"`
	Edges       []byte    `db:"edges"`
	IsActive    bool      `db:"is_active"`
	Timezone    string    `db:"timezone"`
	TriggerSpec string    `db:"trigger_spec"`
	Targets     []byte    `db:"targets"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r workflowRow) toModel() (models.Workflow, error) {
	wf := models.Workflow{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		IsActive:    r.IsActive,
		Timezone:    r.Timezone,
		TriggerSpec: r.TriggerSpec,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Nodes) > 0 {
		if err := json.Unmarshal(r.Nodes, &wf.Nodes); err != nil {
			return models.Workflow{}, fmt.Errorf("decode nodes for workflow %d: %w", r.ID, err)
		}
	}
	if len(r.Edges) > 0 {
		if err := json.Unmarshal(r.Edges, &wf.Edges); err != nil {
			return models.Workflow{}, fmt.Errorf("decode edges for workflow %d: %w", r.ID, err)
		}
	}
	if len(r.Targets) > 0 {
		if err := json.Unmarshal(r.Targets, &wf.Targets); err != nil {
			return models.Workflow{}, fmt.Errorf("decode targets for workflow %d: %w", r.ID, err)
		}
	}
	return wf, nil
}

// SaveWorkflow creates a new workflow and returns its ID
func (s *PostgresStore) SaveWorkflow(w models.Workflow) (int64, error) {
	nodes, err := json.Marshal(w.Nodes)
	if err != nil {
		return 0, fmt.Errorf("encode nodes: %w", err)
	}
	edges, err := json.Marshal(w.Edges)
	if err != nil {
		return 0, fmt.Errorf("encode edges: %w", err)
	}
	targets, err := json.Marshal(w.Targets)
	if err != nil {
		return 0, fmt.Errorf("encode targets: %w", err)
	}

	var wfID int64
	err = s.db.QueryRowx(`
		INSERT INTO workflows (user_id, name, nodes, edges, is_active, timezone, trigger_spec, targets, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		w.UserID, w.Name, nodes, edges, w.IsActive, w.Timezone, w.TriggerSpec, targets, w.CreatedAt, w.UpdatedAt).Scan(&wfID)
	if err != nil {
		return 0, fmt.Errorf("save workflow: %w", err)
	}
	return wfID, nil
}

// GetWorkflow retrieves a workflow by ID, including its graph
func (s *PostgresStore) GetWorkflow(id int64) (models.Workflow, error) {
	var row workflowRow
	err := s.db.Get(&row, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	return row.toModel()
}

func (s *PostgresStore) ListWorkflows() ([]models.Workflow, error) {
	var rows []workflowRow
	err := s.db.Select(&rows, "SELECT * FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	workflows := make([]models.Workflow, 0, len(rows))
	for _, row := range rows {
		wf, err := row.toModel()
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// CreateExecution records the start of a workflow run
func (s *PostgresStore) CreateExecution(e models.WorkflowExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_executions (id, workflow_id, user_id, business_id, status, started_at, error_msg, logs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.WorkflowID, e.UserID, e.BusinessID, e.Status, e.StartedAt, e.ErrorMsg, pq.Array(nonNilLogs(e.Logs)))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// CompleteExecution finalizes a run exactly once with its terminal status
func (s *PostgresStore) CompleteExecution(id string, status models.ExecutionStatus, errorMsg string, logs []string) error {
	result, err := s.db.Exec(`
		UPDATE workflow_executions
		SET status = $1, error_msg = $2, logs = $3, completed_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND completed_at IS NULL`,
		status, errorMsg, pq.Array(nonNilLogs(logs)), id)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nonNilLogs keeps the logs column NOT NULL friendly.
func nonNilLogs(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

type executionRow struct {
	ID          string                 `db:"id"`
	WorkflowID  int64                  `db:"workflow_id"`
	UserID      string                 `db:"user_id"`
	BusinessID  string                 `db:"business_id"`
	Status      models.ExecutionStatus `db:"status"`
	StartedAt   time.Time              `db:"started_at"`
	CompletedAt *time.Time             `db:"completed_at"`
	ErrorMsg    string                 `db:"error_msg"`
	Logs        pq.StringArray         `db:"logs"`
}

func (r executionRow) toModel() models.WorkflowExecution {
	return models.WorkflowExecution{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		UserID:      r.UserID,
		BusinessID:  r.BusinessID,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		ErrorMsg:    r.ErrorMsg,
		Logs:        r.Logs,
	}
}

func (s *PostgresStore) GetExecution(id string) (models.WorkflowExecution, error) {
	var row executionRow
	err := s.db.Get(&row, "SELECT * FROM workflow_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListExecutions(workflowID int64) ([]models.WorkflowExecution, error) {
	var rows []executionRow
	err := s.db.Select(&rows, "SELECT * FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at DESC", workflowID)
	if err != nil {
		return nil, err
	}
	executions := make([]models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		executions = append(executions, row.toModel())
	}
	return executions, nil
}

// RecordTriggerExecution appends one trigger audit row
func (s *PostgresStore) RecordTriggerExecution(t models.TriggerExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO trigger_executions (workflow_id, trigger_id, status, executed_at, error_msg)
		VALUES ($1, $2, $3, $4, $5)`,
		t.WorkflowID, t.TriggerID, t.Status, t.ExecutedAt, t.ErrorMsg)
	if err != nil {
		return fmt.Errorf("record trigger execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTriggerExecutions(workflowID int64) ([]models.TriggerExecution, error) {
	var triggers []models.TriggerExecution
	err := s.db.Select(&triggers, "SELECT * FROM trigger_executions WHERE workflow_id = $1 ORDER BY executed_at DESC", workflowID)
	if err != nil {
		return nil, err
	}
	return triggers, nil
}
