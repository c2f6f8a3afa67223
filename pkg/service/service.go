package service

import (
	"context"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/storage"
	"github.com/pkg/errors"
)

// Executors carries the external workers for the non-workflow task types.
// The workflow executor is always the engine; scraper, email and social
// are injected collaborators performing the real outbound work.
type Executors struct {
	Scraper ExecutorFunc
	Email   ExecutorFunc
	Social  ExecutorFunc
}

// WorkflowService is the composition root of the scheduling core: it owns
// the task queue, the per-type processors and the workflow engine, and
// exposes the enqueue/inspection surface consumed by HTTP routes and the
// CLI.
type WorkflowService struct {
	store     storage.Store
	queue     *TaskQueue
	processor *Processor
	engine    *Engine
	logger    Logger
}

func NewWorkflowService(store storage.Store, configs map[models.TaskType]models.QueueConfig, collab Collaborators, ext Executors, logger Logger, opts ...EngineOption) *WorkflowService {
	queue := NewTaskQueue(configs, logger)
	engine := NewEngine(store, queue, collab, logger, opts...)
	processor := NewProcessor(queue, configs, logger)

	s := &WorkflowService{
		store:     store,
		queue:     queue,
		processor: processor,
		engine:    engine,
		logger:    logger,
	}

	processor.RegisterExecutor(models.WorkflowTaskType, s.runWorkflowTask)
	processor.RegisterExecutor(models.ScraperTaskType, orUnconfigured(ext.Scraper, models.ScraperTaskType))
	processor.RegisterExecutor(models.EmailTaskType, orUnconfigured(ext.Email, models.EmailTaskType))
	processor.RegisterExecutor(models.SocialTaskType, orUnconfigured(ext.Social, models.SocialTaskType))
	return s
}

func orUnconfigured(fn ExecutorFunc, taskType models.TaskType) ExecutorFunc {
	if fn != nil {
		return fn
	}
	return func(ctx context.Context, data map[string]any) error {
		return errors.Errorf("no executor wired for task type '%s'", taskType)
	}
}

// Start boots the polling processors. Stop is its counterpart; both are
// safe to call more than once.
func (s *WorkflowService) Start(ctx context.Context) error {
	return s.processor.Start(ctx)
}

func (s *WorkflowService) Stop() {
	s.processor.Stop()
}

// AttachJournal wires a task journal and replays any tasks that survived a
// restart. Call before Start.
func (s *WorkflowService) AttachJournal(journal TaskJournal) error {
	s.queue.SetJournal(journal)
	pending, err := journal.LoadPending()
	if err != nil {
		return errors.Wrap(err, "failed to load journaled tasks")
	}
	s.queue.Restore(pending)
	return nil
}

// Queue exposes the task queue for enqueue and inspection surfaces.
func (s *WorkflowService) Queue() *TaskQueue {
	return s.queue
}

// Engine exposes the workflow engine, mainly for direct runs in tests and
// tooling.
func (s *WorkflowService) Engine() *Engine {
	return s.engine
}

// runWorkflowTask is the workflow executor: it loads the workflow snapshot
// and either starts a fresh run or resumes a suspended one, depending on
// the task payload.
func (s *WorkflowService) runWorkflowTask(ctx context.Context, data map[string]any) error {
	rawID, ok := toFloat(data["workflow_id"])
	if !ok {
		return errors.New("workflow task missing workflow_id")
	}
	wf, err := s.store.GetWorkflow(int64(rawID))
	if err != nil {
		return errors.Wrapf(err, "workflow %d not found", int64(rawID))
	}

	userID := stringField(data, "user_id")
	businessID := stringField(data, "business_id")

	if resumeNode := stringField(data, "resume_node_id"); resumeNode != "" {
		execID := stringField(data, "execution_id")
		vars, _ := data["variables"].(map[string]any)
		if vars == nil {
			vars = make(map[string]any)
		}
		return s.engine.Resume(ctx, wf, execID, resumeNode, vars, stringSlice(data["logs"]), userID, businessID)
	}

	input, _ := data["input"].(map[string]any)
	_, err = s.engine.Execute(ctx, wf, input, userID, businessID)
	return err
}

// FireTrigger records a trigger evaluation and enqueues a workflow run for
// it. Inactive workflows are audited as skipped and not enqueued.
func (s *WorkflowService) FireTrigger(ctx context.Context, workflowID int64, triggerID string, input map[string]any, businessID string) (string, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return "", errors.Wrapf(err, "workflow %d not found", workflowID)
	}

	audit := models.TriggerExecution{
		WorkflowID: workflowID,
		TriggerID:  triggerID,
		ExecutedAt: time.Now(),
	}

	if !wf.IsActive {
		audit.Status = "skipped"
		audit.ErrorMsg = "workflow is inactive"
		if recErr := s.store.RecordTriggerExecution(audit); recErr != nil {
			s.logger.Errorf("Failed to record trigger execution: %v", recErr)
		}
		return "", errors.Errorf("workflow %d is inactive", workflowID)
	}

	taskID, err := s.queue.AddTask(models.WorkflowTaskType, models.MediumPriority, map[string]any{
		"workflow_id": wf.ID,
		"input":       input,
		"user_id":     wf.UserID,
		"business_id": businessID,
	})
	if err != nil {
		audit.Status = "failed"
		audit.ErrorMsg = err.Error()
		if recErr := s.store.RecordTriggerExecution(audit); recErr != nil {
			s.logger.Errorf("Failed to record trigger execution: %v", recErr)
		}
		return "", err
	}

	audit.Status = "enqueued"
	if recErr := s.store.RecordTriggerExecution(audit); recErr != nil {
		s.logger.Errorf("Failed to record trigger execution: %v", recErr)
	}
	s.logger.Infof("Trigger %s fired for workflow %d, task %s", triggerID, workflowID, taskID)
	return taskID, nil
}

// CreateWorkflow persists a workflow definition.
func (s *WorkflowService) CreateWorkflow(wf models.Workflow) (id int64, err error) {
	if wf.Name == "" {
		return 0, errors.New("workflow name cannot be empty")
	}
	if len(wf.Name) > 100 {
		return 0, errors.New("workflow name too long (max 100 characters)")
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	id, err = txStore.SaveWorkflow(wf)
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created workflow '%s' with ID %d", wf.Name, id)
	return id, nil
}

func (s *WorkflowService) GetWorkflow(id int64) (models.Workflow, error) {
	return s.store.GetWorkflow(id)
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

func (s *WorkflowService) GetExecution(id string) (models.WorkflowExecution, error) {
	return s.store.GetExecution(id)
}

func (s *WorkflowService) ListExecutions(workflowID int64) ([]models.WorkflowExecution, error) {
	return s.store.ListExecutions(workflowID)
}

func (s *WorkflowService) ListTriggerExecutions(workflowID int64) ([]models.TriggerExecution, error) {
	return s.store.ListTriggerExecutions(workflowID)
}

// stringSlice coerces []string or []any-of-strings payload fields.
func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
