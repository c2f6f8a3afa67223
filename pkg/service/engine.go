package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// DefaultInlineDelayMax is the longest delay a run will wait out
	// in-process. Longer delays suspend the run and re-enqueue a
	// continuation task at expiry, so multi-hour delays never hold a slot.
	DefaultInlineDelayMax = 30 * time.Second

	// stepLimitFactor bounds the walk on cyclic graphs; a run visiting
	// more than len(nodes)*stepLimitFactor nodes is aborted.
	stepLimitFactor = 25
)

// NodeResult is the uniform outcome contract of every node handler.
// NextNodeID overrides edge resolution (condition nodes pick a branch);
// suspend asks the engine to park the run and resume at resumeNode later.
type NodeResult struct {
	Success    bool
	Output     map[string]any
	ErrorMsg   string
	NextNodeID string

	suspend    bool
	resumeNode string
	resumeIn   time.Duration
}

// Enqueuer is the slice of the task queue the engine needs to schedule
// continuation tasks for suspended runs.
type Enqueuer interface {
	AddTask(taskType models.TaskType, priority models.TaskPriority, data map[string]any, opts ...TaskOption) (string, error)
}

// DelayScheduler schedules a callback after a duration. The default uses
// time.AfterFunc; tests substitute an immediate implementation.
type DelayScheduler func(d time.Duration, fn func())

// EngineOption customizes engine behaviour.
type EngineOption func(*Engine)

// WithClock replaces the inline-delay sleep. The function must honor
// context cancellation.
func WithClock(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// WithInlineDelayMax sets the threshold above which delay nodes suspend
// the run instead of sleeping inline.
func WithInlineDelayMax(d time.Duration) EngineOption {
	return func(e *Engine) { e.inlineDelayMax = d }
}

// WithDelayScheduler replaces the scheduler used for suspended-run
// continuations.
func WithDelayScheduler(s DelayScheduler) EngineOption {
	return func(e *Engine) { e.schedule = s }
}

// Engine walks a workflow graph node by node, threading a mutable variable
// context through the handlers and recording a linear execution log. A run
// is deterministic for a fixed graph and trigger input.
type Engine struct {
	store          storage.Store
	enqueuer       Enqueuer
	collab         Collaborators
	logger         Logger
	sleep          func(ctx context.Context, d time.Duration) error
	schedule       DelayScheduler
	inlineDelayMax time.Duration
}

func NewEngine(store storage.Store, enqueuer Enqueuer, collab Collaborators, logger Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          store,
		enqueuer:       enqueuer,
		collab:         collab,
		logger:         logger,
		inlineDelayMax: DefaultInlineDelayMax,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState carries the per-run mutable state. Each run owns its variables
// exclusively; concurrent runs of the same workflow never share state.
type runState struct {
	execID     string
	wf         models.Workflow
	vars       map[string]any
	logs       []string
	edges      map[string][]models.Edge // outgoing edges by source, insertion order
	nodesByID  map[string]models.Node
	userID     string
	businessID string
}

func newRunState(execID string, wf models.Workflow, vars map[string]any, userID, businessID string) *runState {
	rs := &runState{
		execID:     execID,
		wf:         wf,
		vars:       vars,
		edges:      make(map[string][]models.Edge),
		nodesByID:  make(map[string]models.Node, len(wf.Nodes)),
		userID:     userID,
		businessID: businessID,
	}
	for _, edge := range wf.Edges {
		rs.edges[edge.Source] = append(rs.edges[edge.Source], edge)
	}
	for _, node := range wf.Nodes {
		rs.nodesByID[node.ID] = node
	}
	return rs
}

func (rs *runState) logf(format string, args ...interface{}) {
	rs.logs = append(rs.logs, fmt.Sprintf(format, args...))
}

// outgoing returns the edge chosen when a handler does not pick one
// explicitly: the first outgoing edge in insertion order. Fan-out to
// multiple nodes is not supported.
func (rs *runState) outgoing(nodeID string) (models.Edge, bool) {
	edges := rs.edges[nodeID]
	if len(edges) == 0 {
		return models.Edge{}, false
	}
	return edges[0], true
}

// branch returns the target of the outgoing edge tagged with the given
// handle.
func (rs *runState) branch(nodeID, handle string) (string, bool) {
	for _, edge := range rs.edges[nodeID] {
		if edge.SourceHandle == handle {
			return edge.Target, true
		}
	}
	return "", false
}

// Execute runs one workflow against one trigger input, optionally bound to
// a target business. It records the run in the execution history and
// returns the execution ID together with the run's terminal error, if any.
// A suspended run (long delay) returns a nil error; the continuation task
// finalizes the history record.
func (e *Engine) Execute(ctx context.Context, wf models.Workflow, input map[string]any, userID, businessID string) (string, error) {
	execID := uuid.NewString()
	exec := models.WorkflowExecution{
		ID:         execID,
		WorkflowID: wf.ID,
		UserID:     userID,
		BusinessID: businessID,
		Status:     models.RunningExecutionStatus,
		StartedAt:  time.Now(),
	}
	if err := e.store.CreateExecution(exec); err != nil {
		return "", errors.Wrap(err, "failed to record run start")
	}

	vars := make(map[string]any, len(input))
	for k, v := range input {
		vars[k] = v
	}
	rs := newRunState(execID, wf, vars, userID, businessID)

	trigger, ok := e.findTrigger(wf)
	if !ok {
		rs.logf("Run aborted: no trigger node")
		return execID, e.finalize(rs, errors.New("no trigger node"))
	}
	rs.logf("Trigger %s fired", trigger.ID)

	next, ok := rs.outgoing(trigger.ID)
	if !ok {
		// A trigger with no outgoing edge is a successful empty run.
		return execID, e.finalize(rs, nil)
	}
	return execID, e.walk(ctx, rs, next.Target)
}

// Resume continues a suspended run from the given node. Variables and logs
// are the snapshot taken at suspension time.
func (e *Engine) Resume(ctx context.Context, wf models.Workflow, execID, nodeID string, vars map[string]any, logs []string, userID, businessID string) error {
	rs := newRunState(execID, wf, vars, userID, businessID)
	rs.logs = logs
	rs.logf("Run resumed at node %s", nodeID)
	return e.walk(ctx, rs, nodeID)
}

func (e *Engine) findTrigger(wf models.Workflow) (models.Node, bool) {
	for _, node := range wf.Nodes {
		if node.Type == models.TriggerNode {
			return node, true
		}
	}
	return models.Node{}, false
}

// walk executes nodes starting at cursor until the graph runs out, a
// handler fails, or the run suspends. Failures abort immediately; no
// downstream node executes and already-performed side effects stay done.
func (e *Engine) walk(ctx context.Context, rs *runState, cursor string) error {
	stepLimit := len(rs.wf.Nodes) * stepLimitFactor
	for steps := 0; cursor != ""; steps++ {
		if steps >= stepLimit {
			rs.logf("Run aborted: step limit reached at node %s", cursor)
			return e.finalize(rs, errors.Errorf("step limit reached at node %s", cursor))
		}

		node, ok := rs.nodesByID[cursor]
		if !ok {
			rs.logf("Run aborted: edge points to unknown node %s", cursor)
			return e.finalize(rs, errors.Errorf("unknown node %s", cursor))
		}

		result := e.execNode(ctx, rs, node)
		if result.suspend {
			edge, ok := rs.outgoing(node.ID)
			if !ok {
				// Nothing downstream of the delay; the run is done.
				rs.logf("Node %s (%s) executed", node.ID, node.Type)
				break
			}
			result.resumeNode = edge.Target
			rs.logf("Node %s (%s): run suspended for %s", node.ID, node.Type, result.resumeIn)
			return e.suspend(rs, result)
		}
		if !result.Success {
			rs.logf("Node %s (%s) failed: %s", node.ID, node.Type, result.ErrorMsg)
			return e.finalize(rs, errors.Errorf("node %s failed: %s", node.ID, result.ErrorMsg))
		}
		rs.logf("Node %s (%s) executed", node.ID, node.Type)

		if result.NextNodeID != "" {
			cursor = result.NextNodeID
			continue
		}
		edge, ok := rs.outgoing(node.ID)
		if !ok {
			break
		}
		cursor = edge.Target
	}
	return e.finalize(rs, nil)
}

// finalize writes the terminal history record. The run error is returned
// unchanged so the workflow executor can feed the task retry policy.
func (e *Engine) finalize(rs *runState, runErr error) error {
	status := models.SuccessExecutionStatus
	errMsg := ""
	if runErr != nil {
		status = models.FailedExecutionStatus
		errMsg = runErr.Error()
		rs.logf("Run failed: %v", runErr)
	} else {
		rs.logf("Run completed")
	}
	if err := e.store.CompleteExecution(rs.execID, status, errMsg, rs.logs); err != nil {
		e.logger.Errorf("Failed to record run completion for %s: %v", rs.execID, err)
		if runErr == nil {
			return errors.Wrap(err, "failed to record run completion")
		}
	}
	if runErr != nil {
		e.logger.Errorf("Run %s failed: %v", rs.execID, runErr)
	} else {
		e.logger.Infof("Run %s completed", rs.execID)
	}
	return runErr
}

// suspend parks the run: the history record stays running, and a
// continuation task carrying the cursor and variable snapshot is enqueued
// when the delay expires.
func (e *Engine) suspend(rs *runState, result NodeResult) error {
	data := map[string]any{
		"workflow_id":    rs.wf.ID,
		"execution_id":   rs.execID,
		"resume_node_id": result.resumeNode,
		"variables":      rs.vars,
		"logs":           rs.logs,
		"user_id":        rs.userID,
		"business_id":    rs.businessID,
	}
	e.schedule(result.resumeIn, func() {
		if _, err := e.enqueuer.AddTask(models.WorkflowTaskType, models.HighPriority, data); err != nil {
			e.logger.Errorf("Failed to enqueue continuation for run %s: %v", rs.execID, err)
			if storeErr := e.store.CompleteExecution(rs.execID, models.FailedExecutionStatus,
				fmt.Sprintf("failed to enqueue continuation: %v", err), rs.logs); storeErr != nil {
				e.logger.Errorf("Failed to record run failure for %s: %v", rs.execID, storeErr)
			}
		}
	})
	e.logger.Infof("Run %s suspended, resuming at node %s in %s", rs.execID, result.resumeNode, result.resumeIn)
	return nil
}
