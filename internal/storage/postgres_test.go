package storage_test

import (
	"testing"
	"time"

	intstorage "github.com/outflowhq/outflow/internal/storage"
	"github.com/outflowhq/outflow/internal/testutil"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTxStore opens a transactional store over the shared test database and
// rolls it back on cleanup, so tests stay isolated.
func newTxStore(t *testing.T, td *testutil.TestDB) storage.Store {
	t.Helper()
	base, err := intstorage.NewPostgresStore(td.ConnStr)
	require.NoError(t, err)
	tx, err := base.Begin()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := tx.Rollback(); err != nil {
			t.Errorf("Failed to rollback tx: %v", err)
		}
		if err := base.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return tx
}

func sampleWorkflow() models.Workflow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return models.Workflow{
		UserID:   "user-1",
		Name:     "lead nurture",
		IsActive: true,
		Timezone: "America/New_York",
		Nodes: []models.Node{
			{ID: "t1", Type: models.TriggerNode, Data: map[string]any{}},
			{ID: "e1", Type: models.EmailNode, Data: map[string]any{"to": "lead@x.io", "subject": "Hi {name}"}},
		},
		Edges: []models.Edge{
			{ID: "t1-e1", Source: "t1", Target: "e1"},
		},
		Targets: models.TargetCriteria{
			BusinessType: "restaurant",
			Keywords:     []string{"pizza", "deli"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresStore_Workflows(t *testing.T) {
	td := testutil.SetupTestDB(t)
	defer td.Teardown(t)

	t.Run("SaveAndGetRoundTrip", func(t *testing.T) {
		store := newTxStore(t, td)

		id, err := store.SaveWorkflow(sampleWorkflow())
		require.NoError(t, err)
		assert.NotZero(t, id)

		got, err := store.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, "lead nurture", got.Name)
		assert.True(t, got.IsActive)
		assert.Equal(t, "America/New_York", got.Timezone)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, models.TriggerNode, got.Nodes[0].Type)
		assert.Equal(t, "Hi {name}", got.Nodes[1].Data["subject"])
		require.Len(t, got.Edges, 1)
		assert.Equal(t, "e1", got.Edges[0].Target)
		assert.Equal(t, "restaurant", got.Targets.BusinessType)
		assert.Equal(t, []string{"pizza", "deli"}, got.Targets.Keywords)
	})

	t.Run("GetUnknownWorkflow", func(t *testing.T) {
		store := newTxStore(t, td)

		_, err := store.GetWorkflow(99999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		store := newTxStore(t, td)

		first := sampleWorkflow()
		first.Name = "first"
		second := sampleWorkflow()
		second.Name = "second"
		second.CreatedAt = second.CreatedAt.Add(time.Minute)

		_, err := store.SaveWorkflow(first)
		require.NoError(t, err)
		_, err = store.SaveWorkflow(second)
		require.NoError(t, err)

		workflows, err := store.ListWorkflows()
		require.NoError(t, err)
		require.Len(t, workflows, 2)
		assert.Equal(t, "second", workflows[0].Name, "newest first")
	})
}

func TestPostgresStore_Executions(t *testing.T) {
	td := testutil.SetupTestDB(t)
	defer td.Teardown(t)

	t.Run("CreateAndComplete", func(t *testing.T) {
		store := newTxStore(t, td)

		wfID, err := store.SaveWorkflow(sampleWorkflow())
		require.NoError(t, err)

		exec := models.WorkflowExecution{
			ID:         "exec-1",
			WorkflowID: wfID,
			UserID:     "user-1",
			BusinessID: "biz-1",
			Status:     models.RunningExecutionStatus,
			StartedAt:  time.Now().UTC(),
		}
		require.NoError(t, store.CreateExecution(exec))

		got, err := store.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunningExecutionStatus, got.Status)
		assert.Nil(t, got.CompletedAt)

		logs := []string{"Trigger t1 fired", "Node e1 (email) executed", "Run completed"}
		require.NoError(t, store.CompleteExecution("exec-1", models.SuccessExecutionStatus, "", logs))

		got, err = store.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.SuccessExecutionStatus, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, logs, got.Logs)
	})

	t.Run("CompleteIsExactlyOnce", func(t *testing.T) {
		store := newTxStore(t, td)

		wfID, err := store.SaveWorkflow(sampleWorkflow())
		require.NoError(t, err)
		require.NoError(t, store.CreateExecution(models.WorkflowExecution{
			ID:         "exec-2",
			WorkflowID: wfID,
			UserID:     "user-1",
			Status:     models.RunningExecutionStatus,
			StartedAt:  time.Now().UTC(),
		}))

		require.NoError(t, store.CompleteExecution("exec-2", models.FailedExecutionStatus, "node e1 failed", []string{"Run failed"}))

		// The second finalization finds no open row.
		err = store.CompleteExecution("exec-2", models.SuccessExecutionStatus, "", nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		got, err := store.GetExecution("exec-2")
		require.NoError(t, err)
		assert.Equal(t, models.FailedExecutionStatus, got.Status)
		assert.Equal(t, "node e1 failed", got.ErrorMsg)
	})

	t.Run("CompleteUnknownExecution", func(t *testing.T) {
		store := newTxStore(t, td)

		err := store.CompleteExecution("missing", models.SuccessExecutionStatus, "", nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListByWorkflow", func(t *testing.T) {
		store := newTxStore(t, td)

		wfID, err := store.SaveWorkflow(sampleWorkflow())
		require.NoError(t, err)
		otherID, err := store.SaveWorkflow(sampleWorkflow())
		require.NoError(t, err)

		base := time.Now().UTC()
		for i, id := range []string{"exec-a", "exec-b"} {
			require.NoError(t, store.CreateExecution(models.WorkflowExecution{
				ID:         id,
				WorkflowID: wfID,
				UserID:     "user-1",
				Status:     models.RunningExecutionStatus,
				StartedAt:  base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, store.CreateExecution(models.WorkflowExecution{
			ID:         "exec-other",
			WorkflowID: otherID,
			UserID:     "user-1",
			Status:     models.RunningExecutionStatus,
			StartedAt:  base,
		}))

		executions, err := store.ListExecutions(wfID)
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, "exec-b", executions[0].ID, "newest first")
	})
}

func TestPostgresStore_TriggerExecutions(t *testing.T) {
	td := testutil.SetupTestDB(t)
	defer td.Teardown(t)

	store := newTxStore(t, td)

	wfID, err := store.SaveWorkflow(sampleWorkflow())
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, store.RecordTriggerExecution(models.TriggerExecution{
		WorkflowID: wfID,
		TriggerID:  "t1",
		Status:     "enqueued",
		ExecutedAt: base,
	}))
	require.NoError(t, store.RecordTriggerExecution(models.TriggerExecution{
		WorkflowID: wfID,
		TriggerID:  "t1",
		Status:     "skipped",
		ExecutedAt: base.Add(time.Minute),
		ErrorMsg:   "workflow is inactive",
	}))

	audits, err := store.ListTriggerExecutions(wfID)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "skipped", audits[0].Status, "newest first")
	assert.Equal(t, "workflow is inactive", audits[0].ErrorMsg)
	assert.NotZero(t, audits[0].ID)
}
