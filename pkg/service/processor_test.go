package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func newTestProcessor(tq *service.TaskQueue) *service.Processor {
	return service.NewProcessor(tq, testConfigs(), testLogger{})
}

func registerNoopExecutors(p *service.Processor, except ...models.TaskType) {
	skip := make(map[models.TaskType]bool)
	for _, taskType := range except {
		skip[taskType] = true
	}
	for _, taskType := range models.TaskTypes {
		if !skip[taskType] {
			p.RegisterExecutor(taskType, func(ctx context.Context, data map[string]any) error {
				return nil
			})
		}
	}
}

func TestProcessor_DispatchesAndCompletes(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)

	var mu sync.Mutex
	var seen []map[string]any
	p.RegisterExecutor(models.EmailTaskType, func(ctx context.Context, data map[string]any) error {
		mu.Lock()
		seen = append(seen, data)
		mu.Unlock()
		return nil
	})
	registerNoopExecutors(p, models.EmailTaskType)

	id, err := tq.AddTask(models.EmailTaskType, models.MediumPriority, map[string]any{"to": "a@b.c"})
	assert.NoError(t, err)

	assert.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := tq.GetTask(id)
		return err == nil && task.Status == models.CompletedTaskStatus
	}, "task should complete")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 1)
	assert.Equal(t, "a@b.c", seen[0]["to"])
}

func TestProcessor_RetriesFailedTask(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)

	var mu sync.Mutex
	attempts := 0
	p.RegisterExecutor(models.EmailTaskType, func(ctx context.Context, data map[string]any) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	registerNoopExecutors(p, models.EmailTaskType)

	id, err := tq.AddTask(models.EmailTaskType, models.MediumPriority, nil)
	assert.NoError(t, err)

	assert.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := tq.GetTask(id)
		return err == nil && task.Status == models.CompletedTaskStatus
	}, "task should complete after retries")

	task, err := tq.GetTask(id)
	assert.NoError(t, err)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, "transient failure", task.ErrorMsg, "last recorded error sticks to the row")
}

func TestProcessor_ExhaustsRetries(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)

	p.RegisterExecutor(models.ScraperTaskType, func(ctx context.Context, data map[string]any) error {
		return errors.New("permanent failure")
	})
	registerNoopExecutors(p, models.ScraperTaskType)

	id, err := tq.AddTask(models.ScraperTaskType, models.MediumPriority, nil)
	assert.NoError(t, err)

	assert.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := tq.GetTask(id)
		return err == nil && task.Status == models.FailedTaskStatus
	}, "task should fail terminally")

	task, err := tq.GetTask(id)
	assert.NoError(t, err)
	assert.Equal(t, 3, task.RetryCount, "two retries after the first failure, then terminal")
	assert.Equal(t, "permanent failure", task.ErrorMsg)
}

func TestProcessor_ConcurrencyCapAcrossTicks(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)

	release := make(chan struct{})
	p.RegisterExecutor(models.ScraperTaskType, func(ctx context.Context, data map[string]any) error {
		<-release
		return nil
	})
	registerNoopExecutors(p, models.ScraperTaskType)

	for i := 0; i < 3; i++ {
		_, err := tq.AddTask(models.ScraperTaskType, models.MediumPriority, nil)
		assert.NoError(t, err)
	}

	assert.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	// Two tasks enter flight across successive ticks, the third waits.
	waitFor(t, 2*time.Second, func() bool {
		return tq.GetStats(models.ScraperTaskType).Running == 2
	}, "two scraper tasks should be in flight")

	time.Sleep(50 * time.Millisecond) // several more ticks pass
	stats := tq.GetStats(models.ScraperTaskType)
	assert.Equal(t, 2, stats.Running, "MaxConcurrent=2 holds across ticks")
	assert.Equal(t, 1, stats.Pending)

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return tq.GetStats(models.ScraperTaskType).Completed == 3
	}, "all scraper tasks should complete once released")
}

func TestProcessor_StartIdempotent(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)
	registerNoopExecutors(p)

	assert.NoError(t, p.Start(context.Background()))
	assert.NoError(t, p.Start(context.Background()), "second Start is a logged no-op")
	p.Stop()
	p.Stop() // Stop is also safe to repeat
}

func TestProcessor_StartFailsWithoutExecutor(t *testing.T) {
	tq := newTestQueue()
	p := newTestProcessor(tq)
	registerNoopExecutors(p, models.SocialTaskType)

	err := p.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no executor registered for task type 'social'")
}
