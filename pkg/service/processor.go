package service

import (
	"context"
	"sync"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/pkg/errors"
)

// ExecutorFunc performs the real work for one task type. The processor
// knows nothing about executor internals; a nil return marks the task
// completed, anything else feeds the retry bookkeeping.
type ExecutorFunc func(ctx context.Context, data map[string]any) error

// Processor drives the TaskQueue with one polling loop per task type.
// Each tick dispatches at most one task, so dispatch throughput per type
// is capped at 1/PollInterval regardless of MaxConcurrent; MaxConcurrent
// only bounds how many dispatched tasks may be in flight at once. This
// soft-throttle is intentional.
type Processor struct {
	queue     *TaskQueue
	configs   map[models.TaskType]models.QueueConfig
	executors map[models.TaskType]ExecutorFunc
	logger    Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewProcessor(queue *TaskQueue, configs map[models.TaskType]models.QueueConfig, logger Logger) *Processor {
	return &Processor{
		queue:     queue,
		configs:   configs,
		executors: make(map[models.TaskType]ExecutorFunc),
		logger:    logger,
	}
}

// RegisterExecutor binds a task type to its executor. Must be called for
// every configured type before Start.
func (p *Processor) RegisterExecutor(taskType models.TaskType, fn ExecutorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executors[taskType] = fn
}

// Start launches the polling loops. It is idempotent; calling it on a
// running processor logs and returns. It fails fast if any configured
// type is missing an executor.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Infof("Processor already running, ignoring Start")
		return nil
	}
	for taskType := range p.configs {
		if _, ok := p.executors[taskType]; !ok {
			return errors.Errorf("no executor registered for task type '%s'", taskType)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for taskType, cfg := range p.configs {
		p.wg.Add(1)
		go p.pollLoop(loopCtx, taskType, cfg.PollInterval)
		p.logger.Infof("Started %s processor (interval %s, max concurrent %d)", taskType, cfg.PollInterval, cfg.MaxConcurrent)
	}
	return nil
}

// Stop tears down all polling loops and waits for them to exit. Dispatched
// work that is already in flight runs to completion; cancellation of
// individual tasks is cooperative.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Infof("Processor stopped")
}

func (p *Processor) pollLoop(ctx context.Context, taskType models.TaskType, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, taskType)
		}
	}
}

// tick dequeues and dispatches at most one task. The executor call runs in
// its own goroutine so the loop keeps polling while work is in flight.
func (p *Processor) tick(ctx context.Context, taskType models.TaskType) {
	task := p.queue.GetNextTask(taskType)
	if task == nil {
		return
	}

	p.mu.Lock()
	executor := p.executors[taskType]
	p.mu.Unlock()

	go func() {
		p.logger.Infof("Dispatching task %s", task.ID)
		err := executor(ctx, task.Data)
		if completeErr := p.queue.CompleteTask(task.ID, err); completeErr != nil {
			p.logger.Errorf("Failed to complete task %s: %v", task.ID, completeErr)
		}
	}()
}
