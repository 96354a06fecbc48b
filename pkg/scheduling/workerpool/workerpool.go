package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// TrySubmit queues task for execution with ctx and reports whether it was
// accepted. It never blocks; a full queue or a shut-down pool drops the
// task. Callers that must not be cancelled by their request should pass
// context.WithoutCancel(ctx).
func (p *Pool) TrySubmit(ctx context.Context, task Task) bool {
	if task == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop("pool shut down")
		return false
	}

	select {
	case p.tasks <- taskWithContext{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return true
	default:
		p.drop("queue full")
		return false
	}
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for them to finish or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		go func() {
			p.workerWg.Wait()
			close(p.done)
		}()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerpool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) drop(reason string) {
	p.dropped.Add(1)
	if p.config.OnDrop != nil {
		p.config.OnDrop()
	}
	p.logger.Debug("task dropped", zap.String("reason", reason))
}

// run is the main loop for a worker.
func (p *Pool) run(id int) {
	defer p.workerWg.Done()
	for twc := range p.tasks {
		p.executeTask(id, twc)
	}
}

// executeTask executes a single task with the provided context.
func (p *Pool) executeTask(id int, twc taskWithContext) {
	var err error

	// Handle panics during task execution
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("task panicked",
				zap.Int("worker", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		} else if err != nil {
			p.failed.Add(1)
			p.logger.Warn("task failed", zap.Int("worker", id), zap.Error(err))
		}
		p.completed.Add(1)
	}()

	ctx := twc.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	err = twc.task.Execute(ctx)
}
