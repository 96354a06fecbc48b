package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks that can be queued.
	// Submissions beyond it are dropped. Must be greater than 0.
	QueueSize int

	// TaskTimeout is the timeout for individual task execution.
	// Zero means no timeout.
	TaskTimeout time.Duration

	// Logger receives task failures and panics. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnDrop is called each time a task is dropped because the queue was
	// full or the pool was shut down.
	OnDrop func()
}

// DefaultConfig returns the configuration used for background metric
// recording.
func DefaultConfig() Config {
	return Config{
		WorkerCount: 4,
		QueueSize:   1024,
		TaskTimeout: 2 * time.Second,
	}
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Dropped   int64
}

// Pool runs submitted tasks on a fixed set of workers. Submission never
// blocks: when the queue is full the task is dropped.
type Pool struct {
	config Config
	logger *zap.Logger

	tasks        chan taskWithContext
	shutdownOnce sync.Once
	done         chan struct{}

	mu     sync.RWMutex
	closed bool

	workerWg sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type taskWithContext struct {
	task Task
	ctx  context.Context
}

// New creates a new worker pool with the specified configuration and starts
// its workers.
func New(config Config) (*Pool, error) {
	if err := validation.ValidatePositive("workerpool", "worker_count", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("workerpool", "queue_size", config.QueueSize); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "task_timeout", int(config.TaskTimeout)); err != nil {
		return nil, err
	}

	pool := &Pool{
		config: config,
		logger: logging.OrNop(config.Logger).Named("workerpool"),
		tasks:  make(chan taskWithContext, config.QueueSize),
		done:   make(chan struct{}),
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workerWg.Add(1)
		go pool.run(i)
	}
	return pool, nil
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return p.config.WorkerCount
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.config.WorkerCount,
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
