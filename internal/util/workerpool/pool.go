package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Pool manages a bounded set of goroutines draining a task queue. The sync
// manager uses it to hand incoming payloads to the external message handler
// without blocking its serialized state.
type Pool struct {
	name      string
	taskQueue chan Task
	logger    *zap.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// New creates a pool and starts its workers
func New(name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &Pool{
		name:      name,
		taskQueue: make(chan Task, queueSize),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}
	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.taskQueue:
			if err := p.run(task); err != nil {
				atomic.AddUint64(&p.failedTasks, 1)
				p.logger.Error("Task failed",
					zap.String("pool", p.name),
					zap.Int("worker_id", id),
					zap.String("task_id", task.ID),
					zap.Error(err))
			} else {
				atomic.AddUint64(&p.completedTasks, 1)
			}
		}
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(context.Background())
}

// Submit enqueues a task without blocking.
// Returns an error if the queue is full or the pool is stopped.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	default:
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool %q queue is full", p.name)
	}
}

// Stop drains the pool: running tasks finish, queued tasks are dropped
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
	})
}

// Completed returns the number of successfully executed tasks
func (p *Pool) Completed() uint64 {
	return atomic.LoadUint64(&p.completedTasks)
}

// Failed returns the number of tasks that returned an error or panicked
func (p *Pool) Failed() uint64 {
	return atomic.LoadUint64(&p.failedTasks)
}

// Rejected returns the number of tasks refused at submission
func (p *Pool) Rejected() uint64 {
	return atomic.LoadUint64(&p.rejectedTasks)
}
