package dispatcher

import (
	"fmt"
	"sync"
)

type poolJob struct {
	task   Task
	future *Future
}

// Pool is a SampleDispatcher backed by a fixed pool of worker
// goroutines in the learner's own process. Tasks queue on a channel
// and are picked up by the first idle worker.
type Pool struct {
	runner Runner
	jobs   chan poolJob

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool returns a new Pool dispatcher running size workers, each
// executing tasks with the shared runner.
func NewPool(runner Runner, size, queueDepth int) (*Pool, error) {
	if runner == nil {
		return nil, &DispatcherError{Op: "newPool", Err: errNilRunner}
	}
	if size < 1 {
		return nil, &DispatcherError{
			Op: "newPool",
			Err: fmt.Errorf("pool needs at least one worker \n\twant(≥1) "+
				"\n\thave(%v)", size),
		}
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &Pool{
		runner: runner,
		jobs:   make(chan poolJob, queueDepth),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p, nil
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		job.future.complete(p.runner.Run(job.task))
	}
}

// Submit queues the task for the next idle worker.
func (p *Pool) Submit(task Task) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &DispatcherError{Op: "submit", Err: errClosed}
	}

	future := newFuture()
	p.jobs <- poolJob{task: task, future: future}
	return future, nil
}

// Broadcast installs a new parameter snapshot on the shared runner.
// Tasks already running may complete under the previous snapshot.
func (p *Pool) Broadcast(params []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &DispatcherError{Op: "broadcast", Err: errClosed}
	}

	p.runner.SetParams(params)
	return nil
}

// Close drains queued tasks and stops the workers. Close blocks until
// every queued task has completed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
	return nil
}
