package dispatcher

import "sync"

// Serial is a SampleDispatcher that runs every task inline on the
// calling goroutine. It exists so that single-process experiments and
// tests can use the same dispatch plumbing as distributed ones.
type Serial struct {
	mu     sync.Mutex
	runner Runner
	closed bool
}

// NewSerial returns a new Serial dispatcher that executes tasks with
// the given runner.
func NewSerial(runner Runner) (*Serial, error) {
	if runner == nil {
		return nil, &DispatcherError{
			Op:  "newSerial",
			Err: errNilRunner,
		}
	}
	return &Serial{runner: runner}, nil
}

// Submit runs the task inline and returns an already-resolved Future.
func (s *Serial) Submit(task Task) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &DispatcherError{Op: "submit", Err: errClosed}
	}

	future := newFuture()
	future.complete(s.runner.Run(task))
	return future, nil
}

// Broadcast installs a new parameter snapshot on the runner.
func (s *Serial) Broadcast(params []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &DispatcherError{Op: "broadcast", Err: errClosed}
	}

	s.runner.SetParams(params)
	return nil
}

// Close shuts the dispatcher down.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
