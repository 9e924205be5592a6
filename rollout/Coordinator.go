// Package rollout implements the coordinator that drives concurrent
// environment workers through a sample dispatcher and collects their
// completed trajectories for ingestion into the replay memory.
package rollout

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/samuelfneumann/goracer/dispatcher"
	"github.com/samuelfneumann/goracer/timestep"
)

// Coordinator keeps every environment busy by submitting one rollout
// task per free environment to a SampleDispatcher and collecting the
// completed trajectories the tasks resolve with. Whether episodes run
// inline, on a local goroutine pool, or in remote processes is the
// dispatcher's concern.
type Coordinator struct {
	disp   dispatcher.SampleDispatcher
	worker *Worker

	episodes chan timestep.Trajectory
	free     chan int
	done     chan struct{}
	wg       sync.WaitGroup

	episodeID uint64
	taskID    uint64

	mu      sync.Mutex
	started bool
	stopped bool
}

// New returns a Coordinator submitting the worker's rollout tasks
// through the given dispatcher.
func New(disp dispatcher.SampleDispatcher, worker *Worker) (*Coordinator,
	error) {
	if disp == nil {
		return nil, &CoordinatorError{
			Op:  "new",
			Err: fmt.Errorf("dispatcher cannot be nil"),
		}
	}
	if worker == nil {
		return nil, &CoordinatorError{
			Op:  "new",
			Err: fmt.Errorf("worker cannot be nil"),
		}
	}

	n := worker.Environments()
	free := make(chan int, n)
	for i := 0; i < n; i++ {
		free <- i
	}

	return &Coordinator{
		disp:     disp,
		worker:   worker,
		episodes: make(chan timestep.Trajectory, n),
		free:     free,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the feeder that keeps one rollout task in flight per
// environment.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &CoordinatorError{
			Op:  "start",
			Err: fmt.Errorf("coordinator already started"),
		}
	}
	if c.stopped {
		return &CoordinatorError{Op: "start", Err: errStopped}
	}
	c.started = true

	c.wg.Add(1)
	go c.feed()
	return nil
}

// feed submits a rollout task whenever an environment is free.
func (c *Coordinator) feed() {
	defer c.wg.Done()
	for {
		var envID int
		select {
		case <-c.done:
			return
		case envID = <-c.free:
		}

		task, err := c.nextTask(envID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rollout: %v\n", err)
			return
		}
		future, err := c.disp.Submit(task)
		if err != nil {
			if !dispatcher.IsClosed(err) {
				fmt.Fprintf(os.Stderr, "rollout: %v\n", err)
			}
			return
		}

		c.wg.Add(1)
		go c.await(envID, future)
	}
}

// nextTask encodes a rollout request for the given environment under a
// fresh episode id.
func (c *Coordinator) nextTask(envID int) (dispatcher.Task, error) {
	req := Request{
		EnvironmentID: envID,
		EpisodeID:     int(atomic.AddUint64(&c.episodeID, 1)) - 1,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return dispatcher.Task{}, fmt.Errorf("nextTask: %v", err)
	}
	return dispatcher.Task{
		ID:      atomic.AddUint64(&c.taskID, 1),
		Payload: buf.Bytes(),
	}, nil
}

// await delivers a resolved task's trajectory and returns its
// environment to the free list.
func (c *Coordinator) await(envID int, future *dispatcher.Future) {
	defer c.wg.Done()

	select {
	case <-c.done:
		return
	case <-future.Done():
	}

	result := future.Wait()
	switch {
	case result.Err != nil:
		if !IsStopped(result.Err) && !dispatcher.IsClosed(result.Err) {
			fmt.Fprintf(os.Stderr, "rollout: environment %v: %v\n", envID,
				result.Err)
		}
	default:
		var trajectory timestep.Trajectory
		decoder := gob.NewDecoder(bytes.NewReader(result.Payload))
		if err := decoder.Decode(&trajectory); err != nil {
			fmt.Fprintf(os.Stderr, "rollout: environment %v returned a bad "+
				"trajectory: %v\n", envID, err)
		} else if !c.flush(trajectory) {
			return
		}
	}

	select {
	case c.free <- envID:
	case <-c.done:
	}
}

// flush delivers a completed trajectory to the learner. It reports
// false if the coordinator stopped before delivery.
func (c *Coordinator) flush(trajectory timestep.Trajectory) bool {
	select {
	case c.episodes <- trajectory:
		return true
	case <-c.done:
		return false
	}
}

// Episodes returns the channel on which completed trajectories are
// delivered.
func (c *Coordinator) Episodes() <-chan timestep.Trajectory {
	return c.episodes
}

// Collect receives n completed trajectories, blocking until all n have
// arrived or the coordinator stops.
func (c *Coordinator) Collect(n int) ([]timestep.Trajectory, error) {
	trajectories := make([]timestep.Trajectory, 0, n)
	for len(trajectories) < n {
		select {
		case trajectory := <-c.episodes:
			trajectories = append(trajectories, trajectory)
		case <-c.done:
			return trajectories, &CoordinatorError{
				Op:  "collect",
				Err: errStopped,
			}
		}
	}
	return trajectories, nil
}

// Broadcast forwards a policy parameter snapshot to every worker
// attached to the dispatcher.
func (c *Coordinator) Broadcast(params []byte) error {
	if err := c.disp.Broadcast(params); err != nil {
		return &CoordinatorError{Op: "broadcast", Err: err}
	}
	return nil
}

// Stop shuts the coordinator down. In-flight episodes are aborted,
// their partial trajectories discarded, and the dispatcher closed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.done)
	c.worker.Close()
	if err := c.disp.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "rollout: %v\n", err)
	}
	c.wg.Wait()
}
