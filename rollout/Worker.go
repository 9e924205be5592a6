package rollout

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/samuelfneumann/goracer/dispatcher"
	"github.com/samuelfneumann/goracer/environment"
	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/timestep"
)

// ActionSelector answers policy queries for rollout workers using the
// learner's training-current policy. The returned Record freezes the
// policy information under which the action was drawn.
type ActionSelector interface {
	SelectAction(state []float64) ([]float64, policy.Record, error)
}

// Request is the payload of a rollout task: which environment to run
// an episode on and the episode id its experiences are tagged with.
type Request struct {
	EnvironmentID int
	EpisodeID     int
}

// Worker runs rollout episodes against a set of in-process
// environments. It implements dispatcher.Runner, so the same episode
// loop serves any SampleDispatcher. Concurrent tasks must name
// distinct environments; policy queries are serialized so the selector
// never sees concurrent calls.
type Worker struct {
	envs     []environment.Environment
	selector ActionSelector
	stepCap  int

	// mu serializes policy queries across concurrent episodes.
	mu sync.Mutex

	paramsMu sync.RWMutex
	params   []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewWorker returns a Worker running episodes on the given
// environments. Each episode is cut off after stepCap steps and marked
// Truncated, with the following observation saved as the truncated
// state.
func NewWorker(envs []environment.Environment, selector ActionSelector,
	stepCap int) (*Worker, error) {
	if len(envs) == 0 {
		return nil, &CoordinatorError{
			Op:  "newWorker",
			Err: fmt.Errorf("worker needs at least one environment"),
		}
	}
	for i, env := range envs {
		if env == nil {
			return nil, &CoordinatorError{
				Op:  "newWorker",
				Err: fmt.Errorf("environment %v is nil", i),
			}
		}
	}
	if selector == nil {
		return nil, &CoordinatorError{
			Op:  "newWorker",
			Err: fmt.Errorf("selector cannot be nil"),
		}
	}
	if stepCap < 1 {
		return nil, &CoordinatorError{
			Op: "newWorker",
			Err: fmt.Errorf("step cap must be positive \n\twant(≥1) "+
				"\n\thave(%v)", stepCap),
		}
	}

	return &Worker{
		envs:     envs,
		selector: selector,
		stepCap:  stepCap,
		done:     make(chan struct{}),
	}, nil
}

// Environments returns how many environments the worker runs.
func (w *Worker) Environments() int {
	return len(w.envs)
}

// Run implements dispatcher.Runner. The task payload is a gob-encoded
// Request; the result payload is the gob-encoded completed trajectory.
func (w *Worker) Run(task dispatcher.Task) dispatcher.Result {
	var req Request
	decoder := gob.NewDecoder(bytes.NewReader(task.Payload))
	if err := decoder.Decode(&req); err != nil {
		return dispatcher.Result{
			TaskID: task.ID,
			Err:    fmt.Errorf("run: bad task payload: %v", err),
		}
	}

	trajectory, err := w.episode(req)
	if err != nil {
		return dispatcher.Result{TaskID: task.ID, Err: err}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(trajectory); err != nil {
		return dispatcher.Result{
			TaskID: task.ID,
			Err:    fmt.Errorf("run: %v", err),
		}
	}
	return dispatcher.Result{TaskID: task.ID, Payload: buf.Bytes()}
}

// SetParams implements dispatcher.Runner by recording the latest
// policy parameter snapshot. In-process selectors answer queries from
// the learner's own snapshot; the recorded parameters serve runners
// that reconstruct a policy from them, such as remote worker
// processes.
func (w *Worker) SetParams(params []byte) {
	w.paramsMu.Lock()
	defer w.paramsMu.Unlock()
	w.params = append([]byte(nil), params...)
}

// Params returns the most recently broadcast parameter snapshot.
func (w *Worker) Params() []byte {
	w.paramsMu.RLock()
	defer w.paramsMu.RUnlock()
	return append([]byte(nil), w.params...)
}

// Close aborts in-flight episodes. Their tasks resolve with a stopped
// error and any partial trajectory is discarded.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

// episode runs one full episode on the requested environment.
func (w *Worker) episode(req Request) (timestep.Trajectory, error) {
	if req.EnvironmentID < 0 || req.EnvironmentID >= len(w.envs) {
		return nil, &CoordinatorError{
			Op: "episode",
			Err: fmt.Errorf("no environment %v \n\twant(<%v)",
				req.EnvironmentID, len(w.envs)),
		}
	}
	env := w.envs[req.EnvironmentID]

	state, err := env.Reset()
	if err != nil {
		return nil, &CoordinatorError{
			Op: "episode",
			Err: fmt.Errorf("environment %v failed to reset: %v",
				req.EnvironmentID, err),
		}
	}

	trajectory := make(timestep.Trajectory, 0, w.stepCap)
	for step := 0; ; step++ {
		select {
		case <-w.done:
			return nil, errStopped
		default:
		}

		action, record, err := w.selectAction(state)
		if err != nil {
			return nil, &CoordinatorError{Op: "episode", Err: err}
		}

		next, reward, termination, err := env.Step(action)
		if err != nil {
			// A failed step truncates the episode at the last
			// completed transition.
			fmt.Fprintf(os.Stderr, "rollout: environment %v failed to "+
				"step: %v\n", req.EnvironmentID, err)
			if len(trajectory) == 0 {
				return nil, &CoordinatorError{
					Op: "episode",
					Err: fmt.Errorf("environment %v failed on its first "+
						"step: %v", req.EnvironmentID, err),
				}
			}
			last := &trajectory[len(trajectory)-1]
			last.Termination = timestep.Truncated
			last.TruncatedState = state
			return trajectory, nil
		}

		exp := timestep.Experience{
			State:         state,
			Action:        action,
			Reward:        reward,
			EpisodeID:     req.EpisodeID,
			EpisodePos:    step,
			EnvironmentID: req.EnvironmentID,
			Termination:   termination,
			ExpPolicy:     record,
		}
		if termination == timestep.NonTerminal && step == w.stepCap-1 {
			exp.Termination = timestep.Truncated
			exp.TruncatedState = next
		}
		trajectory = append(trajectory, exp)

		if exp.Termination != timestep.NonTerminal {
			return trajectory, nil
		}
		state = next
	}
}

func (w *Worker) selectAction(state []float64) ([]float64, policy.Record,
	error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selector.SelectAction(state)
}
