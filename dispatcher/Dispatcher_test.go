package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// echoRunner returns each task's payload unchanged and records the
// latest parameter snapshot.
type echoRunner struct {
	mu     sync.Mutex
	params []byte
}

func (e *echoRunner) Run(task Task) Result {
	return Result{TaskID: task.ID, Payload: task.Payload}
}

func (e *echoRunner) SetParams(params []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = append([]byte(nil), params...)
}

func (e *echoRunner) Params() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// TestSerialSubmit ensures the serial dispatcher runs tasks inline.
func TestSerialSubmit(t *testing.T) {
	runner := &echoRunner{}
	d, err := NewSerial(runner)
	if err != nil {
		t.Fatalf("newSerial: %v", err)
	}
	defer d.Close()

	future, err := d.Submit(Task{ID: 7, Payload: []byte("rollout")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result := future.Wait()
	if result.TaskID != 7 {
		t.Errorf("submit: wrong task id \n\twant(%v) \n\thave(%v)", 7,
			result.TaskID)
	}
	if !bytes.Equal(result.Payload, []byte("rollout")) {
		t.Errorf("submit: wrong payload \n\thave(%v)", result.Payload)
	}
}

// TestSerialClosed ensures operations fail once the dispatcher is
// closed.
func TestSerialClosed(t *testing.T) {
	d, err := NewSerial(&echoRunner{})
	if err != nil {
		t.Fatalf("newSerial: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := d.Submit(Task{ID: 1}); !IsClosed(err) {
		t.Errorf("submit: expected a closed error \n\thave(%v)", err)
	}
	if err := d.Broadcast(nil); !IsClosed(err) {
		t.Errorf("broadcast: expected a closed error \n\thave(%v)", err)
	}
}

// TestPoolSubmit ensures every task submitted to a pool completes with
// its own payload.
func TestPoolSubmit(t *testing.T) {
	runner := &echoRunner{}
	d, err := NewPool(runner, 4, 16)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}

	const tasks = 32
	futures := make([]*Future, tasks)
	for i := 0; i < tasks; i++ {
		f, err := d.Submit(Task{
			ID:      uint64(i),
			Payload: []byte(fmt.Sprintf("task %d", i)),
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		futures[i] = f
	}

	for i, f := range futures {
		result := f.Wait()
		if result.Err != nil {
			t.Fatalf("submit: task %d failed: %v", i, result.Err)
		}
		want := fmt.Sprintf("task %d", i)
		if string(result.Payload) != want {
			t.Errorf("submit: wrong payload \n\twant(%v) \n\thave(%v)",
				want, string(result.Payload))
		}
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// TestPoolBroadcast ensures broadcast parameters reach the shared
// runner.
func TestPoolBroadcast(t *testing.T) {
	runner := &echoRunner{}
	d, err := NewPool(runner, 2, 4)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}
	defer d.Close()

	if err := d.Broadcast([]byte("snapshot")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if !bytes.Equal(runner.Params(), []byte("snapshot")) {
		t.Errorf("broadcast: snapshot not installed \n\thave(%v)",
			runner.Params())
	}
}

// TestPoolValidation ensures invalid pool configurations are rejected.
func TestPoolValidation(t *testing.T) {
	if _, err := NewPool(nil, 2, 4); err == nil {
		t.Error("newPool: expected an error for a nil runner")
	}
	if _, err := NewPool(&echoRunner{}, 0, 4); err == nil {
		t.Error("newPool: expected an error for a zero-size pool")
	}
}

// TestRemoteLoopback attaches a worker to a Remote dispatcher over a
// real websocket and round-trips tasks and parameter snapshots.
func TestRemoteLoopback(t *testing.T) {
	d := NewRemote(4)
	server := httptest.NewServer(d)
	defer server.Close()
	defer d.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &echoRunner{}
	attached := make(chan error, 1)
	go func() { attached <- Attach(ctx, url, runner) }()

	future, err := d.Submit(Task{ID: 3, Payload: []byte("episode")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	result := future.Wait()
	if result.Err != nil {
		t.Fatalf("submit: %v", result.Err)
	}
	if result.TaskID != 3 || !bytes.Equal(result.Payload, []byte("episode")) {
		t.Errorf("submit: wrong result \n\thave(%v, %v)", result.TaskID,
			string(result.Payload))
	}

	if err := d.Broadcast([]byte("snapshot")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !bytes.Equal(runner.Params(), []byte("snapshot")) {
		if time.Now().After(deadline) {
			t.Fatal("broadcast: snapshot never reached the worker")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-attached; err != nil {
		t.Errorf("attach: %v", err)
	}
}

// TestRemoteLateAttach ensures a worker that attaches after a
// broadcast still receives the current snapshot.
func TestRemoteLateAttach(t *testing.T) {
	d := NewRemote(4)
	server := httptest.NewServer(d)
	defer server.Close()
	defer d.Close()

	if err := d.Broadcast([]byte("early")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &echoRunner{}
	go Attach(ctx, url, runner)

	deadline := time.Now().Add(2 * time.Second)
	for !bytes.Equal(runner.Params(), []byte("early")) {
		if time.Now().After(deadline) {
			t.Fatal("attach: snapshot never reached the late worker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
