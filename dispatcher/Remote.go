package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Message kinds spoken between a Remote dispatcher and its attached
// workers.
const (
	kindTask   string = "task"
	kindResult string = "result"
	kindParams string = "params"
)

// message is the wire format between the Remote dispatcher and its
// workers.
type message struct {
	Kind    string `json:"kind"`
	ID      uint64 `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// remoteConn is a single attached worker process.
type remoteConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	results chan message
}

func (r *remoteConn) write(msg message) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.ws.WriteJSON(msg)
}

// Remote is a SampleDispatcher whose workers run in other processes
// and attach over a websocket. Each attached worker serves one task at
// a time; tasks queue until some worker is free.
type Remote struct {
	upgrader websocket.Upgrader
	tasks    chan poolJob
	done     chan struct{}

	mu     sync.Mutex
	conns  map[*remoteConn]struct{}
	params []byte
	closed bool
}

// NewRemote returns a new Remote dispatcher. The dispatcher serves
// worker attachments through its ServeHTTP method, which the caller
// mounts on an http server.
func NewRemote(queueDepth int) *Remote {
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Remote{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tasks: make(chan poolJob, queueDepth),
		done:  make(chan struct{}),
		conns: make(map[*remoteConn]struct{}),
	}
}

// ServeHTTP upgrades an attaching worker's request to a websocket and
// serves tasks to it until either side disconnects.
func (r *Remote) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	conn := &remoteConn{ws: ws, results: make(chan message)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ws.Close()
		return
	}
	r.conns[conn] = struct{}{}
	params := r.params
	r.mu.Unlock()

	// Late attachers still need the current policy snapshot.
	if params != nil {
		if err := conn.write(message{Kind: kindParams, Payload: params}); err != nil {
			r.drop(conn)
			return
		}
	}

	go r.read(conn)
	r.serve(conn)
}

// read pumps result messages from the worker to the serve loop.
func (r *Remote) read(conn *remoteConn) {
	defer close(conn.results)
	for {
		var msg message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Kind != kindResult {
			continue
		}
		select {
		case conn.results <- msg:
		case <-r.done:
			return
		}
	}
}

// serve feeds queued tasks to the worker one at a time, resolving each
// task's future with the worker's result.
func (r *Remote) serve(conn *remoteConn) {
	defer r.drop(conn)
	for {
		select {
		case <-r.done:
			return
		case job := <-r.tasks:
			if err := conn.write(message{
				Kind:    kindTask,
				ID:      job.task.ID,
				Payload: job.task.Payload,
			}); err != nil {
				job.future.complete(Result{
					TaskID: job.task.ID,
					Err: &DispatcherError{
						Op:  "submit",
						Err: fmt.Errorf("worker disconnected: %v", err),
					},
				})
				return
			}

			msg, ok := <-conn.results
			if !ok {
				job.future.complete(Result{
					TaskID: job.task.ID,
					Err: &DispatcherError{
						Op: "submit",
						Err: fmt.Errorf("worker disconnected before " +
							"returning a result"),
					},
				})
				return
			}

			result := Result{TaskID: msg.ID, Payload: msg.Payload}
			if msg.Error != "" {
				result.Err = fmt.Errorf(msg.Error)
			} else if msg.ID != job.task.ID {
				result.Err = &DispatcherError{
					Op: "submit",
					Err: fmt.Errorf("result for wrong task \n\twant(%v) "+
						"\n\thave(%v)", job.task.ID, msg.ID),
				}
			}
			job.future.complete(result)
		}
	}
}

func (r *Remote) drop(conn *remoteConn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	conn.ws.Close()
}

// Submit queues the task for the next free worker.
func (r *Remote) Submit(task Task) (*Future, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &DispatcherError{Op: "submit", Err: errClosed}
	}
	r.mu.Unlock()

	future := newFuture()
	select {
	case r.tasks <- poolJob{task: task, future: future}:
		return future, nil
	case <-r.done:
		return nil, &DispatcherError{Op: "submit", Err: errClosed}
	}
}

// Broadcast sends a new parameter snapshot to every attached worker.
// Workers that attach later receive the snapshot on attachment.
func (r *Remote) Broadcast(params []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &DispatcherError{Op: "broadcast", Err: errClosed}
	}
	r.params = params
	conns := make([]*remoteConn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.write(message{Kind: kindParams, Payload: params}); err != nil {
			r.drop(conn)
		}
	}
	return nil
}

// Close disconnects every worker. Queued tasks resolve with an error.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*remoteConn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	close(r.done)
	for _, conn := range conns {
		conn.ws.Close()
	}

	// Resolve whatever never reached a worker.
	for {
		select {
		case job := <-r.tasks:
			job.future.complete(Result{
				TaskID: job.task.ID,
				Err:    &DispatcherError{Op: "close", Err: errClosed},
			})
		default:
			return nil
		}
	}
}

// Attach connects a worker process to a Remote dispatcher at url and
// serves tasks with the given runner until the connection closes or
// the context is cancelled.
func Attach(ctx context.Context, url string, runner Runner) error {
	if runner == nil {
		return &DispatcherError{Op: "attach", Err: errNilRunner}
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return &DispatcherError{Op: "attach", Err: err}
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	var writeMu sync.Mutex
	for {
		var msg message
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &DispatcherError{Op: "attach", Err: err}
		}

		switch msg.Kind {
		case kindParams:
			runner.SetParams(msg.Payload)
		case kindTask:
			result := runner.Run(Task{ID: msg.ID, Payload: msg.Payload})
			reply := message{
				Kind:    kindResult,
				ID:      result.TaskID,
				Payload: result.Payload,
			}
			if result.Err != nil {
				reply.Error = result.Err.Error()
			}
			writeMu.Lock()
			err := ws.WriteJSON(reply)
			writeMu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &DispatcherError{Op: "attach", Err: err}
			}
		}
	}
}
