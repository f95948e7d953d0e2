package executor

import (
	"sync"
	"time"

	"github.com/linasec/lina/internal/consts"
)

// State is an execution's lifecycle state. Transitions only move forward:
// Pending -> Running -> one terminal state, and terminal states are sinks.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is a sink
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Event is one message on a subscription channel: either an output chunk
// or the single terminal notification that ends the stream.
type Event struct {
	Chunk    string `json:"chunk,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
	State    State  `json:"state,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Snapshot is a point-in-time view of an execution for pollers
type Snapshot struct {
	ID        string     `json:"execution_id"`
	Tool      string     `json:"tool"`
	Command   string     `json:"command"`
	SessionID string     `json:"session_id"`
	State     State      `json:"state"`
	Output    string     `json:"output"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Execution is one supervised run of an external process
type Execution struct {
	ID        string
	SessionID string
	Tool      string
	Line      string

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	output   []byte
	exitCode int
	hasExit  bool
	started  *time.Time
	ended    *time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}

	timeout time.Duration
}

func newExecution(id, sessionID, tool, line string, timeout time.Duration) *Execution {
	e := &Execution{
		ID:        id,
		SessionID: sessionID,
		Tool:      tool,
		Line:      line,
		state:     StatePending,
		cancelCh:  make(chan struct{}),
		timeout:   timeout,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// appendOutput grows the append-only buffer and wakes subscribers. Output
// past the cap is dropped rather than evicting earlier bytes, keeping the
// buffer monotonically consistent for pollers.
func (e *Execution) appendOutput(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.output) < consts.MaxOutputBytes {
		room := consts.MaxOutputBytes - len(e.output)
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		e.output = append(e.output, chunk...)
		e.cond.Broadcast()
	}
}

// markRunning transitions Pending -> Running; no-op in any other state
func (e *Execution) markRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePending {
		return false
	}
	now := time.Now()
	e.state = StateRunning
	e.started = &now
	e.cond.Broadcast()
	return true
}

// markTerminal records the terminal state once; later calls are no-ops so
// competing outcomes (timeout vs. natural exit) cannot overwrite each
// other.
func (e *Execution) markTerminal(state State, exitCode int, hasExit bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Terminal() {
		return false
	}
	now := time.Now()
	e.state = state
	e.exitCode = exitCode
	e.hasExit = hasExit
	e.ended = &now
	e.cond.Broadcast()
	return true
}

// requestCancel closes the cancel channel exactly once
func (e *Execution) requestCancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// State returns the current state
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the execution's observable state. Repeated
// snapshots of a terminal execution are identical.
func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		ID:        e.ID,
		Tool:      e.Tool,
		Command:   e.Line,
		SessionID: e.SessionID,
		State:     e.state,
		Output:    string(e.output),
		StartedAt: e.started,
		EndedAt:   e.ended,
	}
	if e.state.Terminal() && e.hasExit {
		code := e.exitCode
		snap.ExitCode = &code
	}
	return snap
}

// Subscribe returns a channel of output chunks followed by exactly one
// terminal event, after which the channel is closed. The returned stop
// function detaches the subscriber; it is safe to call more than once.
// Subscribing to an already terminal execution replays the full buffer and
// then the terminal event.
func (e *Execution) Subscribe() (<-chan Event, func()) {
	events := make(chan Event, consts.OutputChunkBuffer)
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopFn := func() {
		stopOnce.Do(func() {
			close(stop)
			// wake the pump so it notices the detach
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		})
	}

	go func() {
		defer close(events)
		offset := 0
		for {
			e.mu.Lock()
			for offset == len(e.output) && !e.state.Terminal() && !closed(stop) {
				e.cond.Wait()
			}
			chunk := string(e.output[offset:])
			offset = len(e.output)
			state := e.state
			exitCode := e.exitCode
			e.mu.Unlock()

			if closed(stop) {
				return
			}
			if chunk != "" {
				select {
				case events <- Event{Chunk: chunk}:
				case <-stop:
					return
				}
			}
			if state.Terminal() {
				// re-check for bytes appended between unlock and here
				e.mu.Lock()
				remaining := string(e.output[offset:])
				e.mu.Unlock()
				if remaining != "" {
					select {
					case events <- Event{Chunk: remaining}:
					case <-stop:
						return
					}
				}
				select {
				case events <- Event{Terminal: true, State: state, ExitCode: exitCode}:
				case <-stop:
				}
				return
			}
		}
	}()

	return events, stopFn
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
