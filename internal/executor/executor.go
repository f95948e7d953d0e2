package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/linasec/lina/internal/composer"
	"github.com/linasec/lina/internal/consts"
	"github.com/linasec/lina/internal/logger"
	"github.com/linasec/lina/internal/risk"
)

var (
	// ErrBlocked marks a submission whose risk tier forbids execution.
	// No process is ever spawned for a blocked command.
	ErrBlocked = errors.New("executor: command blocked by risk assessment")
	// ErrToolUnavailable marks a submission whose tool failed the install
	// probe. Not retried automatically.
	ErrToolUnavailable = errors.New("executor: tool is not installed")
	// ErrNotFound marks an unknown execution id
	ErrNotFound = errors.New("executor: execution not found")
)

// ProbeFunc answers whether a tool's binary is installed
type ProbeFunc func(tool string) bool

// Options configures the orchestrator
type Options struct {
	// DefaultTimeout bounds each execution unless overridden per submit
	DefaultTimeout time.Duration
	// KillGrace is how long a terminated process group may linger before
	// SIGKILL
	KillGrace time.Duration
	// SessionConcurrency caps concurrent Running executions per session
	SessionConcurrency int64
	// Probe is the tool install check; nil disables the check
	Probe ProbeFunc
}

// lane serializes admission for one session: a dispatcher goroutine pulls
// queued executions in FIFO order and acquires the session's semaphore
// before each start, so submissions beyond the cap queue instead of
// failing and never overtake each other.
type lane struct {
	sem   *semaphore.Weighted
	queue chan *Execution
}

// Orchestrator supervises external processes derived from approved
// commands.
type Orchestrator struct {
	opts Options

	mu         sync.RWMutex
	executions map[string]*Execution
	lanes      map[string]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator with the given options
func New(opts Options) *Orchestrator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = consts.DefaultExecutionTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = consts.DefaultKillGrace
	}
	if opts.SessionConcurrency <= 0 {
		opts.SessionConcurrency = consts.DefaultSessionConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:       opts,
		executions: make(map[string]*Execution),
		lanes:      make(map[string]*lane),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Stop cancels all running executions and waits for supervision goroutines
func (o *Orchestrator) Stop() {
	o.cancel()

	o.mu.RLock()
	for _, e := range o.executions {
		e.requestCancel()
	}
	o.mu.RUnlock()

	o.wg.Wait()

	// a submission racing the shutdown can enqueue after its dispatcher
	// drained; nothing will run it now, so settle it here
	o.mu.RLock()
	for _, e := range o.executions {
		e.markTerminal(StateCancelled, 0, false)
	}
	o.mu.RUnlock()
}

// SubmitOptions tunes one submission
type SubmitOptions struct {
	// Timeout overrides the orchestrator default when > 0
	Timeout time.Duration
}

// Submit admits a command for execution. It fails fast with ErrBlocked for
// a BLOCKED tier and ErrToolUnavailable when the install probe fails; in
// both cases no Execution record is created and no process is spawned.
// Otherwise the returned execution is Pending and will start as soon as
// the session's concurrency cap allows, in submission order.
func (o *Orchestrator) Submit(cmd *composer.Command, assessment risk.Assessment, opts SubmitOptions) (*Execution, error) {
	if cmd == nil || cmd.Line == "" {
		return nil, fmt.Errorf("executor: empty command")
	}
	if assessment.Tier.Blocked() {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, assessment.Rationale)
	}
	if o.opts.Probe != nil && !o.opts.Probe(cmd.Tool) {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, cmd.Tool)
	}

	timeout := o.opts.DefaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	e := newExecution(uuid.NewString(), cmd.SessionID, cmd.Tool, cmd.Line, timeout)

	o.mu.Lock()
	o.executions[e.ID] = e
	ln := o.laneLocked(cmd.SessionID)
	o.mu.Unlock()

	select {
	case ln.queue <- e:
	case <-o.ctx.Done():
		e.markTerminal(StateCancelled, 0, false)
		return nil, fmt.Errorf("executor: orchestrator is shutting down")
	}

	logger.Info("executor: queued %s for session %s: %s", e.ID, e.SessionID, e.Line)
	return e, nil
}

// laneLocked returns the session's lane, creating its dispatcher on first
// use. Caller holds o.mu.
func (o *Orchestrator) laneLocked(sessionID string) *lane {
	if ln, ok := o.lanes[sessionID]; ok {
		return ln
	}
	ln := &lane{
		sem:   semaphore.NewWeighted(o.opts.SessionConcurrency),
		queue: make(chan *Execution, 1024),
	}
	o.lanes[sessionID] = ln

	o.wg.Add(1)
	go o.dispatch(ln)
	return ln
}

func (o *Orchestrator) dispatch(ln *lane) {
	defer o.wg.Done()
	defer o.drain(ln)
	for {
		select {
		case <-o.ctx.Done():
			return
		case e := <-ln.queue:
			// cancelled while still queued: terminal without a spawn
			if closed(e.cancelCh) {
				e.markTerminal(StateCancelled, 0, false)
				continue
			}
			if err := ln.sem.Acquire(o.ctx, 1); err != nil {
				e.markTerminal(StateCancelled, 0, false)
				return
			}
			o.wg.Add(1)
			go func(e *Execution) {
				defer o.wg.Done()
				defer ln.sem.Release(1)
				o.run(e)
			}(e)
		}
	}
}

// drain cancels executions still queued when the dispatcher exits so
// their subscribers receive a terminal event instead of waiting forever.
func (o *Orchestrator) drain(ln *lane) {
	for {
		select {
		case e := <-ln.queue:
			e.markTerminal(StateCancelled, 0, false)
		default:
			return
		}
	}
}

// Get returns the execution by id
func (o *Orchestrator) Get(id string) (*Execution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Poll returns a snapshot of the execution's state and output so far
func (o *Orchestrator) Poll(id string) (Snapshot, error) {
	e, err := o.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// Subscribe attaches a push channel to the execution's output
func (o *Orchestrator) Subscribe(id string) (<-chan Event, func(), error) {
	e, err := o.Get(id)
	if err != nil {
		return nil, nil, err
	}
	events, stop := e.Subscribe()
	return events, stop, nil
}

// Cancel terminates a queued or running execution. Cancelling an already
// terminal execution is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	e, err := o.Get(id)
	if err != nil {
		return err
	}
	if e.State().Terminal() {
		return nil
	}
	e.requestCancel()
	return nil
}

// run supervises one external process from spawn to terminal state
func (o *Orchestrator) run(e *Execution) {
	if closed(e.cancelCh) {
		e.markTerminal(StateCancelled, 0, false)
		return
	}
	if !e.markRunning() {
		return
	}

	cmd := shellCommand(e.Line)
	configureProcessGroup(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		e.appendOutput([]byte(fmt.Sprintf("failed to start command: %v\n", err)))
		e.markTerminal(StateFailed, -1, true)
		logger.Error("executor: %s failed to start: %v", e.ID, err)
		return
	}

	pgid := processGroupID(cmd)

	// single combined reader keeps chunks in the order the process
	// produced them
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				e.appendOutput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitDone <- err
		close(exited)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	var final State
	var waitErr error

	select {
	case waitErr = <-waitDone:
		if waitErr == nil {
			final = StateCompleted
		} else {
			final = StateFailed
		}
	case <-timer.C:
		o.terminate(cmd, pgid, exited)
		waitErr = <-waitDone
		final = StateTimedOut
		logger.Warn("executor: %s timed out after %s", e.ID, e.timeout)
	case <-e.cancelCh:
		o.terminate(cmd, pgid, exited)
		waitErr = <-waitDone
		final = StateCancelled
		logger.Info("executor: %s cancelled", e.ID)
	case <-o.ctx.Done():
		o.terminate(cmd, pgid, exited)
		waitErr = <-waitDone
		final = StateCancelled
	}

	<-readDone
	pr.Close()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	e.markTerminal(final, exitCode, true)
	logger.Info("executor: %s -> %s (exit %d)", e.ID, final, exitCode)
}

// terminate signals the whole process group, escalating to a forced kill
// when the grace period expires. exited is closed by the wait goroutine
// once the process has been reaped.
func (o *Orchestrator) terminate(cmd *exec.Cmd, pgid int, exited <-chan struct{}) {
	if err := signalProcessGroup(cmd, pgid, false); err != nil {
		logger.Warn("executor: graceful termination failed: %v", err)
	}

	grace := time.NewTimer(o.opts.KillGrace)
	defer grace.Stop()

	select {
	case <-exited:
	case <-grace.C:
		if err := signalProcessGroup(cmd, pgid, true); err != nil {
			logger.Warn("executor: forced kill failed: %v", err)
		}
	}
}
