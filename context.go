package saga

import (
	"time"

	"github.com/tidwall/btree"
)

// CompletedStep records a step whose action succeeded: the name, the
// type-erased result, and when it completed. Entries are appended
// immediately after an action succeeds, read back in reverse order
// during compensation, and never mutated after append.
type CompletedStep struct {
	Name        string
	Result      StepResult
	CompletedAt time.Time
}

// Context is the mutable run-time record of one saga execution. It is
// created and exclusively owned by the Coordinator for the lifetime of
// a single execution and is not shared across concurrent executions.
//
// State machine: active -> completed or active -> failed, both
// terminal. Mutation after a terminal transition is a usage error.
type Context struct {
	id          string
	startedAt   time.Time
	completedAt time.Time

	completed []CompletedStep
	byName    *btree.Map[string, CompletedStep]

	state      contextState
	failedStep string
	err        error
}

type contextState int

const (
	contextActive contextState = iota
	contextCompleted
	contextFailed
)

// NewContext creates an active Context for the given saga ID.
func NewContext(sagaID string) *Context {
	return &Context{
		id:        sagaID,
		startedAt: time.Now(),
		byName:    btree.NewMap[string, CompletedStep](8),
	}
}

// ID returns the saga execution ID.
func (c *Context) ID() string {
	return c.id
}

// StartedAt returns when the execution began.
func (c *Context) StartedAt() time.Time {
	return c.startedAt
}

// CompletedAt returns when the execution reached a terminal state, or
// the zero time while still active.
func (c *Context) CompletedAt() time.Time {
	return c.completedAt
}

// Duration returns the elapsed time between start and terminal
// transition. While active it returns 0 and false.
func (c *Context) Duration() (time.Duration, bool) {
	if c.state == contextActive {
		return 0, false
	}
	return c.completedAt.Sub(c.startedAt), true
}

// IsActive reports whether no terminal transition has occurred yet.
func (c *Context) IsActive() bool {
	return c.state == contextActive
}

// IsCompleted reports whether the execution completed successfully.
func (c *Context) IsCompleted() bool {
	return c.state == contextCompleted
}

// IsFailed reports whether the execution failed.
func (c *Context) IsFailed() bool {
	return c.state == contextFailed
}

// FailedStep returns the name of the step that failed, or "" if the
// execution has not failed.
func (c *Context) FailedStep() string {
	return c.failedStep
}

// Err returns the triggering error, or nil if the execution has not
// failed.
func (c *Context) Err() error {
	return c.err
}

// AddCompletedStep appends a step record. Only legal while active;
// afterwards it returns ErrContextTerminal. This is a defensive
// invariant against coordinator bugs.
func (c *Context) AddCompletedStep(name string, result StepResult) error {
	if c.state != contextActive {
		return ErrContextTerminal
	}
	cs := CompletedStep{
		Name:        name,
		Result:      result,
		CompletedAt: time.Now(),
	}
	c.completed = append(c.completed, cs)
	c.byName.Set(name, cs)
	return nil
}

// CompletedSteps returns a copy of the completed steps in execution
// order.
func (c *Context) CompletedSteps() []CompletedStep {
	out := make([]CompletedStep, len(c.completed))
	copy(out, c.completed)
	return out
}

// StepsToCompensate returns the completed steps in reverse execution
// order. The receiver is not modified; repeated calls yield identical
// lists.
func (c *Context) StepsToCompensate() []CompletedStep {
	out := make([]CompletedStep, len(c.completed))
	for i, cs := range c.completed {
		out[len(c.completed)-1-i] = cs
	}
	return out
}

// StepResult returns the stored result for a completed step by name.
func (c *Context) StepResult(name string) (StepResult, bool) {
	cs, ok := c.byName.Get(name)
	if !ok {
		return nil, false
	}
	return cs.Result, true
}

// HasStep reports whether a step with the given name has completed.
func (c *Context) HasStep(name string) bool {
	_, ok := c.byName.Get(name)
	return ok
}

// MarkCompleted transitions the Context to its successful terminal
// state. Returns ErrContextTerminal if already terminal.
func (c *Context) MarkCompleted() error {
	if c.state != contextActive {
		return ErrContextTerminal
	}
	c.state = contextCompleted
	c.completedAt = time.Now()
	return nil
}

// MarkFailed transitions the Context to its failed terminal state,
// recording the failed step and the triggering error. Returns
// ErrContextTerminal if already terminal.
func (c *Context) MarkFailed(failedStep string, err error) error {
	if c.state != contextActive {
		return ErrContextTerminal
	}
	c.state = contextFailed
	c.completedAt = time.Now()
	c.failedStep = failedStep
	c.err = err
	return nil
}
