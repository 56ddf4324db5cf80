package aspect

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/weave-go/contracts"
)

// State is the lifecycle position of a single invocation
type State int

const (
	StateCreated State = iota
	StateBeforeRunning
	StateAroundNesting
	StateTargetExecuting
	StateSucceeded
	StateFailed
	StateAfterRunning
	StateSuccessHandling
	StateFailureHandling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBeforeRunning:
		return "before-running"
	case StateAroundNesting:
		return "around-nesting"
	case StateTargetExecuting:
		return "target-executing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAfterRunning:
		return "after-running"
	case StateSuccessHandling:
		return "success-handling"
	case StateFailureHandling:
		return "failure-handling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// StateListener receives state transitions of every invocation.
// It is called synchronously on the invoking goroutine and must not block.
type StateListener interface {
	OnStateChange(inv *Invocation, from, to State)
}

// StateListenerFunc is a function adapter for StateListener
type StateListenerFunc func(inv *Invocation, from, to State)

// OnStateChange implements StateListener
func (f StateListenerFunc) OnStateChange(inv *Invocation, from, to State) {
	f(inv, from, to)
}

// Invocation is the per-call context threaded through the advice chain.
// It belongs to exactly one call and is discarded when the call returns.
type Invocation struct {
	id      string
	site    *contracts.CallSite
	started time.Time

	state       State
	result      any
	err         error
	afterErrors []error
	listeners   []StateListener

	mu     sync.RWMutex
	values map[string]any
}

func newInvocation(site *contracts.CallSite, listeners []StateListener) *Invocation {
	return &Invocation{
		id:        uuid.New().String(),
		site:      site,
		started:   time.Now(),
		state:     StateCreated,
		listeners: listeners,
	}
}

// ID returns the unique invocation identifier
func (inv *Invocation) ID() string {
	return inv.id
}

// Site returns the call site being dispatched
func (inv *Invocation) Site() *contracts.CallSite {
	return inv.site
}

// Started returns the time the invocation was created
func (inv *Invocation) Started() time.Time {
	return inv.started
}

// Elapsed returns the time since the invocation was created
func (inv *Invocation) Elapsed() time.Duration {
	return time.Since(inv.started)
}

// State returns the current lifecycle state
func (inv *Invocation) State() State {
	return inv.state
}

// Result returns the current result slot
func (inv *Invocation) Result() any {
	return inv.result
}

// Err returns the current error slot
func (inv *Invocation) Err() error {
	return inv.err
}

// Succeeded reports whether the current outcome is a success
func (inv *Invocation) Succeeded() bool {
	return inv.err == nil
}

// AfterErrors returns the after-stage advice failures recorded so far
func (inv *Invocation) AfterErrors() []error {
	return append([]error(nil), inv.afterErrors...)
}

// Set stores a value shared between advice of this invocation
func (inv *Invocation) Set(key string, value any) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.values == nil {
		inv.values = make(map[string]any)
	}
	inv.values[key] = value
}

// Get retrieves a value stored with Set
func (inv *Invocation) Get(key string) (any, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	value, exists := inv.values[key]
	return value, exists
}

// GetString retrieves a string value stored with Set
func (inv *Invocation) GetString(key string) (string, bool) {
	value, exists := inv.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

func (inv *Invocation) setOutcome(result any, err error) {
	if err != nil {
		result = nil
	}
	inv.result, inv.err = result, err
}

func (inv *Invocation) transition(to State) {
	from := inv.state
	inv.state = to
	for _, l := range inv.listeners {
		l.OnStateChange(inv, from, to)
	}
}
