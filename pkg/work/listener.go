package work

// ExecutionListener observes unit-of-work execution for instrumentation.
//
// The engine guarantees the notification pairing: BeforeExecution is called
// strictly before the wrapped work starts, and AfterExecution is called
// exactly once on every exit path, including failure. Listener panics or
// misbehavior propagate to the caller; listeners are trusted collaborators.
type ExecutionListener interface {
	// BeforeExecution is notified immediately before the work executes.
	BeforeExecution(displayName string)

	// AfterExecution is notified immediately after the work finishes,
	// whether it succeeded or failed.
	AfterExecution(displayName string)
}

// ListenerFuncs adapts plain functions to an ExecutionListener. Either
// function may be nil.
type ListenerFuncs struct {
	Before func(displayName string)
	After  func(displayName string)
}

func (l ListenerFuncs) BeforeExecution(displayName string) {
	if l.Before != nil {
		l.Before(displayName)
	}
}

func (l ListenerFuncs) AfterExecution(displayName string) {
	if l.After != nil {
		l.After(displayName)
	}
}

// MultiListener fans notifications out to several listeners in order.
// After notifications run in reverse order, mirroring nested scopes.
type MultiListener []ExecutionListener

func (m MultiListener) BeforeExecution(displayName string) {
	for _, l := range m {
		l.BeforeExecution(displayName)
	}
}

func (m MultiListener) AfterExecution(displayName string) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].AfterExecution(displayName)
	}
}
