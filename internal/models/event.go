package models

import "encoding/json"

// RuntimeEvent is the closed set of events a remote run emits over a
// subscription. Handlers dispatch on the concrete type.
type RuntimeEvent interface {
	runtimeEvent()
}

// RunInitialized signals that a run has started on the remote side.
type RunInitialized struct {
	RunID string
}

// StateSnapshot carries a full or partial thread state payload.
type StateSnapshot struct {
	Payload json.RawMessage
}

// RunError signals a recoverable error reported during a run.
type RunError struct {
	Code    int
	Message string
}

// RunFailed signals that the run terminated abnormally.
type RunFailed struct {
	Err error
}

func (RunInitialized) runtimeEvent() {}
func (StateSnapshot) runtimeEvent()  {}
func (RunError) runtimeEvent()       {}
func (RunFailed) runtimeEvent()      {}
