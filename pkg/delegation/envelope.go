// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package delegation implements the agent-to-agent request/response
// protocol: task envelopes with an explicit lifecycle, a JSON-RPC
// client that correlates replies and survives partial failure, and
// the server binding that exposes an agent behind the same protocol.
package delegation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is the unit of delegated work. Immutable once dispatched.
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Goal      string         `json:"goal"`
	Params    map[string]any `json:"params,omitempty"`

	// Depth counts delegation hops from the originating request,
	// guarding against unbounded agent-to-agent recursion.
	Depth int `json:"depth,omitempty"`
}

// NewTask creates a task with a generated id.
func NewTask(goal string) Task {
	return Task{ID: uuid.NewString(), Goal: goal}
}

// Result is a remote agent's terminal answer for a task.
type Result struct {
	TaskID string         `json:"task_id"`
	Output string         `json:"output"`
	Data   map[string]any `json:"data,omitempty"`
}

// State is the lifecycle position of an envelope.
type State string

const (
	StateCreated          State = "CREATED"
	StateSent             State = "SENT"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
	StateTimedOut         State = "TIMED_OUT"
)

// Envelope carries a task to a target agent. It is exclusively owned
// by the delegation client for its in-flight lifetime; the state
// check on every transition is what prevents a late response from
// being applied after the attempt was abandoned.
type Envelope struct {
	Task          Task
	AgentID       string
	CorrelationID string
	Deadline      time.Duration

	mu    sync.Mutex
	state State
}

// NewEnvelope creates an envelope in StateCreated with a fresh
// correlation id.
func NewEnvelope(task Task, agentID string, deadline time.Duration) *Envelope {
	return &Envelope{
		Task:          task,
		AgentID:       agentID,
		CorrelationID: uuid.NewString(),
		Deadline:      deadline,
		state:         StateCreated,
	}
}

// CurrentState returns the envelope's lifecycle state.
func (e *Envelope) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// transition moves the envelope to the target state if it currently
// occupies one of the permitted source states. Returns false without
// mutating otherwise.
func (e *Envelope) transition(to State, from ...State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range from {
		if e.state == f {
			e.state = to
			return true
		}
	}
	return false
}

// terminal reports whether the envelope reached a terminal state.
func (e *Envelope) terminal() bool {
	switch e.CurrentState() {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}
