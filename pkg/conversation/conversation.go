// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation maintains the ordered, append-only turn
// sequence backing each orchestration request. A State is owned by
// exactly one request; turns are never mutated or removed.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatherlabs/gather/pkg/llm"
)

// Turn is a single entry in a conversation: a user utterance, an
// assistant decision, or an observed tool/agent result.
type Turn struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       llm.Role          `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []llm.ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// State is the append-only turn sequence for one request. It is not
// safe for concurrent use; the owning request serializes access.
type State struct {
	sessionID string
	turns     []Turn
}

// NewState creates an empty conversation for a session.
func NewState(sessionID string) *State {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &State{sessionID: sessionID}
}

// SessionID returns the owning session id.
func (s *State) SessionID() string { return s.sessionID }

// Append adds a turn with the given role and content and returns it.
func (s *State) Append(role llm.Role, content string) Turn {
	return s.AppendTurn(Turn{Role: role, Content: content})
}

// AppendTurn adds a fully-populated turn, filling in id, session and
// timestamp when absent.
func (s *State) AppendTurn(turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.SessionID == "" {
		turn.SessionID = s.sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	return turn
}

// Turns returns a copy of the turn sequence in append order.
func (s *State) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *State) Len() int { return len(s.turns) }

// Messages renders the turns as reasoning-service messages.
func (s *State) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(s.turns))
	for _, turn := range s.turns {
		out = append(out, llm.Message{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCalls:  turn.ToolCalls,
			ToolCallID: turn.ToolCallID,
		})
	}
	return out
}

// Store persists conversation turns across requests for a session.
type Store interface {
	// Append adds a turn to the session history.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Turns retrieves all turns for a session in append order.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	// Clear removes all turns for a session.
	Clear(ctx context.Context, sessionID string) error
}
