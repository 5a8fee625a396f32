// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the specialized agent runtime: a named
// worker with an instruction, a private tool registry, and a bounded
// reason-act loop. Agents may delegate further when wired with a
// delegation client, subject to the depth guard.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gatherlabs/gather/pkg/delegation"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/gatherlabs/gather/pkg/llm"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/tool"
)

// DefaultMaxIterations bounds the local reason-act loop.
const DefaultMaxIterations = 5

// DefaultMaxDelegationDepth bounds delegation chains continued from
// this agent.
const DefaultMaxDelegationDepth = 3

// Agent is a specialized worker executing delegated tasks with its
// own tools.
type Agent struct {
	id            string
	description   string
	instruction   string
	version       string
	reasoner      *reasoning.Client
	tools         *tool.Registry
	skills        []directory.Skill
	maxIterations int
	logger        *slog.Logger

	delegator *delegation.Client
	directory *directory.Directory
	maxDepth  int
	deadline  time.Duration
}

// Option configures an agent.
type Option func(*Agent)

// WithDescription sets the description advertised on the agent card.
func WithDescription(description string) Option {
	return func(a *Agent) { a.description = description }
}

// WithInstruction sets the system instruction framing every task.
func WithInstruction(instruction string) Option {
	return func(a *Agent) { a.instruction = instruction }
}

// WithVersion sets the version advertised on the agent card.
func WithVersion(version string) Option {
	return func(a *Agent) { a.version = version }
}

// WithSkills sets the skills advertised for discovery.
func WithSkills(skills ...directory.Skill) Option {
	return func(a *Agent) { a.skills = skills }
}

// WithMaxIterations bounds the local reason-act loop.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDelegation lets this agent delegate onward to agents registered
// in dir, bounded by the depth guard.
func WithDelegation(client *delegation.Client, dir *directory.Directory, deadline time.Duration) Option {
	return func(a *Agent) {
		a.delegator = client
		a.directory = dir
		if deadline > 0 {
			a.deadline = deadline
		}
	}
}

// WithMaxDelegationDepth bounds delegation chains continued from this
// agent.
func WithMaxDelegationDepth(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxDepth = n
		}
	}
}

// New creates an agent with the given identity, reasoning client, and
// tool registry.
func New(id string, reasoner *reasoning.Client, tools *tool.Registry, opts ...Option) *Agent {
	a := &Agent{
		id:            id,
		version:       "1.0",
		reasoner:      reasoner,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		maxDepth:      DefaultMaxDelegationDepth,
		deadline:      30 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Card returns the discovery card for this agent. The endpoint is
// filled in by whoever serves the agent.
func (a *Agent) Card() directory.Card {
	return directory.Card{
		AgentID:     a.id,
		Description: a.description,
		Version:     a.version,
		Skills:      a.skills,
	}
}

// Execute runs the delegated task through the local reason-act loop.
// It implements delegation.Handler.
func (a *Agent) Execute(ctx context.Context, task delegation.Task) (*delegation.Result, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.instruction},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}
	definitions := a.tools.Definitions()
	if a.delegator != nil && a.directory != nil {
		definitions = append(definitions, reasoning.AgentTools(a.directory.List())...)
	}

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		decision, err := a.reasoner.Decide(ctx, messages, definitions)
		if err != nil {
			return nil, err
		}

		if decision.Kind == reasoning.KindFinalAnswer {
			return &delegation.Result{TaskID: task.ID, Output: decision.Answer}, nil
		}

		messages = append(messages, actionMessage(decision))
		for _, invocation := range decision.ToolInvocations {
			messages = append(messages, a.runTool(ctx, invocation))
		}
		for _, del := range decision.Delegations {
			messages = append(messages, a.runDelegation(ctx, task, del))
		}
	}

	return nil, errors.New(errors.CodeInternal,
		fmt.Sprintf("no final answer within %d iterations", a.maxIterations), nil).
		WithContext("agent", a.id).
		WithContext("task_id", task.ID)
}

func (a *Agent) runTool(ctx context.Context, invocation reasoning.ToolInvocation) llm.Message {
	output, err := a.tools.Invoke(ctx, invocation.Name, invocation.Args)
	if err != nil {
		a.logger.WarnContext(ctx, "tool invocation failed",
			"agent", a.id,
			"tool", invocation.Name,
			"error", err)
		ge := errors.AsGatherError(err)
		detail := ge.Message
		if ge.Err != nil {
			detail = fmt.Sprintf("%s: %v", ge.Message, ge.Err)
		}
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: invocation.CallID,
			Content:    fmt.Sprintf("error [%s]: %s", ge.Code, detail),
		}
	}
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: invocation.CallID,
		Content:    renderOutput(output),
	}
}

// runDelegation continues the delegation chain when this agent is
// wired for it, honoring the depth guard.
func (a *Agent) runDelegation(ctx context.Context, task delegation.Task, del reasoning.Delegation) llm.Message {
	if a.delegator == nil || a.directory == nil {
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: del.CallID,
			Content: fmt.Sprintf("error [%s]: agent %q is not available from here",
				errors.CodeUnknownAgent, del.AgentID),
		}
	}
	if task.Depth+1 > a.maxDepth {
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: del.CallID,
			Content: fmt.Sprintf("error [%s]: delegation depth limit reached, handle this directly",
				errors.CodeDelegationFailed),
		}
	}

	sub := delegation.NewTask(del.Goal)
	sub.SessionID = task.SessionID
	sub.Params = del.Params
	sub.Depth = task.Depth + 1

	env := delegation.NewEnvelope(sub, del.AgentID, a.deadline)
	result, err := a.delegator.Delegate(ctx, env)
	if err != nil {
		ge := errors.AsGatherError(err)
		a.logger.WarnContext(ctx, "nested delegation failed",
			"agent", a.id,
			"target", del.AgentID,
			"correlation_id", env.CorrelationID,
			"error", err)
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: del.CallID,
			Content: fmt.Sprintf("error [%s]: agent %q did not complete the task: %s",
				ge.Code, del.AgentID, ge.Message),
		}
	}
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: del.CallID,
		Content:    result.Output,
	}
}

// actionMessage reconstructs the assistant turn carrying the tool
// calls, so the transcript the reasoning service sees stays coherent.
func actionMessage(decision *reasoning.Decision) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, invocation := range decision.ToolInvocations {
		args, _ := json.Marshal(invocation.Args)
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:   invocation.CallID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      invocation.Name,
				Arguments: string(args),
			},
		})
	}
	for _, del := range decision.Delegations {
		args, _ := json.Marshal(map[string]any{"task": del.Goal})
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:   del.CallID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      reasoning.AgentToolPrefix + del.AgentID,
				Arguments: string(args),
			},
		})
	}
	return msg
}

func taskPrompt(task delegation.Task) string {
	var b strings.Builder
	b.WriteString(task.Goal)
	if len(task.Params) > 0 {
		params, err := json.Marshal(task.Params)
		if err == nil {
			b.WriteString("\n\nParameters: ")
			b.Write(params)
		}
	}
	return b.String()
}

func renderOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
