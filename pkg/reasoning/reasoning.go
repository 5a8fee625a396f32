// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package reasoning wraps the external reasoning service behind a
// decision-oriented API. A reasoning step takes the conversation so
// far plus the available tools and agents, and yields exactly one
// decision: answer directly, invoke tools, or delegate to agents.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/gatherlabs/gather/pkg/llm"
	"github.com/gatherlabs/gather/pkg/resilience"
)

// AgentToolPrefix marks synthetic tool definitions that stand in for
// delegable agents. The reasoning service selects agents the same way
// it selects tools; the prefix routes the call to the delegation path.
const AgentToolPrefix = "agent__"

// DecisionKind discriminates the decision variant.
type DecisionKind string

const (
	// KindFinalAnswer means the reasoning step produced the response
	// text and the loop is done.
	KindFinalAnswer DecisionKind = "FINAL_ANSWER"

	// KindActions means the reasoning step requested tool invocations
	// and/or agent delegations to be executed before reasoning again.
	KindActions DecisionKind = "ACTIONS"
)

// ToolInvocation is a request to run one registered tool.
type ToolInvocation struct {
	CallID string
	Name   string
	Args   map[string]any
}

// Delegation is a request to hand a sub-task to another agent.
type Delegation struct {
	CallID  string
	AgentID string
	Goal    string
	Params  map[string]any
}

// Decision is the outcome of one reasoning step. Exactly one variant
// is populated: Answer for KindFinalAnswer, or ToolInvocations and
// Delegations (one of which may be empty) for KindActions.
type Decision struct {
	Kind            DecisionKind
	Answer          string
	ToolInvocations []ToolInvocation
	Delegations     []Delegation
	Usage           llm.Usage
}

// Client drives the reasoning service and normalizes its output into
// decisions.
type Client struct {
	provider    llm.Provider
	model       string
	temperature float64
	retry       resilience.RetryConfig
}

// ClientOption configures the reasoning client.
type ClientOption func(*Client)

// WithModel sets the model identifier passed to the provider.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = temperature }
}

// WithRetry overrides the retry policy for transient provider outages.
func WithRetry(retry resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = retry }
}

// NewClient creates a reasoning client on top of the given provider.
func NewClient(provider llm.Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Decide runs one reasoning step over the conversation. Transient
// provider failures are retried with backoff; malformed output is
// surfaced immediately since resending the same prompt would not fix
// it.
func (c *Client) Decide(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*Decision, error) {
	req := llm.ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
	}

	var resp *llm.ChatResponse
	err := c.retry.Do(ctx, func() error {
		var chatErr error
		resp, chatErr = c.provider.Chat(ctx, req)
		if chatErr != nil {
			if ge := errors.AsGatherError(chatErr); ge.Code != errors.CodeInternal {
				return ge
			}
			return errors.New(errors.CodeReasoningUnavailable, "reasoning service call failed", chatErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseDecision(resp)
}

// parseDecision normalizes a chat response into a Decision.
func parseDecision(resp *llm.ChatResponse) (*Decision, error) {
	if resp == nil {
		return nil, errors.New(errors.CodeReasoningMalformed, "reasoning service returned no response", nil)
	}

	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Content) == "" {
			return nil, errors.New(errors.CodeReasoningMalformed,
				"reasoning service returned neither content nor actions", nil)
		}
		return &Decision{
			Kind:   KindFinalAnswer,
			Answer: resp.Content,
			Usage:  resp.Usage,
		}, nil
	}

	decision := &Decision{Kind: KindActions, Usage: resp.Usage}
	for _, call := range resp.ToolCalls {
		name := call.Function.Name
		if strings.TrimSpace(name) == "" {
			return nil, errors.New(errors.CodeReasoningMalformed, "tool call without a name", nil)
		}
		args, err := decodeArgs(call.Function.Arguments)
		if err != nil {
			return nil, errors.New(errors.CodeReasoningMalformed,
				fmt.Sprintf("arguments for %q are not a json object", name), err)
		}
		if agentID, ok := strings.CutPrefix(name, AgentToolPrefix); ok {
			delegation, err := parseDelegation(call.ID, agentID, args)
			if err != nil {
				return nil, err
			}
			decision.Delegations = append(decision.Delegations, delegation)
			continue
		}
		decision.ToolInvocations = append(decision.ToolInvocations, ToolInvocation{
			CallID: call.ID,
			Name:   name,
			Args:   args,
		})
	}
	return decision, nil
}

func parseDelegation(callID, agentID string, args map[string]any) (Delegation, error) {
	if strings.TrimSpace(agentID) == "" {
		return Delegation{}, errors.New(errors.CodeReasoningMalformed, "delegation call without an agent id", nil)
	}
	goal, _ := args["task"].(string)
	if strings.TrimSpace(goal) == "" {
		return Delegation{}, errors.New(errors.CodeReasoningMalformed,
			fmt.Sprintf("delegation to %q is missing the task description", agentID), nil)
	}
	params := make(map[string]any, len(args))
	for k, v := range args {
		if k == "task" {
			continue
		}
		params[k] = v
	}
	return Delegation{CallID: callID, AgentID: agentID, Goal: goal, Params: params}, nil
}

func decodeArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// AgentTools renders directory entries as synthetic tool definitions
// so the reasoning service can choose delegation targets alongside
// ordinary tools.
func AgentTools(entries []directory.Entry) []llm.Tool {
	out := make([]llm.Tool, 0, len(entries))
	for _, entry := range entries {
		out = append(out, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        AgentToolPrefix + entry.AgentID,
				Description: agentDescription(entry),
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task": map[string]any{
							"type":        "string",
							"description": "What the agent should accomplish, in natural language.",
						},
					},
					"required": []string{"task"},
				},
			},
		})
	}
	return out
}

func agentDescription(entry directory.Entry) string {
	var b strings.Builder
	b.WriteString("Delegate a sub-task to the ")
	b.WriteString(entry.AgentID)
	b.WriteString(" agent.")
	if entry.Description != "" {
		b.WriteString(" ")
		b.WriteString(entry.Description)
	}
	if len(entry.Skills) > 0 {
		b.WriteString(" Skills:")
		for _, skill := range entry.Skills {
			b.WriteString(" ")
			b.WriteString(skill.Name)
			b.WriteString(" (")
			b.WriteString(skill.Description)
			b.WriteString(");")
		}
	}
	return b.String()
}
