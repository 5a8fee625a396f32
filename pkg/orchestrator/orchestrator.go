// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the central plan-act-observe loop.
// Each user request runs through bounded reasoning iterations; every
// iteration either answers, invokes tools, or delegates sub-tasks to
// specialized agents, with all observations fed back into the next
// planning step.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatherlabs/gather/pkg/conversation"
	"github.com/gatherlabs/gather/pkg/delegation"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/gatherlabs/gather/pkg/llm"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/telemetry"
	"github.com/gatherlabs/gather/pkg/tool"
)

// Phase labels the loop position for logging and tracing.
type Phase string

const (
	PhaseReceived      Phase = "RECEIVED"
	PhasePlanning      Phase = "PLANNING"
	PhaseToolDispatch  Phase = "TOOL_DISPATCH"
	PhaseAgentDispatch Phase = "AGENT_DISPATCH"
	PhaseObserving     Phase = "OBSERVING"
	PhaseResponded     Phase = "RESPONDED"
)

const (
	// DefaultMaxIterations bounds planning iterations per request.
	DefaultMaxIterations = 8

	// DefaultDelegationDeadline bounds one delegation attempt.
	DefaultDelegationDeadline = 30 * time.Second

	// DefaultMaxDelegationDepth bounds delegation chains from the
	// originating request.
	DefaultMaxDelegationDepth = 3
)

// Request is one user turn to orchestrate.
type Request struct {
	SessionID string
	Input     string

	// Depth is the delegation depth this request arrived at. Zero for
	// user-facing requests.
	Depth int
}

// Response is the orchestrated outcome of a request.
type Response struct {
	SessionID  string
	Output     string
	Iterations int

	// Truncated is set when the iteration cap elapsed before the
	// reasoning step produced a final answer.
	Truncated bool

	// Degraded is set when some action failed or the reasoning
	// service broke down, and the answer was produced anyway.
	Degraded bool
}

// Orchestrator coordinates reasoning, tools, and agent delegation for
// a session.
type Orchestrator struct {
	reasoner  *reasoning.Client
	tools     *tool.Registry
	directory *directory.Directory
	delegator *delegation.Client
	store     conversation.Store

	systemPrompt       string
	maxIterations      int
	delegationDeadline time.Duration
	maxDelegationDepth int
	logger             *slog.Logger
	tracer             trace.Tracer
	metrics            *telemetry.OrchestrationMetrics
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt sets the system instruction opening every session.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithMaxIterations bounds planning iterations per request.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithDelegationDeadline bounds one delegation attempt.
func WithDelegationDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.delegationDeadline = d
		}
	}
}

// WithMaxDelegationDepth bounds delegation chains.
func WithMaxDelegationDepth(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxDelegationDepth = n
		}
	}
}

// WithStore sets the conversation store. Defaults to in-memory.
func WithStore(store conversation.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the orchestration metrics. Nil disables recording.
func WithMetrics(metrics *telemetry.OrchestrationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// New creates an orchestrator. The delegator may be nil when no
// agents are registered; delegation decisions then degrade into
// observations instead of dispatches.
func New(reasoner *reasoning.Client, tools *tool.Registry, dir *directory.Directory, delegator *delegation.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reasoner:           reasoner,
		tools:              tools,
		directory:          dir,
		delegator:          delegator,
		store:              conversation.NewInMemoryStore(),
		maxIterations:      DefaultMaxIterations,
		delegationDeadline: DefaultDelegationDeadline,
		maxDelegationDepth: DefaultMaxDelegationDepth,
		logger:             slog.Default(),
		tracer:             otel.Tracer("gather/orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Handle orchestrates one request to completion. The conversation
// history for the session is loaded, the new turn appended, and the
// loop runs until a final answer or the iteration cap.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle",
		trace.WithAttributes(attribute.String("session.id", req.SessionID)))
	defer span.End()

	o.logPhase(ctx, PhaseReceived, req.SessionID, 0)

	state, err := o.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	userTurn := state.Append(llm.RoleUser, req.Input)
	if err := o.store.Append(ctx, req.SessionID, userTurn); err != nil {
		return nil, errors.New(errors.CodeInternal, "persist user turn", err)
	}

	definitions := append(o.tools.Definitions(), reasoning.AgentTools(o.directory.List())...)
	var degraded bool

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		o.logPhase(ctx, PhasePlanning, req.SessionID, iteration)

		decision, err := o.reasoner.Decide(ctx, state.Messages(), definitions)
		if err != nil {
			// The loop always answers; a broken reasoning service
			// degrades into an apology instead of a transport error.
			if ctx.Err() != nil {
				return nil, errors.New(errors.CodeContextLost, "request cancelled", ctx.Err())
			}
			ge := errors.AsGatherError(err)
			o.logger.ErrorContext(ctx, "reasoning step failed",
				"session_id", req.SessionID,
				"code", ge.Code,
				"error", err)
			output := "I could not reason about this request right now. Please try again."
			if respondErr := o.respond(ctx, req.SessionID, state, output); respondErr != nil {
				return nil, respondErr
			}
			o.logPhase(ctx, PhaseResponded, req.SessionID, iteration)
			o.metrics.RecordRequest(ctx, iteration, false, true)
			return &Response{
				SessionID:  req.SessionID,
				Output:     output,
				Iterations: iteration,
				Degraded:   true,
			}, nil
		}

		if decision.Kind == reasoning.KindFinalAnswer {
			if err := o.respond(ctx, req.SessionID, state, decision.Answer); err != nil {
				return nil, err
			}
			o.logPhase(ctx, PhaseResponded, req.SessionID, iteration)
			o.metrics.RecordRequest(ctx, iteration, false, degraded)
			return &Response{
				SessionID:  req.SessionID,
				Output:     decision.Answer,
				Iterations: iteration,
				Degraded:   degraded,
			}, nil
		}

		stepDegraded, err := o.act(ctx, req, state, decision, iteration)
		if err != nil {
			return nil, err
		}
		degraded = degraded || stepDegraded
	}

	// Iteration cap reached: one last reasoning step with no tools to
	// force a textual answer, degraded if even that fails.
	output := o.truncatedAnswer(ctx, state)
	if err := o.respond(ctx, req.SessionID, state, output); err != nil {
		return nil, err
	}
	o.logPhase(ctx, PhaseResponded, req.SessionID, o.maxIterations)
	o.metrics.RecordRequest(ctx, o.maxIterations, true, degraded)
	return &Response{
		SessionID:  req.SessionID,
		Output:     output,
		Iterations: o.maxIterations,
		Truncated:  true,
		Degraded:   degraded,
	}, nil
}

// act dispatches every action of the decision, waits for all of them,
// and appends observations in dispatch order. Reports whether any
// observation was degraded.
func (o *Orchestrator) act(ctx context.Context, req Request, state *conversation.State, decision *reasoning.Decision, iteration int) (bool, error) {
	actionTurn := actionTurn(decision)
	state.AppendTurn(actionTurn)
	if err := o.store.Append(ctx, req.SessionID, actionTurn); err != nil {
		return false, errors.New(errors.CodeInternal, "persist action turn", err)
	}

	if len(decision.ToolInvocations) > 0 {
		o.logPhase(ctx, PhaseToolDispatch, req.SessionID, iteration)
	}
	if len(decision.Delegations) > 0 {
		o.logPhase(ctx, PhaseAgentDispatch, req.SessionID, iteration)
	}

	type observation struct {
		callID   string
		content  string
		degraded bool
	}
	observations := make([]observation, len(decision.ToolInvocations)+len(decision.Delegations))

	var wg sync.WaitGroup
	for i, invocation := range decision.ToolInvocations {
		wg.Add(1)
		go func(slot int, invocation reasoning.ToolInvocation) {
			defer wg.Done()
			content, degraded := o.invokeTool(ctx, invocation)
			observations[slot] = observation{
				callID:   invocation.CallID,
				content:  content,
				degraded: degraded,
			}
		}(i, invocation)
	}
	offset := len(decision.ToolInvocations)
	for i, del := range decision.Delegations {
		wg.Add(1)
		go func(slot int, del reasoning.Delegation) {
			defer wg.Done()
			content, degraded := o.delegate(ctx, req, del)
			observations[slot] = observation{
				callID:   del.CallID,
				content:  content,
				degraded: degraded,
			}
		}(offset+i, del)
	}
	wg.Wait()

	o.logPhase(ctx, PhaseObserving, req.SessionID, iteration)
	var degraded bool
	for _, obs := range observations {
		degraded = degraded || obs.degraded
		turn := conversation.Turn{
			Role:       llm.RoleTool,
			Content:    obs.content,
			ToolCallID: obs.callID,
		}
		state.AppendTurn(turn)
		if err := o.store.Append(ctx, req.SessionID, turn); err != nil {
			return degraded, errors.New(errors.CodeInternal, "persist observation", err)
		}
	}
	return degraded, nil
}

// invokeTool runs one tool and renders the observation. Failures
// become degraded observations so the next planning step can adjust
// instead of aborting the whole request.
func (o *Orchestrator) invokeTool(ctx context.Context, invocation reasoning.ToolInvocation) (string, bool) {
	output, err := o.tools.Invoke(ctx, invocation.Name, invocation.Args)
	if err != nil {
		ge := errors.AsGatherError(err)
		o.logger.WarnContext(ctx, "tool invocation degraded",
			"tool", invocation.Name,
			"code", ge.Code,
			"error", err)
		detail := ge.Message
		if ge.Err != nil {
			detail = fmt.Sprintf("%s: %v", ge.Message, ge.Err)
		}
		return fmt.Sprintf("error [%s]: %s", ge.Code, detail), true
	}
	return renderObservation(output), false
}

// delegate dispatches one sub-task and renders the observation.
func (o *Orchestrator) delegate(ctx context.Context, req Request, del reasoning.Delegation) (string, bool) {
	if o.delegator == nil {
		return fmt.Sprintf("error [%s]: agent delegation is not configured", errors.CodeUnknownAgent), true
	}
	if req.Depth+1 > o.maxDelegationDepth {
		o.logger.WarnContext(ctx, "delegation depth exceeded",
			"agent", del.AgentID,
			"depth", req.Depth)
		return fmt.Sprintf("error [%s]: delegation depth limit reached, handle this directly",
			errors.CodeDelegationFailed), true
	}

	task := delegation.NewTask(del.Goal)
	task.SessionID = req.SessionID
	task.Params = del.Params
	task.Depth = req.Depth + 1

	env := delegation.NewEnvelope(task, del.AgentID, o.delegationDeadline)
	result, err := o.delegator.Delegate(ctx, env)
	if err != nil {
		ge := errors.AsGatherError(err)
		o.logger.WarnContext(ctx, "delegation degraded",
			"agent", del.AgentID,
			"correlation_id", env.CorrelationID,
			"code", ge.Code,
			"error", err)
		o.metrics.RecordDelegation(ctx, del.AgentID, false)
		return fmt.Sprintf("error [%s]: agent %q did not complete the task: %s",
			ge.Code, del.AgentID, ge.Message), true
	}
	o.metrics.RecordDelegation(ctx, del.AgentID, true)
	if len(result.Data) > 0 {
		data, err := json.Marshal(result.Data)
		if err == nil {
			return result.Output + "\n" + string(data), false
		}
	}
	return result.Output, false
}

// truncatedAnswer forces a final textual answer once the iteration
// cap is hit. No tools are offered, so the reasoning step can only
// answer with what it has observed so far.
func (o *Orchestrator) truncatedAnswer(ctx context.Context, state *conversation.State) string {
	messages := append(state.Messages(), llm.Message{
		Role:    llm.RoleUser,
		Content: "Stop working. Summarize what you have accomplished and what remains unfinished.",
	})
	decision, err := o.reasoner.Decide(ctx, messages, nil)
	if err != nil || decision.Kind != reasoning.KindFinalAnswer {
		return "I could not complete this request within the allowed number of steps."
	}
	return decision.Answer
}

func (o *Orchestrator) respond(ctx context.Context, sessionID string, state *conversation.State, output string) error {
	turn := state.Append(llm.RoleAssistant, output)
	if err := o.store.Append(ctx, sessionID, turn); err != nil {
		return errors.New(errors.CodeInternal, "persist assistant turn", err)
	}
	return nil
}

// loadState rebuilds the request-local conversation state from the
// store, seeding the system prompt on fresh sessions.
func (o *Orchestrator) loadState(ctx context.Context, sessionID string) (*conversation.State, error) {
	turns, err := o.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "load conversation", err)
	}
	state := conversation.NewState(sessionID)
	if len(turns) == 0 && o.systemPrompt != "" {
		systemTurn := state.Append(llm.RoleSystem, o.systemPrompt)
		if err := o.store.Append(ctx, sessionID, systemTurn); err != nil {
			return nil, errors.New(errors.CodeInternal, "persist system turn", err)
		}
		return state, nil
	}
	for _, turn := range turns {
		state.AppendTurn(turn)
	}
	return state, nil
}

func (o *Orchestrator) logPhase(ctx context.Context, phase Phase, sessionID string, iteration int) {
	o.logger.DebugContext(ctx, "orchestration phase",
		"phase", string(phase),
		"session_id", sessionID,
		"iteration", iteration)
}

// actionTurn reconstructs the assistant turn carrying the requested
// tool calls and delegations for the transcript.
func actionTurn(decision *reasoning.Decision) conversation.Turn {
	turn := conversation.Turn{Role: llm.RoleAssistant}
	for _, invocation := range decision.ToolInvocations {
		args, _ := json.Marshal(invocation.Args)
		turn.ToolCalls = append(turn.ToolCalls, llm.ToolCall{
			ID:   invocation.CallID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      invocation.Name,
				Arguments: string(args),
			},
		})
	}
	for _, del := range decision.Delegations {
		params := map[string]any{"task": del.Goal}
		for k, v := range del.Params {
			params[k] = v
		}
		args, _ := json.Marshal(params)
		turn.ToolCalls = append(turn.ToolCalls, llm.ToolCall{
			ID:   del.CallID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      reasoning.AgentToolPrefix + del.AgentID,
				Arguments: string(args),
			},
		})
	}
	return turn
}

func renderObservation(output any) string {
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
