package agent

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatherlabs/gather/pkg/delegation"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/gatherlabs/gather/pkg/llm"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/tool"
)

func echoRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	err := reg.Register(tool.Descriptor{
		Name:        "lookup_person",
		Description: "look up a person",
		Params:      []tool.Param{{Name: "name", Type: "string", Required: true}},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"name": args["name"], "city": "lisbon"}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestExecuteDirectAnswer(t *testing.T) {
	provider := llm.NewScriptedMockProvider(llm.Text("nothing to look up"))
	a := New("helper", reasoning.NewClient(provider), echoRegistry(t),
		WithInstruction("answer briefly"))

	result, err := a.Execute(context.Background(), delegation.NewTask("say hi"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "nothing to look up" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestExecuteToolLoop(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		llm.Calls(llm.ToolCall{
			ID:   "c1",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "lookup_person",
				Arguments: `{"name":"ana"}`,
			},
		}),
		llm.Text("ana lives in lisbon"),
	)
	a := New("social", reasoning.NewClient(provider), echoRegistry(t))

	result, err := a.Execute(context.Background(), delegation.NewTask("where does ana live?"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "ana lives in lisbon" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if provider.CallCount != 2 {
		t.Errorf("expected 2 reasoning calls, got %d", provider.CallCount)
	}
}

func TestExecuteToolErrorFedBack(t *testing.T) {
	reg := tool.NewRegistry()
	_ = reg.Register(tool.Descriptor{
		Name:   "always_fails",
		Params: nil,
	}, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, context.DeadlineExceeded
	})

	var sawError bool
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			for _, msg := range req.Messages {
				if msg.Role == llm.RoleTool && strings.Contains(msg.Content, string(errors.CodeToolFailure)) {
					sawError = true
				}
			}
			if !sawError {
				return llm.Calls(llm.ToolCall{
					ID:       "c1",
					Type:     llm.ToolTypeFunction,
					Function: llm.FunctionCall{Name: "always_fails", Arguments: `{}`},
				}), nil
			}
			return llm.Text("the tool is broken"), nil
		},
	}
	a := New("worker", reasoning.NewClient(provider), reg)

	result, err := a.Execute(context.Background(), delegation.NewTask("try the tool"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sawError {
		t.Error("tool failure was not fed back to the reasoning step")
	}
	if result.Output != "the tool is broken" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestExecuteIterationLimit(t *testing.T) {
	provider := &llm.MockProvider{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Type: llm.ToolTypeFunction, Function: llm.FunctionCall{
				Name: "lookup_person", Arguments: `{"name":"ana"}`,
			}},
		},
	}
	a := New("looper", reasoning.NewClient(provider), echoRegistry(t), WithMaxIterations(3))

	_, err := a.Execute(context.Background(), delegation.NewTask("loop forever"))
	if err == nil {
		t.Fatal("expected iteration limit error")
	}
	if !strings.Contains(err.Error(), "3 iterations") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestExecuteRejectsNestedDelegation(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		llm.Calls(llm.ToolCall{
			ID:   "c1",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "agent__other",
				Arguments: `{"task":"do it for me"}`,
			},
		}),
		llm.Text("handled it myself"),
	)
	a := New("solo", reasoning.NewClient(provider), echoRegistry(t))

	result, err := a.Execute(context.Background(), delegation.NewTask("outsource this"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "handled it myself" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestExecuteNestedDelegation(t *testing.T) {
	handler := delegation.HandlerFunc(func(_ context.Context, task delegation.Task) (*delegation.Result, error) {
		if task.Depth != 2 {
			t.Errorf("expected depth 2, got %d", task.Depth)
		}
		return &delegation.Result{TaskID: task.ID, Output: "sub-task done"}, nil
	})
	card := directory.Card{AgentID: "helper", Version: "1.0"}
	srv := httptest.NewServer(delegation.NewServer(handler, card).Mux())
	defer srv.Close()

	dir := directory.New()
	if err := dir.Register(directory.Entry{
		AgentID:  "helper",
		Endpoint: srv.URL,
		Skills:   []directory.Skill{{ID: "h", Name: "helping", Description: "helps out"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider := llm.NewScriptedMockProvider(
		llm.Calls(llm.ToolCall{
			ID:   "c1",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "agent__helper",
				Arguments: `{"task":"handle the sub-task"}`,
			},
		}),
		llm.Text("delegated and done"),
	)
	a := New("coordinator", reasoning.NewClient(provider), tool.NewRegistry(),
		WithDelegation(delegation.NewClient(dir), dir, time.Second))

	task := delegation.NewTask("top-level goal")
	task.Depth = 1
	result, err := a.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "delegated and done" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestExecuteDelegationDepthGuard(t *testing.T) {
	dir := directory.New()
	if err := dir.Register(directory.Entry{
		AgentID:  "helper",
		Endpoint: "http://localhost:0",
		Skills:   []directory.Skill{{ID: "h", Name: "helping", Description: "helps out"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var sawGuard bool
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			for _, msg := range req.Messages {
				if msg.Role == llm.RoleTool && strings.Contains(msg.Content, "depth limit") {
					sawGuard = true
				}
			}
			if !sawGuard {
				return llm.Calls(llm.ToolCall{
					ID:   "c1",
					Type: llm.ToolTypeFunction,
					Function: llm.FunctionCall{
						Name:      "agent__helper",
						Arguments: `{"task":"go deeper"}`,
					},
				}), nil
			}
			return llm.Text("stopping the chain"), nil
		},
	}
	a := New("deep", reasoning.NewClient(provider), tool.NewRegistry(),
		WithDelegation(delegation.NewClient(dir), dir, time.Second),
		WithMaxDelegationDepth(2))

	task := delegation.NewTask("deep goal")
	task.Depth = 2
	result, err := a.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sawGuard {
		t.Error("depth guard observation not fed back")
	}
	if result.Output != "stopping the chain" {
		t.Errorf("unexpected output %q", result.Output)
	}
}

func TestCard(t *testing.T) {
	a := New("planner", nil, tool.NewRegistry(),
		WithDescription("breaks goals into steps"),
		WithSkills(directory.Skill{ID: "plan", Name: "planning", Description: "multi-step planning"}))
	card := a.Card()
	if card.AgentID != "planner" || len(card.Skills) != 1 {
		t.Errorf("unexpected card %+v", card)
	}
}
