package llm

import (
	"context"
	"testing"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", resp.Content)
	}
}

func TestScriptedMockProviderOrder(t *testing.T) {
	mock := NewScriptedMockProvider(
		Calls(ToolCall{Type: ToolTypeFunction, Function: FunctionCall{Name: "lookup", Arguments: "{}"}}),
		Text("done"),
	)
	first, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(first.ToolCalls) != 1 || first.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("unexpected first response: %+v", first)
	}
	second, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.Content != "done" {
		t.Errorf("expected 'done', got %q", second.Content)
	}
	if _, err := mock.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error when script is exhausted")
	}
	if mock.CallCount != 3 {
		t.Errorf("expected 3 calls, got %d", mock.CallCount)
	}
}
