package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response  string
	ToolCalls []ToolCall
	Err       error
	ChatFunc  func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content:   m.Response,
		ToolCalls: m.ToolCalls,
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// ScriptedMockProvider returns a pre-defined sequence of responses.
// Useful for testing multi-turn plan-act-observe loops.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Errs      []error
	CallCount int
}

// NewScriptedMockProvider creates a mock that pops responses in order.
func NewScriptedMockProvider(responses ...*ChatResponse) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Text builds a plain-content scripted response.
func Text(content string) *ChatResponse {
	return &ChatResponse{Content: content}
}

// Calls builds a scripted response consisting of tool calls.
func Calls(calls ...ToolCall) *ChatResponse {
	return &ChatResponse{ToolCalls: calls}
}

// Chat pops the next scripted response, or the next scripted error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}
