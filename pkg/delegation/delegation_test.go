package delegation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
)

func newTestDirectory(t *testing.T, agentID, endpoint string) *directory.Directory {
	t.Helper()
	dir := directory.New()
	err := dir.Register(directory.Entry{
		AgentID:     agentID,
		Description: "test agent",
		Endpoint:    endpoint,
		Skills: []directory.Skill{
			{ID: "s1", Name: "testing", Description: "answers test tasks"},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return dir
}

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, task Task) (*Result, error) {
		return &Result{TaskID: task.ID, Output: "done: " + task.Goal}, nil
	})
}

func TestEnvelopeTransitions(t *testing.T) {
	env := NewEnvelope(NewTask("demo"), "a1", time.Second)
	if env.CurrentState() != StateCreated {
		t.Fatalf("expected CREATED, got %s", env.CurrentState())
	}
	if !env.transition(StateSent, StateCreated) {
		t.Fatal("CREATED -> SENT should succeed")
	}
	if env.transition(StateCompleted, StateCreated) {
		t.Fatal("transition from stale source state should fail")
	}
	if !env.transition(StateAwaitingResponse, StateSent) {
		t.Fatal("SENT -> AWAITING_RESPONSE should succeed")
	}
	if !env.transition(StateTimedOut, StateAwaitingResponse) {
		t.Fatal("AWAITING_RESPONSE -> TIMED_OUT should succeed")
	}
	// A late response must not be applied after the timeout.
	if env.transition(StateCompleted, StateAwaitingResponse) {
		t.Fatal("late completion applied after timeout")
	}
	// Timed-out envelopes can be re-armed for a retry.
	if !env.transition(StateSent, StateTimedOut) {
		t.Fatal("TIMED_OUT -> SENT re-arm should succeed")
	}
}

func TestDelegateRoundTrip(t *testing.T) {
	card := directory.Card{AgentID: "echo", Description: "echo agent", Version: "1.0"}
	srv := httptest.NewServer(NewServer(echoHandler(), card).Mux())
	defer srv.Close()

	dir := newTestDirectory(t, "echo", srv.URL)
	client := NewClient(dir)

	env := NewEnvelope(NewTask("say hi"), "echo", 2*time.Second)
	result, err := client.Delegate(context.Background(), env)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if result.Output != "done: say hi" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if result.TaskID != env.Task.ID {
		t.Errorf("task id not round-tripped: %q != %q", result.TaskID, env.Task.ID)
	}
	if env.CurrentState() != StateCompleted {
		t.Errorf("expected COMPLETED, got %s", env.CurrentState())
	}
}

func TestDelegateUnknownAgent(t *testing.T) {
	client := NewClient(directory.New())
	env := NewEnvelope(NewTask("anything"), "ghost", time.Second)
	_, err := client.Delegate(context.Background(), env)
	if !errors.HasCode(err, errors.CodeUnknownAgent) {
		t.Fatalf("expected UNKNOWN_AGENT, got %v", err)
	}
	if env.CurrentState() != StateFailed {
		t.Errorf("expected FAILED, got %s", env.CurrentState())
	}
}

func TestDelegateRetriesTimeoutWithSameCorrelationID(t *testing.T) {
	var mu sync.Mutex
	var seenIDs []string
	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seenIDs = append(seenIDs, req.ID)
		mu.Unlock()

		if atomic.AddInt32(&calls, 1) == 1 {
			// First attempt stalls past the deadline.
			time.Sleep(300 * time.Millisecond)
			return
		}
		var task Task
		_ = json.Unmarshal(req.Params, &task)
		payload, _ := json.Marshal(Result{TaskID: task.ID, Output: "recovered"})
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: payload})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "slow", srv.URL)
	client := NewClient(dir, WithMaxRetries(2))

	env := NewEnvelope(NewTask("retry me"), "slow", 50*time.Millisecond)
	result, err := client.Delegate(context.Background(), env)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if result.Output != "recovered" {
		t.Errorf("unexpected output %q", result.Output)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seenIDs) < 2 {
		t.Fatalf("expected a retry, saw %d requests", len(seenIDs))
	}
	for _, id := range seenIDs {
		if id != env.CorrelationID {
			t.Errorf("retry changed correlation id: %q != %q", id, env.CorrelationID)
		}
	}
}

func TestDelegateLateResponseSatisfiesRetry(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if atomic.AddInt32(&calls, 1) > 1 {
			// The retry is never answered; only the first, slow
			// response can complete the exchange.
			<-r.Context().Done()
			return
		}
		// Answer the first attempt past its own deadline but inside
		// the retry's window.
		time.Sleep(250 * time.Millisecond)
		var task Task
		_ = json.Unmarshal(req.Params, &task)
		payload, _ := json.Marshal(Result{TaskID: task.ID, Output: "late but valid"})
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: payload})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "tardy", srv.URL)
	client := NewClient(dir, WithMaxRetries(2))

	env := NewEnvelope(NewTask("patience"), "tardy", 150*time.Millisecond)
	result, err := client.Delegate(context.Background(), env)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if result.Output != "late but valid" {
		t.Errorf("unexpected output %q", result.Output)
	}
	if env.CurrentState() != StateCompleted {
		t.Errorf("expected COMPLETED, got %s", env.CurrentState())
	}
}

func TestDelegateReleasesAbandonedSend(t *testing.T) {
	released := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and the
		// request context fires when the client abandons the exchange.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
		close(released)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "silent", srv.URL)
	client := NewClient(dir, WithMaxRetries(0))

	env := NewEnvelope(NewTask("no answer"), "silent", 30*time.Millisecond)
	_, err := client.Delegate(context.Background(), env)
	if !errors.HasCode(err, errors.CodeDelegationTimeout) {
		t.Fatalf("expected DELEGATION_TIMED_OUT, got %v", err)
	}

	// The in-flight round trip must not outlive the exchange.
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned round trip still in flight after Delegate returned")
	}
}

func TestDelegateTimeoutExhaustsRetries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "stuck", srv.URL)
	client := NewClient(dir, WithMaxRetries(1))

	env := NewEnvelope(NewTask("never answered"), "stuck", 30*time.Millisecond)
	_, err := client.Delegate(context.Background(), env)
	if !errors.HasCode(err, errors.CodeDelegationTimeout) {
		t.Fatalf("expected DELEGATION_TIMED_OUT, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Error("delegation timeout should be recoverable")
	}
	if env.CurrentState() != StateFailed {
		t.Errorf("expected abandoned envelope FAILED, got %s", env.CurrentState())
	}
	if !client.IsAbandoned(env.CorrelationID) {
		t.Error("exhausted envelope not recorded as abandoned")
	}
}

func TestDelegateTransportFailureNotRetried(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "broken", srv.URL)
	client := NewClient(dir, WithMaxRetries(2))

	env := NewEnvelope(NewTask("doomed"), "broken", time.Second)
	_, err := client.Delegate(context.Background(), env)
	if !errors.HasCode(err, errors.CodeDelegationFailed) {
		t.Fatalf("expected DELEGATION_FAILED, got %v", err)
	}
	if errors.IsRecoverable(err) {
		t.Error("transport failure should not be recoverable")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("transport failure retried: %d calls", got)
	}
	if env.CurrentState() != StateFailed {
		t.Errorf("expected FAILED, got %s", env.CurrentState())
	}
}

func TestDelegateCorrelationMismatchDiscarded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		payload, _ := json.Marshal(Result{TaskID: "t1", Output: "stale"})
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: "someone-else", Result: payload})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "confused", srv.URL)
	client := NewClient(dir, WithMaxRetries(0))

	env := NewEnvelope(NewTask("who am i"), "confused", time.Second)
	_, err := client.Delegate(context.Background(), env)
	if !errors.HasCode(err, errors.CodeDelegationFailed) {
		t.Fatalf("expected DELEGATION_FAILED on mismatch, got %v", err)
	}
}

func TestDelegateCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and the
		// request context fires when the client abandons the exchange.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := newTestDirectory(t, "slowpoke", srv.URL)
	client := NewClient(dir)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	env := NewEnvelope(NewTask("abandon me"), "slowpoke", 5*time.Second)
	_, err := client.Delegate(ctx, env)
	if !errors.HasCode(err, errors.CodeDelegationFailed) {
		t.Fatalf("expected DELEGATION_FAILED on cancellation, got %v", err)
	}
	if env.CurrentState() != StateFailed {
		t.Errorf("expected FAILED after cancellation, got %s", env.CurrentState())
	}
	if !client.IsAbandoned(env.CorrelationID) {
		t.Error("cancelled envelope not recorded as abandoned")
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	card := directory.Card{AgentID: "echo", Version: "1.0"}
	srv := NewServer(echoHandler(), card)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"not json", "{", rpcCodeParse},
		{"missing id", `{"jsonrpc":"2.0","method":"agent.execute","params":{}}`, rpcCodeInvalidRequest},
		{"wrong method", `{"jsonrpc":"2.0","id":"1","method":"agent.ping","params":{}}`, rpcCodeMethodNotFound},
		{"empty goal", `{"jsonrpc":"2.0","id":"1","method":"agent.execute","params":{"id":"t1"}}`, rpcCodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			srv.ServeHTTP(rec, req)
			var resp rpcResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tc.code {
				t.Errorf("expected rpc error %d, got %+v", tc.code, resp.Error)
			}
		})
	}
}

func TestServerMapsHandlerErrors(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, task Task) (*Result, error) {
		switch task.Goal {
		case "bad-args":
			return nil, errors.New(errors.CodeArgumentMismatch, "bad arguments", nil)
		case "missing-tool":
			return nil, errors.New(errors.CodeUnknownTool, "no such tool", nil)
		default:
			return nil, errors.New(errors.CodeToolFailure, "tool blew up", nil)
		}
	})
	card := directory.Card{AgentID: "grumpy", Version: "1.0"}
	srv := httptest.NewServer(NewServer(handler, card).Mux())
	defer srv.Close()

	dir := newTestDirectory(t, "grumpy", srv.URL)
	client := NewClient(dir, WithMaxRetries(0))

	for goal, want := range map[string]string{
		"bad-args":     "bad arguments",
		"missing-tool": "no such tool",
		"anything":     "tool blew up",
	} {
		env := NewEnvelope(NewTask(goal), "grumpy", time.Second)
		_, err := client.Delegate(context.Background(), env)
		if err == nil {
			t.Fatalf("goal %q: expected error", goal)
		}
		ge := errors.AsGatherError(err)
		if ge.Code != errors.CodeDelegationFailed {
			t.Errorf("goal %q: expected DELEGATION_FAILED wrapper, got %s", goal, ge.Code)
		}
		if !strings.Contains(ge.Message, want) {
			t.Errorf("goal %q: message %q missing %q", goal, ge.Message, want)
		}
	}
}

func TestServerPublishesCard(t *testing.T) {
	card := directory.Card{
		AgentID:     "planner",
		Description: "breaks goals into steps",
		Version:     "1.0",
		Skills: []directory.Skill{
			{ID: "plan", Name: "planning", Description: "multi-step planning"},
		},
	}
	srv := httptest.NewServer(NewServer(echoHandler(), card).Mux())
	defer srv.Close()

	fetched, err := directory.FetchCard(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch card: %v", err)
	}
	if fetched.AgentID != "planner" || len(fetched.Skills) != 1 {
		t.Errorf("card not round-tripped: %+v", fetched)
	}
}
