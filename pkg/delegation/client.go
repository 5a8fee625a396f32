// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
)

// MethodExecute is the JSON-RPC method carrying a delegated task.
const MethodExecute = "agent.execute"

// DefaultDeadline bounds one delegation attempt when the envelope
// carries none.
const DefaultDeadline = 30 * time.Second

// DefaultMaxRetries is the number of re-sends after a timed-out
// attempt. Transport failures are never retried automatically.
const DefaultMaxRetries = 2

// Client performs one-shot remote-procedure exchanges with agents
// registered in the capability directory.
type Client struct {
	httpClient *http.Client
	directory  *directory.Directory
	maxRetries int
	headers    map[string]string

	mu        sync.Mutex
	abandoned map[string]struct{}
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithMaxRetries sets how many times a timed-out attempt is re-sent.
func WithMaxRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
	}
}

// WithHeaders sets default headers for each request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		if len(headers) == 0 {
			return
		}
		c.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// NewClient creates a delegation client resolving agents through dir.
func NewClient(dir *directory.Directory, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		directory:  dir,
		maxRetries: DefaultMaxRetries,
		abandoned:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Delegate dispatches the envelope and blocks until a terminal
// outcome: the remote agent's result, a timeout after bounded
// retries, or a transport failure. Timed-out attempts are re-sent
// with the same correlation id, so delivery is at-least-once and
// idempotency is left to the remote agent.
func (c *Client) Delegate(ctx context.Context, env *Envelope) (*Result, error) {
	entry, err := c.directory.Resolve(env.AgentID)
	if err != nil {
		env.transition(StateFailed, StateCreated)
		return nil, err
	}

	payload, err := json.Marshal(env.Task)
	if err != nil {
		env.transition(StateFailed, StateCreated)
		return nil, errors.New(errors.CodeDelegationFailed, "marshal task", err).
			WithContext("agent", env.AgentID)
	}

	// Every send for this envelope shares one context and one response
	// channel: a reply that arrives after its own attempt timed out can
	// still satisfy a later retry of the same correlation id, and all
	// outstanding round trips are cut loose once the exchange concludes.
	sendCtx, stopSends := context.WithCancel(ctx)
	defer stopSends()

	attempts := c.maxRetries + 1
	responses := make(chan rpcOutcome, attempts)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.attempt(ctx, sendCtx, env, entry.Endpoint, payload, responses, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Only timeouts are retryable at this layer, and only while
		// the envelope can be re-armed (not cancelled or abandoned).
		if attempt < attempts-1 &&
			errors.HasCode(err, errors.CodeDelegationTimeout) &&
			env.transition(StateSent, StateTimedOut) {
			continue
		}
		break
	}

	c.Abandon(env)
	return nil, lastErr
}

type rpcOutcome struct {
	attempt int
	result  *Result
	err     error
}

func (c *Client) attempt(ctx, sendCtx context.Context, env *Envelope, endpoint string, payload []byte, responses chan rpcOutcome, attempt int) (*Result, error) {
	deadline := env.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if !env.transition(StateSent, StateCreated, StateSent) {
		return nil, errors.New(errors.CodeDelegationFailed,
			fmt.Sprintf("envelope in state %s cannot be sent", env.CurrentState()), nil).
			WithContext("correlation_id", env.CorrelationID)
	}

	go func() {
		result, err := c.roundTrip(sendCtx, env, endpoint, payload)
		responses <- rpcOutcome{attempt: attempt, result: result, err: err}
	}()

	env.transition(StateAwaitingResponse, StateSent)

	for {
		select {
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				// Encompassing request cancelled: abandon locally.
				env.transition(StateFailed, StateAwaitingResponse, StateSent)
				return nil, errors.New(errors.CodeDelegationFailed, "delegation cancelled", ctx.Err()).
					WithContext("agent", env.AgentID).
					WithContext("correlation_id", env.CorrelationID)
			}
			env.transition(StateTimedOut, StateAwaitingResponse, StateSent)
			return nil, errors.New(errors.CodeDelegationTimeout,
				fmt.Sprintf("no response within %s", deadline), nil).
				WithContext("agent", env.AgentID).
				WithContext("correlation_id", env.CorrelationID).
				WithContext("attempt", attempt+1)
		case out := <-responses:
			if out.err != nil {
				if out.attempt != attempt {
					// A stale attempt's transport failure; that attempt
					// already reported its own timeout.
					continue
				}
				env.transition(StateFailed, StateAwaitingResponse, StateSent)
				return nil, out.err
			}
			// A correlated response completes the exchange no matter
			// which attempt carried it, but only while the envelope is
			// still live; otherwise it is discarded.
			if !env.transition(StateCompleted, StateAwaitingResponse) {
				continue
			}
			return out.result, nil
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, env *Envelope, endpoint string, payload []byte) (*Result, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      env.CorrelationID,
		Method:  MethodExecute,
		Params:  json.RawMessage(payload),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.New(errors.CodeDelegationFailed, "marshal request", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeDelegationFailed, "build request", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		request.Header.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, errors.New(errors.CodeDelegationFailed, "transport error", err).
			WithContext("agent", env.AgentID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(errors.CodeDelegationFailed,
			fmt.Sprintf("unexpected http status %s", resp.Status), nil).
			WithContext("agent", env.AgentID)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(errors.CodeDelegationFailed, "malformed response body", err).
			WithContext("agent", env.AgentID)
	}
	if decoded.ID != env.CorrelationID {
		// A reply that does not correlate is discarded, never applied.
		return nil, errors.New(errors.CodeDelegationFailed, "correlation id mismatch", nil).
			WithContext("agent", env.AgentID).
			WithContext("expected", env.CorrelationID).
			WithContext("got", decoded.ID)
	}
	if decoded.Error != nil {
		return nil, errors.New(errors.CodeDelegationFailed, decoded.Error.Message, nil).
			WithContext("agent", env.AgentID).
			WithContext("rpc_code", decoded.Error.Code)
	}

	var result Result
	if err := json.Unmarshal(decoded.Result, &result); err != nil {
		return nil, errors.New(errors.CodeDelegationFailed, "malformed result payload", err).
			WithContext("agent", env.AgentID)
	}
	return &result, nil
}

// Abandon marks the envelope locally failed (unless already terminal)
// and records its correlation id so a later-arriving response is
// recognizably stale.
func (c *Client) Abandon(env *Envelope) {
	env.transition(StateFailed, StateCreated, StateSent, StateAwaitingResponse)
	c.mu.Lock()
	c.abandoned[env.CorrelationID] = struct{}{}
	c.mu.Unlock()
}

// IsAbandoned reports whether the correlation id belongs to an
// abandoned envelope.
func (c *Client) IsAbandoned(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.abandoned[correlationID]
	return ok
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
