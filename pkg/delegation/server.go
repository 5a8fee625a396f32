// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/errors"
)

// JSON-RPC error codes used on the wire.
const (
	rpcCodeParse          = -32700
	rpcCodeInvalidRequest = -32600
	rpcCodeMethodNotFound = -32601
	rpcCodeInvalidParams  = -32602
	rpcCodeServerError    = -32000
	rpcCodeNotFound       = -32004
)

// Handler executes a delegated task. Implementations must be safe for
// concurrent use and should honor ctx cancellation.
type Handler interface {
	Execute(ctx context.Context, task Task) (*Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, task Task) (*Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task Task) (*Result, error) {
	return f(ctx, task)
}

// Server exposes a Handler behind the JSON-RPC delegation protocol.
type Server struct {
	handler Handler
	card    directory.Card
	logger  *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a delegation server for the given handler. The
// card describes the agent for capability discovery.
func NewServer(handler Handler, card directory.Card, opts ...ServerOption) *Server {
	s := &Server{
		handler: handler,
		card:    card,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Mux returns an http.ServeMux with the RPC endpoint at "/" and the
// agent card at the well-known discovery path.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	mux.Handle(directory.WellKnownPath, directory.PublishHandler(&s.card))
	return mux
}

// ServeHTTP handles one JSON-RPC exchange.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, "", rpcCodeParse, "cannot read request body")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, "", rpcCodeParse, "malformed json-rpc request")
		return
	}
	if req.JSONRPC != "2.0" || req.ID == "" {
		writeRPCError(w, req.ID, rpcCodeInvalidRequest, "jsonrpc 2.0 with a string id is required")
		return
	}
	if req.Method != MethodExecute {
		writeRPCError(w, req.ID, rpcCodeMethodNotFound, "unknown method "+req.Method)
		return
	}

	var task Task
	if err := json.Unmarshal(req.Params, &task); err != nil {
		writeRPCError(w, req.ID, rpcCodeInvalidParams, "params is not a task")
		return
	}
	if task.Goal == "" {
		writeRPCError(w, req.ID, rpcCodeInvalidParams, "task goal is required")
		return
	}

	s.logger.DebugContext(ctx, "executing delegated task",
		"agent", s.card.AgentID,
		"task_id", task.ID,
		"correlation_id", req.ID)

	result, err := s.handler.Execute(ctx, task)
	if err != nil {
		s.logger.WarnContext(ctx, "delegated task failed",
			"agent", s.card.AgentID,
			"task_id", task.ID,
			"error", err)
		writeRPCError(w, req.ID, rpcCode(err), err.Error())
		return
	}
	if result == nil {
		result = &Result{TaskID: task.ID}
	}
	if result.TaskID == "" {
		result.TaskID = task.ID
	}

	payload, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, req.ID, rpcCodeServerError, "cannot encode result")
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  payload,
	})
}

// rpcCode maps an execution error onto a JSON-RPC error code, going
// through the gRPC status taxonomy when one is attached.
func rpcCode(err error) int {
	if ge := errors.AsGatherError(err); ge != nil {
		switch ge.Code {
		case errors.CodeArgumentMismatch, errors.CodeSchema:
			return rpcCodeInvalidParams
		case errors.CodeUnknownTool, errors.CodeUnknownAgent:
			return rpcCodeNotFound
		}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument:
			return rpcCodeInvalidParams
		case codes.NotFound:
			return rpcCodeNotFound
		case codes.Unimplemented:
			return rpcCodeMethodNotFound
		}
	}
	return rpcCodeServerError
}

func writeRPCError(w http.ResponseWriter, id string, code int, message string) {
	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
