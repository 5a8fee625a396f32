package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherlabs/gather/internal/agents"
	"github.com/gatherlabs/gather/pkg/agent"
	"github.com/gatherlabs/gather/pkg/config"
	"github.com/gatherlabs/gather/pkg/conversation"
	"github.com/gatherlabs/gather/pkg/delegation"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/events"
	"github.com/gatherlabs/gather/pkg/graph"
	"github.com/gatherlabs/gather/pkg/llm"
	"github.com/gatherlabs/gather/pkg/orchestrator"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/resilience"
	"github.com/gatherlabs/gather/pkg/telemetry"
	"github.com/gatherlabs/gather/pkg/tool"
	"github.com/gatherlabs/gather/providers/anthropic"
	"github.com/gatherlabs/gather/providers/openai"
)

// app holds the wired-up runtime: directory, agents, orchestrator,
// and every closable resource.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	directory    *directory.Directory
	agents       []*agent.Agent
	orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, directory: directory.New()}
	a.logger = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.InitWithConfig("gather", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTelemetry)

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.LLM.MaxAttempts > 0 {
		retry = retry.WithMaxAttempts(cfg.LLM.MaxAttempts)
	}
	reasoner := reasoning.NewClient(provider,
		reasoning.WithModel(cfg.LLM.Model),
		reasoning.WithTemperature(cfg.LLM.Temperature),
		reasoning.WithRetry(retry))

	store, err := a.buildStore(cfg.Conversation)
	if err != nil {
		return nil, err
	}
	querier, err := a.buildGraph(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}
	eventSvc := buildEvents(cfg.Events)

	if err := a.buildAgents(reasoner, querier, eventSvc); err != nil {
		return nil, err
	}
	for _, baseURL := range cfg.Agents.Remote {
		if err := a.directory.RegisterCard(ctx, baseURL); err != nil {
			return nil, fmt.Errorf("register remote agent %s: %w", baseURL, err)
		}
	}
	if cfg.Agents.Manifest != "" {
		if err := a.directory.RegisterManifest(cfg.Agents.Manifest); err != nil {
			return nil, err
		}
	}

	registry, err := a.buildRegistry(ctx)
	if err != nil {
		return nil, err
	}

	delegator := delegation.NewClient(a.directory,
		delegation.WithMaxRetries(cfg.Orchestrator.DelegationRetries))

	metrics, err := telemetry.NewOrchestrationMetrics()
	if err != nil {
		return nil, err
	}

	a.orchestrator = orchestrator.New(reasoner, registry, a.directory, delegator,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithStore(store),
		orchestrator.WithSystemPrompt(systemPrompt(cfg)),
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithDelegationDeadline(cfg.Orchestrator.DelegationDeadline),
		orchestrator.WithMaxDelegationDepth(cfg.Orchestrator.MaxDelegationDepth),
		orchestrator.WithLogger(a.logger))
	return a, nil
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "ollama", "":
		return llm.NewOllama(cfg.BaseURL), nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		return anthropic.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (a *app) buildStore(cfg config.ConversationConfig) (conversation.Store, error) {
	switch cfg.Store {
	case "memory", "":
		return conversation.NewInMemoryStore(), nil
	case "sqlite":
		store, err := conversation.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown conversation store %q", cfg.Store)
	}
}

func (a *app) buildGraph(ctx context.Context, cfg config.GraphConfig) (graph.Querier, error) {
	switch cfg.Provider {
	case "memory", "":
		return graph.NewMemoryGraph(), nil
	case "neo4j":
		querier, err := graph.NewNeo4jQuerier(ctx, cfg.URI, cfg.Username, cfg.Password, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, querier.Close)
		return querier, nil
	default:
		return nil, fmt.Errorf("unknown graph provider %q", cfg.Provider)
	}
}

func buildEvents(cfg config.EventsConfig) events.Service {
	if cfg.Provider == "rest" && cfg.BaseURL != "" {
		var opts []events.ClientOption
		if cfg.APIKey != "" {
			opts = append(opts, events.WithAPIKey(cfg.APIKey))
		}
		return events.NewClient(cfg.BaseURL, opts...)
	}
	return events.NewMemoryService()
}

func (a *app) buildAgents(reasoner *reasoning.Client, querier graph.Querier, eventSvc events.Service) error {
	var opts []agent.Option
	if a.cfg.Agents.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(a.cfg.Agents.MaxIterations))
	}
	opts = append(opts, agent.WithLogger(a.logger), agent.WithVersion(version))

	social, err := agents.NewSocialContext(reasoner, querier, opts...)
	if err != nil {
		return err
	}
	planning, err := agents.NewPlanning(reasoner, opts...)
	if err != nil {
		return err
	}
	bridge, err := agents.NewPlatformBridge(reasoner, eventSvc, opts...)
	if err != nil {
		return err
	}

	for _, ag := range []*agent.Agent{social, planning, bridge} {
		listen, ok := a.cfg.Agents.Listen[ag.ID()]
		if !ok {
			continue
		}
		card := ag.Card()
		card.Endpoint = endpointFor(listen)
		if err := a.directory.Register(directory.Entry{
			AgentID:     card.AgentID,
			Description: card.Description,
			Endpoint:    card.Endpoint,
			Skills:      card.Skills,
		}); err != nil {
			return err
		}
		a.agents = append(a.agents, ag)
	}
	return nil
}

// buildRegistry assembles the orchestrator's own tools: agent
// discovery plus any configured MCP tool servers.
func (a *app) buildRegistry(ctx context.Context) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	err := registry.Register(tool.Descriptor{
		Name:        "find_agent",
		Description: "Search registered agents by capability and return the best matches.",
		Params: []tool.Param{
			{Name: "query", Type: "string", Description: "what you need done", Required: true},
		},
		Returns: "ranked agent/skill matches",
	}, func(_ context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		return a.directory.FindSkill(query), nil
	})
	if err != nil {
		return nil, err
	}

	for _, server := range a.cfg.MCP.Servers {
		conn, err := tool.ConnectMCPStdio(ctx, server.Command, server.Args...)
		if err != nil {
			return nil, fmt.Errorf("connect mcp server %q: %w", server.Name, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		if err := tool.RegisterMCPServer(ctx, registry, conn); err != nil {
			return nil, fmt.Errorf("register mcp server %q: %w", server.Name, err)
		}
		a.logger.Info("mcp server connected", "name", server.Name, "command", server.Command)
	}
	return registry, nil
}

// serveAgents starts one delegation server per built-in agent and
// returns once all listeners are up.
func (a *app) serveAgents(ctx context.Context) ([]*http.Server, error) {
	servers := make([]*http.Server, 0, len(a.agents))
	for _, ag := range a.agents {
		listen := a.cfg.Agents.Listen[ag.ID()]
		card := ag.Card()
		card.Endpoint = endpointFor(listen)
		srv := &http.Server{
			Addr:    listen,
			Handler: delegation.NewServer(ag, card, delegation.WithLogger(a.logger)).Mux(),
		}
		servers = append(servers, srv)
		go func(srv *http.Server, id string) {
			a.logger.Info("agent listening", "agent", id, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("agent server failed", "agent", id, "error", err)
			}
		}(srv, ag.ID())
	}
	return servers, nil
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown error", "error", err)
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	agentServers, err := a.serveAgents(ctx)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", a.handleChat)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Orchestrator.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var wg sync.WaitGroup
		for _, agentSrv := range agentServers {
			wg.Add(1)
			go func(s *http.Server) {
				defer wg.Done()
				_ = s.Shutdown(shutdownCtx)
			}(agentSrv)
		}
		wg.Wait()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("orchestrator listening", "addr", cfg.Orchestrator.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type chatResponse struct {
	SessionID  string `json:"session_id"`
	Output     string `json:"output"`
	Iterations int    `json:"iterations"`
	Truncated  bool   `json:"truncated,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := a.orchestrator.Handle(r.Context(), orchestrator.Request{
		SessionID: req.SessionID,
		Input:     req.Input,
	})
	if err != nil {
		a.logger.ErrorContext(r.Context(), "orchestration failed",
			"session_id", req.SessionID, "error", err)
		http.Error(w, "orchestration failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		SessionID:  resp.SessionID,
		Output:     resp.Output,
		Iterations: resp.Iterations,
		Truncated:  resp.Truncated,
		Degraded:   resp.Degraded,
	})
}

func runAsk(ctx context.Context, cfg *config.Config, question string) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	agentServers, err := a.serveAgents(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range agentServers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	resp, err := a.orchestrator.Handle(ctx, orchestrator.Request{
		SessionID: uuid.NewString(),
		Input:     question,
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.Output)
	if resp.Truncated {
		fmt.Fprintln(os.Stderr, "(answer truncated: step limit reached)")
	}
	return nil
}

// endpointFor turns a listen address into a reachable base URL.
func endpointFor(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func systemPrompt(cfg *config.Config) string {
	if cfg.Orchestrator.SystemPrompt != "" {
		return cfg.Orchestrator.SystemPrompt
	}
	return `You coordinate social gatherings. Use your tools to discover
capabilities, delegate sub-tasks to specialized agents, and combine
their results into one clear answer for the user.`
}
