// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration from defaults, an
// optional YAML file, and GATHER_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override configuration
// keys (GATHER_LLM_PROVIDER -> llm.provider).
const EnvPrefix = "GATHER_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	LLM          LLMConfig          `koanf:"llm"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Conversation ConversationConfig `koanf:"conversation"`
	Graph        GraphConfig        `koanf:"graph"`
	Events       EventsConfig       `koanf:"events"`
	Agents       AgentsConfig       `koanf:"agents"`
	MCP          MCPConfig          `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // openai, anthropic, ollama
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxAttempts int     `koanf:"max_attempts"`
}

type OrchestratorConfig struct {
	SystemPrompt       string        `koanf:"system_prompt"`
	MaxIterations      int           `koanf:"max_iterations"`
	DelegationDeadline time.Duration `koanf:"delegation_deadline"`
	DelegationRetries  int           `koanf:"delegation_retries"`
	MaxDelegationDepth int           `koanf:"max_delegation_depth"`
	Listen             string        `koanf:"listen"`
}

type ConversationConfig struct {
	Store      string `koanf:"store"` // memory, sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type GraphConfig struct {
	Provider string `koanf:"provider"` // memory, neo4j
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

type EventsConfig struct {
	Provider string `koanf:"provider"` // memory, rest
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type AgentsConfig struct {
	// Listen maps agent ids to local listen addresses. Agents not
	// listed here are expected to be remote and discovered by card.
	Listen map[string]string `koanf:"listen"`

	// Remote lists base URLs whose agent cards are fetched and
	// registered at startup.
	Remote []string `koanf:"remote"`

	// Manifest points to a YAML file of static agent registrations,
	// for remote agents that do not publish a card.
	Manifest string `koanf:"manifest"`

	MaxIterations int `koanf:"max_iterations"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig launches one MCP tool server over stdio.
type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

// Load reads configuration from path (if non-empty) and the
// environment on top of built-in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen3:8b")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.max_attempts", 3)

	k.Set("orchestrator.max_iterations", 8)
	k.Set("orchestrator.delegation_deadline", "30s")
	k.Set("orchestrator.delegation_retries", 2)
	k.Set("orchestrator.max_delegation_depth", 3)
	k.Set("orchestrator.listen", ":8080")

	k.Set("conversation.store", "memory")
	k.Set("conversation.sqlite_path", "gather.db")

	k.Set("graph.provider", "memory")
	k.Set("graph.uri", "neo4j://localhost:7687")
	k.Set("graph.database", "neo4j")

	k.Set("events.provider", "memory")

	k.Set("agents.max_iterations", 5)
	k.Set("agents.listen.social-context", ":8091")
	k.Set("agents.listen.planning", ":8092")
	k.Set("agents.listen.platform-bridge", ":8093")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Only the first underscore separates the section from the key, so
	// multi-word keys stay reachable (GATHER_ORCHESTRATOR_MAX_ITERATIONS
	// -> orchestrator.max_iterations).
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
