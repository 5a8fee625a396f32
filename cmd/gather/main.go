// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Command gather runs the multi-agent orchestration service: the
// orchestrator HTTP endpoint plus the built-in specialized agents,
// or a one-shot question from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/gatherlabs/gather/pkg/config"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(fmt.Errorf("load configuration: %w", err))
	}

	switch args[0] {
	case "serve":
		if err := runServe(ctx, cfg); err != nil {
			fatal(err)
		}
	case "ask":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: gather ask <question>"))
		}
		if err := runAsk(ctx, cfg, strings.Join(args[1:], " ")); err != nil {
			fatal(err)
		}
	case "agents":
		if err := runAgents(ctx, cfg); err != nil {
			fatal(err)
		}
	case "version":
		fmt.Println("gather", version)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func runAgents(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tENDPOINT\tSKILLS")
	for _, entry := range a.directory.List() {
		skills := make([]string, 0, len(entry.Skills))
		for _, skill := range entry.Skills {
			skills = append(skills, skill.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.AgentID, entry.Endpoint, strings.Join(skills, ", "))
	}
	return w.Flush()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `gather - multi-agent orchestration service

Usage:
  gather [-config FILE] serve           run the orchestrator and built-in agents
  gather [-config FILE] ask <question>  answer one question and exit
  gather [-config FILE] agents          list registered agents
  gather version
  gather help

Configuration is read from the YAML file, then GATHER_* environment
variables (GATHER_LLM_PROVIDER=openai overrides llm.provider).`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "gather:", err)
	os.Exit(1)
}
