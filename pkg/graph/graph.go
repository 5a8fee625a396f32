// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph exposes the social graph to agents as a read-only
// query surface. Agents ask about entities and relations; storage is
// behind the Querier interface so tests and single-binary deployments
// can run without a graph database.
package graph

import "context"

// Relation is one edge in the social graph.
type Relation struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Kind       string         `json:"kind"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Querier answers relation queries about entities.
type Querier interface {
	// Related returns all relations touching the named entity.
	Related(ctx context.Context, entity string) ([]Relation, error)

	// Between returns relations connecting two named entities.
	Between(ctx context.Context, a, b string) ([]Relation, error)
}
