package graph

import (
	"context"
	"sync"
)

// MemoryGraph implements Querier over an in-memory edge list. Used in
// tests and single-binary deployments without a graph database.
type MemoryGraph struct {
	mu        sync.RWMutex
	relations []Relation
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{}
}

// Add records a relation. Edges are undirected for query purposes.
func (g *MemoryGraph) Add(relation Relation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relations = append(g.relations, relation)
}

// Related returns all relations touching the named entity.
func (g *MemoryGraph) Related(_ context.Context, entity string) ([]Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Relation
	for _, r := range g.relations {
		if r.From == entity || r.To == entity {
			out = append(out, r)
		}
	}
	return out, nil
}

// Between returns relations connecting two named entities.
func (g *MemoryGraph) Between(_ context.Context, a, b string) ([]Relation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Relation
	for _, r := range g.relations {
		if (r.From == a && r.To == b) || (r.From == b && r.To == a) {
			out = append(out, r)
		}
	}
	return out, nil
}
