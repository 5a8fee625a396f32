// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory implements the agent capability directory: a
// read-mostly map from agent identifiers to declared skills and
// delegation endpoints, with lexical skill discovery used to build
// reasoning prompts.
package directory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gatherlabs/gather/pkg/errors"
)

// Skill declares a capability an agent advertises for discovery.
// Skill IDs are unique within an agent, not globally.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Validate checks skill descriptor well-formedness.
func (s Skill) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New(errors.CodeSchema, "skill id is required", nil)
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New(errors.CodeSchema, "skill name is required", nil).
			WithContext("skill", s.ID)
	}
	if strings.TrimSpace(s.Description) == "" {
		return errors.New(errors.CodeSchema, "skill description is required", nil).
			WithContext("skill", s.ID)
	}
	return nil
}

// Entry is a registered agent: its identity, delegation endpoint,
// and advertised skills.
type Entry struct {
	AgentID     string  `json:"agent_id"`
	Description string  `json:"description,omitempty"`
	Endpoint    string  `json:"endpoint"`
	Skills      []Skill `json:"skills"`
}

// Match pairs an agent and skill with a relevance score for a query.
type Match struct {
	AgentID string
	Skill   Skill
	Score   float64
}

// Directory holds registered agents. Entries are set at startup and
// treated as effectively static; re-registration takes the write
// lock, lookups never do.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]Entry
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{agents: make(map[string]Entry)}
}

// Register adds or replaces an agent entry. Skills are validated and
// skill ids must be unique within the entry.
func (d *Directory) Register(entry Entry) error {
	if strings.TrimSpace(entry.AgentID) == "" {
		return errors.New(errors.CodeSchema, "agent id is required", nil)
	}
	if strings.TrimSpace(entry.Endpoint) == "" {
		return errors.New(errors.CodeSchema, "agent endpoint is required", nil).
			WithContext("agent", entry.AgentID)
	}
	seen := make(map[string]bool, len(entry.Skills))
	for _, skill := range entry.Skills {
		if err := skill.Validate(); err != nil {
			return err
		}
		if seen[skill.ID] {
			return errors.New(errors.CodeSchema, fmt.Sprintf("duplicate skill id %q", skill.ID), nil).
				WithContext("agent", entry.AgentID)
		}
		seen[skill.ID] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[entry.AgentID] = entry
	return nil
}

// Resolve returns the entry for agentID.
func (d *Directory) Resolve(agentID string) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.agents[agentID]
	if !ok {
		return Entry{}, errors.New(errors.CodeUnknownAgent,
			fmt.Sprintf("agent %q is not registered", agentID), nil)
	}
	return entry, nil
}

// List returns all entries sorted by agent id.
func (d *Directory) List() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.agents))
	for _, entry := range d.agents {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// FindSkill scores every advertised skill against the query and
// returns matches ordered best-first. Zero-score skills are omitted.
func (d *Directory) FindSkill(query string) []Match {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []Match
	for agentID, entry := range d.agents {
		for _, skill := range entry.Skills {
			score := scoreSkill(skill, terms)
			if score > 0 {
				matches = append(matches, Match{AgentID: agentID, Skill: skill, Score: score})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].AgentID != matches[j].AgentID {
			return matches[i].AgentID < matches[j].AgentID
		}
		return matches[i].Skill.ID < matches[j].Skill.ID
	})
	return matches
}

// scoreSkill is a lexical relevance heuristic: term hits in the skill
// name weigh more than hits in description, tags, or examples.
func scoreSkill(skill Skill, terms []string) float64 {
	name := strings.ToLower(skill.Name)
	desc := strings.ToLower(skill.Description)
	tags := make(map[string]bool, len(skill.Tags))
	for _, tag := range skill.Tags {
		tags[strings.ToLower(tag)] = true
	}
	examples := strings.ToLower(strings.Join(skill.Examples, " "))

	var score float64
	for _, term := range terms {
		switch {
		case strings.Contains(name, term):
			score += 3
		case tags[term]:
			score += 2
		case strings.Contains(desc, term):
			score += 1
		case strings.Contains(examples, term):
			score += 0.5
		}
	}
	return score / float64(len(terms))
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()`)
		if len(f) < 3 {
			continue
		}
		out = append(out, f)
	}
	return out
}
