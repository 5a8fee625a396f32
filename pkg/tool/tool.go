// Copyright 2026 © The Gather Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool implements the registry of directly invocable tools.
// A tool is any callable reachable by name with a JSON-like argument
// mapping; the registry validates arguments against the declared
// parameter schema before dispatch.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/gatherlabs/gather/pkg/llm"
)

// Param describes a single tool parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, integer, boolean, object, array
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Descriptor declares a tool's callable surface.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
	Returns     string  `json:"returns,omitempty"`
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

// Validate checks descriptor well-formedness. Registration fails fast
// on a malformed descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New(errors.CodeSchema, "tool name is required", nil)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New(errors.CodeSchema, "parameter name is required", nil).
				WithContext("tool", d.Name)
		}
		if !validParamTypes[p.Type] {
			return errors.New(errors.CodeSchema, fmt.Sprintf("invalid parameter type %q", p.Type), nil).
				WithContext("tool", d.Name).
				WithContext("param", p.Name)
		}
		if seen[p.Name] {
			return errors.New(errors.CodeSchema, fmt.Sprintf("duplicate parameter %q", p.Name), nil).
				WithContext("tool", d.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Definition returns the reasoning-service function definition for
// this tool, with parameters rendered as a JSON Schema object.
func (d Descriptor) Definition() llm.Tool {
	properties := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		},
	}
}

// Func is the executable behind a registered tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	descriptor Descriptor
	fn         Func
}

// Registry maps tool names to invocable functions. Lookups and
// invocations are safe under concurrent use; only registration takes
// the write lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. The descriptor is validated and the name must
// be unique within this registry.
func (r *Registry) Register(d Descriptor, fn Func) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return errors.New(errors.CodeSchema, "tool executable is required", nil).
			WithContext("tool", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return errors.New(errors.CodeSchema, fmt.Sprintf("tool %q already registered", d.Name), nil)
	}
	r.tools[d.Name] = entry{descriptor: d, fn: fn}
	return nil
}

// Invoke executes the named tool after validating args against its
// parameter schema. Execution is synchronous relative to the caller.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeUnknownTool, fmt.Sprintf("tool %q is not registered", name), nil)
	}
	if err := checkArgs(e.descriptor, args); err != nil {
		return nil, err
	}
	result, err := e.fn(ctx, args)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %q failed", name), err)
	}
	return result, nil
}

// Descriptors returns registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions returns reasoning-service tool definitions for every
// registered tool, sorted by name.
func (r *Registry) Definitions() []llm.Tool {
	descriptors := r.Descriptors()
	out := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Definition())
	}
	return out
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func checkArgs(d Descriptor, args map[string]any) error {
	for _, p := range d.Params {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				return errors.New(errors.CodeArgumentMismatch,
					fmt.Sprintf("missing required argument %q", p.Name), nil).
					WithContext("tool", d.Name)
			}
			continue
		}
		if !typeMatches(p.Type, value) {
			return errors.New(errors.CodeArgumentMismatch,
				fmt.Sprintf("argument %q is not a %s", p.Name, p.Type), nil).
				WithContext("tool", d.Name).
				WithContext("got", fmt.Sprintf("%T", value))
		}
	}
	return nil
}

// typeMatches checks a decoded JSON value against a schema type.
// JSON numbers decode as float64, so integer accepts whole floats.
func typeMatches(typ string, value any) bool {
	if value == nil {
		return true
	}
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}
