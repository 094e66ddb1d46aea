// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools holds the typed tool registry and the built-in retrieval
// tools it dispatches. Every dispatchable tool is declared here with its
// argument schema, visibility, and cache eligibility.
package tools

import (
	"context"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/retriever"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]any) (*CallResult, error)

// CallResult is a tool's outcome: a complete value or a finite stream.
// Exactly one of the two fields is set.
type CallResult struct {
	Value  any
	Stream *retriever.Sequence
}

// Complete wraps a fully materialized result.
func Complete(v any) *CallResult {
	return &CallResult{Value: v}
}

// Streaming wraps a lazy sequence result.
func Streaming(seq *retriever.Sequence) *CallResult {
	return &CallResult{Stream: seq}
}

// Tool is one registered tool.
type Tool struct {
	Name        string
	Description string
	Schema      *Schema

	// Public tools are callable without a principal.
	Public bool

	// Cacheable marks tools whose successful results may be memoized.
	// Tools with side effects must not set it.
	Cacheable bool

	// PrincipalVarying marks tools whose results depend on the caller;
	// their cache fingerprints include the principal.
	PrincipalVarying bool

	Handler Handler
}

// Registry maps tool names to their implementations. It is built once at
// startup and read-only afterwards.
type Registry struct {
	byName map[string]*Tool
	order  []string
}

// NewRegistry builds a registry. Duplicate names are rejected.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.byName[t.Name]; dup {
			return nil, apperr.NewInternalError("duplicate tool registration: "+t.Name, nil)
		}
		r.byName[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Descriptor is the wire form of a tool listing entry.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// Describe returns the tool's listing entry.
func (t *Tool) Describe() Descriptor {
	return Descriptor{Name: t.Name, Description: t.Description, Schema: t.Schema}
}
