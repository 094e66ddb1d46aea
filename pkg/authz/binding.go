// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz evaluates role- and resource-level access decisions for
// tool calls: static tool bindings, wildcard resource grants, and a short
// decision cache.
package authz

import (
	"fmt"

	"github.com/raniksyn/mediator/pkg/auth"
)

// Resource types a grant can cover.
const (
	ResourceWebSearch = "web_search"
	ResourceVectorDB  = "vector_db"
	ResourceDatabase  = "database"
)

// Actions a grant can permit.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// Binding is the static mapping from a tool name to the permission it
// requires. Public bindings short-circuit authorization entirely.
type Binding struct {
	Tool         string
	Public       bool
	ResourceType string
	Action       string
	MinimumRoles []string

	// ResourceArg names the call argument that carries the concrete
	// resource name (e.g. a collection or table). Empty means the tool
	// has no argument-derived resource and "*" is used.
	ResourceArg string
}

// BindingRegistry holds one binding per dispatchable tool.
type BindingRegistry struct {
	byTool map[string]Binding
}

// NewBindingRegistry builds a registry from the given bindings. Duplicate
// tool names are a programming error.
func NewBindingRegistry(bindings ...Binding) (*BindingRegistry, error) {
	byTool := make(map[string]Binding, len(bindings))
	for _, b := range bindings {
		if _, dup := byTool[b.Tool]; dup {
			return nil, fmt.Errorf("duplicate binding for tool %q", b.Tool)
		}
		byTool[b.Tool] = b
	}
	return &BindingRegistry{byTool: byTool}, nil
}

// DefaultBindings returns the bindings for the built-in retrieval tools.
func DefaultBindings() []Binding {
	std := []string{auth.RoleUser, auth.AdminRole}
	return []Binding{
		{Tool: "health_check", Public: true},
		{Tool: "search_web", ResourceType: ResourceWebSearch, Action: ActionRead, MinimumRoles: std},
		{Tool: "search_vectors", ResourceType: ResourceVectorDB, Action: ActionRead, MinimumRoles: std, ResourceArg: "collection"},
		{Tool: "search_database", ResourceType: ResourceDatabase, Action: ActionRead, MinimumRoles: std, ResourceArg: "table"},
		{Tool: "search_all", ResourceType: ResourceWebSearch, Action: ActionRead, MinimumRoles: std},
	}
}

// Lookup returns the binding for a tool name.
func (r *BindingRegistry) Lookup(tool string) (Binding, bool) {
	b, ok := r.byTool[tool]
	return b, ok
}

// Tools returns all bound tool names.
func (r *BindingRegistry) Tools() []string {
	out := make([]string, 0, len(r.byTool))
	for tool := range r.byTool {
		out = append(out, tool)
	}
	return out
}

// ResourceName derives the concrete resource name for a call from its
// arguments, falling back to "*" when the binding names no argument.
func (b Binding) ResourceName(args map[string]any) string {
	if b.ResourceArg == "" {
		return "*"
	}
	if v, ok := args[b.ResourceArg]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "*"
}
