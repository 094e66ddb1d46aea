// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/storage"
)

// Deny reasons.
const (
	ReasonUnknownTool       = "unknown_tool"
	ReasonUnauthenticated   = "unauthenticated"
	ReasonRoleInsufficient  = "role_insufficient"
	ReasonResourceForbidden = "resource_forbidden"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial to the externally visible error, nil for allows.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonUnknownTool {
		return apperr.NewNotFoundError("unknown tool", nil)
	}
	if d.Reason == ReasonUnauthenticated {
		return apperr.NewAuthenticationError(nil)
	}
	return apperr.NewAuthorizationError("access denied", nil).WithData("reason", d.Reason)
}

// Engine evaluates tool-call authorization against static bindings and
// stored grants. Grants are strictly additive; there are no denies.
type Engine struct {
	bindings *BindingRegistry
	grants   storage.GrantStore
	cache    *decisionCache

	// inheritActions, when enabled, lets a write grant satisfy a read
	// check. Off by default.
	inheritActions bool

	now func() time.Time
}

// NewEngine creates an authorization engine. A cacheTTL of zero disables
// decision caching.
func NewEngine(bindings *BindingRegistry, grants storage.GrantStore, cacheTTL time.Duration) *Engine {
	return &Engine{
		bindings: bindings,
		grants:   grants,
		cache:    newDecisionCache(cacheTTL),
		now:      time.Now,
	}
}

// SetClock replaces the engine clock (and the cache's). Test use only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.cache.now = now
}

// SetActionInheritance toggles write-implies-read grant evaluation.
func (e *Engine) SetActionInheritance(enabled bool) {
	e.inheritActions = enabled
}

// Bindings exposes the registry for tool listing.
func (e *Engine) Bindings() *BindingRegistry {
	return e.bindings
}

// Authorize decides whether the principal may invoke the tool with the
// given arguments. A nil principal is anonymous.
func (e *Engine) Authorize(ctx context.Context, principal *auth.Identity, tool string, args map[string]any) (Decision, error) {
	binding, ok := e.bindings.Lookup(tool)
	if !ok {
		return Deny(ReasonUnknownTool), nil
	}
	if binding.Public {
		return Allow, nil
	}
	if principal == nil || principal.Subject == "" {
		return Deny(ReasonUnauthenticated), nil
	}

	overlap := false
	for _, role := range binding.MinimumRoles {
		if principal.HasRole(role) {
			overlap = true
			break
		}
	}
	if !overlap {
		return Deny(ReasonRoleInsufficient), nil
	}

	// Admins hold an implicit grant of "*" with all actions.
	if principal.IsAdmin() {
		return Allow, nil
	}

	resource := binding.ResourceName(args)
	key := decisionKey{principal: principal.Subject, tool: tool, resource: resource}
	if d, ok := e.cache.get(key); ok {
		return d, nil
	}

	subjects := make([]storage.SubjectRef, 0, len(principal.Roles)+1)
	subjects = append(subjects, storage.SubjectRef{Type: storage.SubjectUser, Subject: principal.Subject})
	for _, role := range principal.Roles {
		subjects = append(subjects, storage.SubjectRef{Type: storage.SubjectRole, Subject: role})
	}

	grants, err := e.grants.ListForSubjects(ctx, binding.ResourceType, subjects)
	if err != nil {
		return Decision{}, apperr.NewServiceUnavailableError("grant store unavailable", err)
	}

	decision := Deny(ReasonResourceForbidden)
	now := e.now()
	for _, g := range grants {
		if g.Expired(now) || !e.allowsAction(g, binding.Action) {
			continue
		}
		if !MatchPattern(g.ResourcePattern, resource) {
			continue
		}
		if !conditionsHold(g.Conditions, args) {
			continue
		}
		decision = Allow
		break
	}

	e.cache.put(key, decision)
	if !decision.Allowed {
		logger.Debugw("authorization denied",
			"principal", principal.Subject, "tool", tool, "resource", resource, "reason", decision.Reason)
	}
	return decision, nil
}

// allowsAction checks the grant's action list, honoring write-implies-
// read inheritance when enabled.
func (e *Engine) allowsAction(g storage.Grant, action string) bool {
	if g.AllowsAction(action) {
		return true
	}
	return e.inheritActions && action == ActionRead && g.AllowsAction(ActionWrite)
}

// conditionsHold evaluates a grant's equality predicates over the call
// arguments. All predicates must hold.
func conditionsHold(conditions map[string]string, args map[string]any) bool {
	for key, want := range conditions {
		got, ok := args[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// GrantPermission validates and stores a grant, then invalidates the
// affected cached decisions.
func (e *Engine) GrantPermission(ctx context.Context, grant storage.Grant) error {
	if grant.SubjectType != storage.SubjectUser && grant.SubjectType != storage.SubjectRole {
		return apperr.NewValidationError("subject type must be user or role", nil)
	}
	if grant.Subject == "" {
		return apperr.NewValidationError("subject must not be empty", nil)
	}
	switch grant.ResourceType {
	case ResourceWebSearch, ResourceVectorDB, ResourceDatabase:
	default:
		return apperr.NewValidationError("unknown resource type: "+grant.ResourceType, nil)
	}
	if len(grant.Actions) == 0 {
		return apperr.NewValidationError("grant must permit at least one action", nil)
	}
	for _, action := range grant.Actions {
		switch action {
		case ActionRead, ActionWrite, ActionDelete:
		default:
			return apperr.NewValidationError("unknown action: "+action, nil)
		}
	}
	if err := ValidatePattern(grant.ResourcePattern); err != nil {
		return err
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = e.now().UTC()
	}

	if err := e.grants.Upsert(ctx, grant); err != nil {
		return apperr.NewServiceUnavailableError("grant store unavailable", err)
	}
	e.invalidate(grant.SubjectType, grant.Subject)
	logger.Infow("permission granted",
		"subject_type", grant.SubjectType, "subject", grant.Subject,
		"resource_type", grant.ResourceType, "pattern", grant.ResourcePattern)
	return nil
}

// RevokePermission removes a grant, invalidating cached decisions.
// Revoking an absent grant is a no-op.
func (e *Engine) RevokePermission(ctx context.Context, subjectType, subject, resourceType, resourcePattern string) (bool, error) {
	deleted, err := e.grants.Delete(ctx, subjectType, subject, resourceType, resourcePattern)
	if err != nil {
		return false, apperr.NewServiceUnavailableError("grant store unavailable", err)
	}
	if deleted {
		e.invalidate(subjectType, subject)
	}
	return deleted, nil
}

// ListPermissions returns grants, optionally filtered to one subject.
func (e *Engine) ListPermissions(ctx context.Context, subjectType, subject string) ([]storage.Grant, error) {
	var (
		grants []storage.Grant
		err    error
	)
	if subject == "" {
		grants, err = e.grants.ListAll(ctx)
	} else {
		grants, err = e.grants.ListBySubject(ctx, subjectType, subject)
	}
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("grant store unavailable", err)
	}
	return grants, nil
}

// InvalidatePrincipal drops cached decisions for one principal. Called on
// role changes.
func (e *Engine) InvalidatePrincipal(userID string) {
	e.cache.invalidatePrincipal(userID)
}

func (e *Engine) invalidate(subjectType, subject string) {
	if subjectType == storage.SubjectUser {
		e.cache.invalidatePrincipal(subject)
		return
	}
	// A role-scoped change can affect any principal holding the role.
	e.cache.invalidateAll()
}
