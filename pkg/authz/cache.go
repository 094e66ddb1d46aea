// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"sync"
	"time"
)

// decisionCache memoizes decisions per (principal, tool, resource) for a
// short window so hot tools don't hit the grant store on every call.
type decisionCache struct {
	mu      sync.Mutex
	entries map[decisionKey]decisionEntry
	ttl     time.Duration

	now func() time.Time
}

type decisionKey struct {
	principal string
	tool      string
	resource  string
}

type decisionEntry struct {
	decision  Decision
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		entries: make(map[decisionKey]decisionEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *decisionCache) get(key decisionKey) (Decision, bool) {
	if c.ttl <= 0 {
		return Decision{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return Decision{}, false
	}
	return e.decision, true
}

func (c *decisionCache) put(key decisionKey, d Decision) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = decisionEntry{decision: d, expiresAt: c.now().Add(c.ttl)}
}

// invalidatePrincipal drops all cached decisions for one principal.
func (c *decisionCache) invalidatePrincipal(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.principal == principal {
			delete(c.entries, key)
		}
	}
}

// invalidateAll drops every cached decision. Used when a role-scoped
// grant changes, since any principal may hold the role.
func (c *decisionCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[decisionKey]decisionEntry)
}
