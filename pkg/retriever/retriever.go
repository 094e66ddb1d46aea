// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package retriever defines the capability interface for retrieval
// back-ends (web search, vector store, relational database) and the
// factory that constructs them by kind.
package retriever

import (
	"context"
	"fmt"
	"sync"
)

// Retriever kinds.
const (
	KindWeb      = "web"
	KindVector   = "vector"
	KindDatabase = "database"
)

// Result is one retrieved item.
type Result struct {
	Source   string         `json:"source"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options tunes one retrieval.
type Options struct {
	// Limit caps the number of results; zero means backend default.
	Limit int

	// Collection selects a vector collection; Table a relational table.
	Collection string
	Table      string

	// Filters are backend-specific predicates.
	Filters map[string]any
}

// Retriever is one retrieval back-end.
type Retriever interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Retrieve runs the query and returns a finite result sequence.
	Retrieve(ctx context.Context, query string, opts Options) (*Sequence, error)

	// Health reports whether the back-end is reachable.
	Health(ctx context.Context) error
}

// Sequence is a finite, non-restartable lazy result stream.
type Sequence struct {
	next func(ctx context.Context) (*Result, bool, error)
	done bool
}

// NewSequence wraps a pull function. The function reports done=false on
// the item after the last one and is not called again.
func NewSequence(next func(ctx context.Context) (*Result, bool, error)) *Sequence {
	return &Sequence{next: next}
}

// FromSlice builds a sequence over materialized results.
func FromSlice(results []Result) *Sequence {
	i := 0
	return NewSequence(func(context.Context) (*Result, bool, error) {
		if i >= len(results) {
			return nil, false, nil
		}
		r := results[i]
		i++
		return &r, true, nil
	})
}

// Next pulls one result; ok=false marks the end of the sequence.
func (s *Sequence) Next(ctx context.Context) (*Result, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		s.done = true
		return nil, false, err
	}
	r, ok, err := s.next(ctx)
	if !ok || err != nil {
		s.done = true
	}
	return r, ok, err
}

// Collect materializes up to limit results (all when limit <= 0).
func (s *Sequence) Collect(ctx context.Context, limit int) ([]Result, error) {
	var out []Result
	for limit <= 0 || len(out) < limit {
		r, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, *r)
	}
	return out, nil
}

// Factory constructs a retriever from its configuration.
type Factory func(cfg map[string]string) (Retriever, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register installs a factory for a retriever kind. Later registrations
// for the same kind replace earlier ones.
func Register(kind string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = factory
}

// New constructs a retriever of the given kind.
func New(kind string, cfg map[string]string) (Retriever, error) {
	factoriesMu.RLock()
	factory, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown retriever kind %q", kind)
	}
	return factory(cfg)
}
