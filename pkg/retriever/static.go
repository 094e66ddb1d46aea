// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package retriever

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
)

func init() {
	Register(KindWeb, func(map[string]string) (Retriever, error) {
		return NewStatic(KindWeb, nil), nil
	})
	Register(KindVector, func(map[string]string) (Retriever, error) {
		return NewStatic(KindVector, nil), nil
	})
	Register(KindDatabase, func(map[string]string) (Retriever, error) {
		return NewStatic(KindDatabase, nil), nil
	})
}

// Static is an in-memory retriever serving a fixed corpus. It backs the
// default tool wiring and the test suites; production deployments replace
// it by registering real factories for the same kinds.
type Static struct {
	kind      string
	corpus    []Result
	connected atomic.Bool
}

var _ Retriever = (*Static)(nil)

// NewStatic creates a static retriever over the given corpus. A nil
// corpus yields an empty but healthy back-end.
func NewStatic(kind string, corpus []Result) *Static {
	return &Static{kind: kind, corpus: corpus}
}

// Connect marks the retriever ready.
func (s *Static) Connect(context.Context) error {
	s.connected.Store(true)
	return nil
}

// Disconnect releases the retriever.
func (s *Static) Disconnect(context.Context) error {
	s.connected.Store(false)
	return nil
}

// Health always succeeds for the static back-end.
func (*Static) Health(context.Context) error {
	return nil
}

// Retrieve scores corpus entries by naive term overlap with the query.
func (s *Static) Retrieve(_ context.Context, query string, opts Options) (*Sequence, error) {
	terms := strings.Fields(strings.ToLower(query))

	var matched []Result
	for _, r := range s.corpus {
		if opts.Collection != "" && r.Metadata["collection"] != opts.Collection {
			continue
		}
		if opts.Table != "" && r.Metadata["table"] != opts.Table {
			continue
		}
		score := overlap(terms, strings.ToLower(r.Title+" "+r.Content))
		if score == 0 && len(terms) > 0 {
			continue
		}
		r.Source = s.kind
		r.Score = score
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return FromSlice(matched), nil
}

func overlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
