// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/retriever"
)

// branchTimeout bounds each branch of a composite fan-out.
const branchTimeout = 10 * time.Second

// defaultLimit caps results when the caller doesn't specify one.
const defaultLimit = 10

// Backends groups the retrievers the built-in tools dispatch to.
type Backends struct {
	Web      retriever.Retriever
	Vector   retriever.Retriever
	Database retriever.Retriever
}

// NewBackends constructs the default retriever set from the factory.
func NewBackends() (*Backends, error) {
	web, err := retriever.New(retriever.KindWeb, nil)
	if err != nil {
		return nil, err
	}
	vector, err := retriever.New(retriever.KindVector, nil)
	if err != nil {
		return nil, err
	}
	db, err := retriever.New(retriever.KindDatabase, nil)
	if err != nil {
		return nil, err
	}
	return &Backends{Web: web, Vector: vector, Database: db}, nil
}

// Connect brings up all back-ends.
func (b *Backends) Connect(ctx context.Context) error {
	for _, r := range []retriever.Retriever{b.Web, b.Vector, b.Database} {
		if err := r.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect releases all back-ends.
func (b *Backends) Disconnect(ctx context.Context) {
	for _, r := range []retriever.Retriever{b.Web, b.Vector, b.Database} {
		if err := r.Disconnect(ctx); err != nil {
			logger.Warnw("retriever disconnect failed", "error", err)
		}
	}
}

// SearchResponse is the complete form of a single-source search result.
type SearchResponse struct {
	Results []retriever.Result `json:"results"`
	Count   int                `json:"count"`
}

// BranchStatus is one branch of a composite search: results on success,
// a structured error on failure, never both.
type BranchStatus struct {
	Results []retriever.Result `json:"results,omitempty"`
	Error   *BranchError       `json:"error,omitempty"`
}

// BranchError is the per-branch failure report.
type BranchError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CompositeResponse aggregates all branches of search_all.
type CompositeResponse struct {
	Web      BranchStatus `json:"web"`
	Vector   BranchStatus `json:"vector"`
	Database BranchStatus `json:"database"`
}

func searchSchema(extra map[string]Field) *Schema {
	fields := map[string]Field{
		"query":       {Type: TypeString, Description: "Search query.", Required: true},
		"limit":       {Type: TypeInteger, Description: "Result cap."},
		"max_results": {Type: TypeInteger, Description: "Result cap (alias for limit)."},
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Schema{Fields: fields}
}

func retrieve(ctx context.Context, r retriever.Retriever, query string, opts retriever.Options) ([]retriever.Result, error) {
	seq, err := r.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, apperr.NewRetrieverError("retrieval failed", err)
	}
	results, err := seq.Collect(ctx, opts.Limit)
	if err != nil {
		return nil, apperr.NewRetrieverError("retrieval failed", err)
	}
	if results == nil {
		results = []retriever.Result{}
	}
	return results, nil
}

func searchHandler(r retriever.Retriever, optsFrom func(args map[string]any) retriever.Options) Handler {
	return func(ctx context.Context, args map[string]any) (*CallResult, error) {
		opts := optsFrom(args)
		results, err := retrieve(ctx, r, StringArg(args, "query", ""), opts)
		if err != nil {
			return nil, err
		}
		return Complete(SearchResponse{Results: results, Count: len(results)}), nil
	}
}

func baseOpts(args map[string]any) retriever.Options {
	if _, ok := args["limit"]; ok {
		return retriever.Options{Limit: IntArg(args, "limit", defaultLimit)}
	}
	return retriever.Options{Limit: IntArg(args, "max_results", defaultLimit)}
}

// NewDefaultRegistry builds the registry of built-in tools over the given
// back-ends.
func NewDefaultRegistry(b *Backends) (*Registry, error) {
	healthCheck := &Tool{
		Name:        "health_check",
		Description: "Reports liveness of the tool server and its back-ends.",
		Public:      true,
		Schema:      &Schema{Fields: map[string]Field{}},
		Handler: func(ctx context.Context, _ map[string]any) (*CallResult, error) {
			status := map[string]string{}
			for kind, r := range map[string]retriever.Retriever{
				retriever.KindWeb: b.Web, retriever.KindVector: b.Vector, retriever.KindDatabase: b.Database,
			} {
				if err := r.Health(ctx); err != nil {
					status[kind] = "unhealthy"
				} else {
					status[kind] = "ok"
				}
			}
			return Complete(map[string]any{"status": "ok", "backends": status}), nil
		},
	}

	searchWeb := &Tool{
		Name:        "search_web",
		Description: "Searches the web and returns ranked snippets.",
		Schema:      searchSchema(nil),
		Cacheable:   true,
		Handler:     searchHandler(b.Web, baseOpts),
	}

	searchVectors := &Tool{
		Name:        "search_vectors",
		Description: "Searches a vector collection by semantic similarity.",
		Schema: searchSchema(map[string]Field{
			"collection": {Type: TypeString, Description: "Collection to search.", Required: true},
		}),
		Cacheable: true,
		Handler: searchHandler(b.Vector, func(args map[string]any) retriever.Options {
			opts := baseOpts(args)
			opts.Collection = StringArg(args, "collection", "")
			return opts
		}),
	}

	searchDatabase := &Tool{
		Name:        "search_database",
		Description: "Searches relational records, honoring row-level filters.",
		Schema: searchSchema(map[string]Field{
			"table":   {Type: TypeString, Description: "Table to search.", Required: true},
			"filters": {Type: TypeObject, Description: "Column filters."},
		}),
		Cacheable: true,
		// Row-level filtering makes results caller-dependent.
		PrincipalVarying: true,
		Handler: searchHandler(b.Database, func(args map[string]any) retriever.Options {
			opts := baseOpts(args)
			opts.Table = StringArg(args, "table", "")
			if f, ok := args["filters"].(map[string]any); ok {
				opts.Filters = f
			}
			return opts
		}),
	}

	searchAll := &Tool{
		Name:        "search_all",
		Description: "Fans out one query to all retrieval back-ends.",
		Schema:      searchSchema(nil),
		Cacheable:   true,
		Handler:     compositeHandler(b),
	}

	return NewRegistry(healthCheck, searchWeb, searchVectors, searchDatabase, searchAll)
}

type compositeBranch struct {
	name string
	r    retriever.Retriever
	out  *BranchStatus
}

// compositeHandler runs all back-ends in parallel with per-branch
// deadlines. A branch failure becomes a structured per-branch error; the
// composite fails only when every branch fails.
func compositeHandler(b *Backends) Handler {
	return func(ctx context.Context, args map[string]any) (*CallResult, error) {
		query := StringArg(args, "query", "")
		opts := baseOpts(args)

		resp := &CompositeResponse{}
		branches := []compositeBranch{
			{"web", b.Web, &resp.Web},
			{"vector", b.Vector, &resp.Vector},
			{"database", b.Database, &resp.Database},
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, branch := range branches {
			branch := branch
			g.Go(func() error {
				bctx, cancel := context.WithTimeout(gctx, branchTimeout)
				defer cancel()

				results, err := retrieve(bctx, branch.r, query, opts)
				if err != nil {
					logger.Warnw("composite branch failed", "branch", branch.name, "error", err)
					branch.out.Error = &BranchError{
						Kind:    string(apperr.As(err).Kind),
						Message: apperr.As(err).Message,
					}
					// Branch failures are reported in-band, never
					// propagated, so the other branches keep running.
					return nil
				}
				branch.out.Results = results
				return nil
			})
		}
		_ = g.Wait()

		allFailed := resp.Web.Error != nil && resp.Vector.Error != nil && resp.Database.Error != nil
		if allFailed {
			return nil, apperr.NewRetrieverError("all retrieval back-ends failed", nil)
		}
		return Complete(resp), nil
	}
}
