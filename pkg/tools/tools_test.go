// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/retriever"
)

func testBackends() *Backends {
	web := retriever.NewStatic(retriever.KindWeb, []retriever.Result{
		{Title: "Go news", Content: "release notes"},
	})
	vector := retriever.NewStatic(retriever.KindVector, []retriever.Result{
		{Title: "Go docs", Content: "language reference", Metadata: map[string]any{"collection": "docs.public"}},
	})
	db := retriever.NewStatic(retriever.KindDatabase, []retriever.Result{
		{Title: "go_orders", Content: "orders row go", Metadata: map[string]any{"table": "orders"}},
	})
	return &Backends{Web: web, Vector: vector, Database: db}
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	schema := searchSchema(map[string]Field{
		"collection": {Type: TypeString, Required: true},
	})

	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"query": "go", "collection": "docs"}, true},
		{"with limit", map[string]any{"query": "go", "collection": "docs", "limit": float64(3)}, true},
		{"with max_results", map[string]any{"query": "go", "collection": "docs", "max_results": float64(3)}, true},
		{"missing required", map[string]any{"query": "go"}, false},
		{"wrong type", map[string]any{"query": 7, "collection": "docs"}, false},
		{"fractional integer", map[string]any{"query": "go", "collection": "docs", "max_results": 2.5}, false},
		{"unknown argument", map[string]any{"query": "go", "collection": "docs", "surprise": true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := schema.Validate(tc.args)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperr.IsValidation(err))
			}
		})
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry(&Tool{Name: "a"}, &Tool{Name: "a"})
	assert.Error(t, err)
}

func TestDefaultRegistryTools(t *testing.T) {
	t.Parallel()
	reg, err := NewDefaultRegistry(testBackends())
	require.NoError(t, err)

	for _, name := range []string{"health_check", "search_web", "search_vectors", "search_database", "search_all"} {
		_, ok := reg.Get(name)
		assert.True(t, ok, "tool %s registered", name)
	}

	hc, _ := reg.Get("health_check")
	assert.True(t, hc.Public)
	assert.False(t, hc.Cacheable)

	sd, _ := reg.Get("search_database")
	assert.True(t, sd.PrincipalVarying)
}

func TestSearchWebTool(t *testing.T) {
	t.Parallel()
	reg, err := NewDefaultRegistry(testBackends())
	require.NoError(t, err)

	tool, _ := reg.Get("search_web")
	res, err := tool.Handler(context.Background(), map[string]any{"query": "go", "max_results": float64(3)})
	require.NoError(t, err)

	resp, ok := res.Value.(SearchResponse)
	require.True(t, ok)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "Go news", resp.Results[0].Title)
}

func TestLimitArgumentCapsResults(t *testing.T) {
	t.Parallel()
	b := testBackends()
	b.Web = retriever.NewStatic(retriever.KindWeb, []retriever.Result{
		{Title: "go one", Content: "go"},
		{Title: "go two", Content: "go"},
		{Title: "go three", Content: "go"},
	})
	reg, err := NewDefaultRegistry(b)
	require.NoError(t, err)

	tool, _ := reg.Get("search_web")
	res, err := tool.Handler(context.Background(), map[string]any{"query": "go", "limit": float64(2)})
	require.NoError(t, err)

	resp, ok := res.Value.(SearchResponse)
	require.True(t, ok)
	assert.Equal(t, 2, resp.Count)
}

// failingRetriever always errors on retrieval.
type failingRetriever struct{}

func (failingRetriever) Connect(context.Context) error    { return nil }
func (failingRetriever) Disconnect(context.Context) error { return nil }
func (failingRetriever) Health(context.Context) error     { return errors.New("unreachable") }
func (failingRetriever) Retrieve(context.Context, string, retriever.Options) (*retriever.Sequence, error) {
	return nil, errors.New("backend down")
}

func TestCompositePartialSuccess(t *testing.T) {
	t.Parallel()
	b := testBackends()
	b.Web = failingRetriever{}
	reg, err := NewDefaultRegistry(b)
	require.NoError(t, err)

	tool, _ := reg.Get("search_all")
	res, err := tool.Handler(context.Background(), map[string]any{"query": "go"})
	require.NoError(t, err, "composite succeeds when any branch succeeds")

	resp, ok := res.Value.(*CompositeResponse)
	require.True(t, ok)
	require.NotNil(t, resp.Web.Error)
	assert.Equal(t, string(apperr.KindRetriever), resp.Web.Error.Kind)
	assert.Nil(t, resp.Web.Results)
	assert.NotEmpty(t, resp.Vector.Results)
	assert.NotEmpty(t, resp.Database.Results)
}

func TestCompositeAllBranchesFail(t *testing.T) {
	t.Parallel()
	b := &Backends{Web: failingRetriever{}, Vector: failingRetriever{}, Database: failingRetriever{}}
	reg, err := NewDefaultRegistry(b)
	require.NoError(t, err)

	tool, _ := reg.Get("search_all")
	_, err = tool.Handler(context.Background(), map[string]any{"query": "go"})
	assert.True(t, apperr.IsKind(err, apperr.KindRetriever))
}

func TestHealthCheckReportsBackends(t *testing.T) {
	t.Parallel()
	b := testBackends()
	b.Database = failingRetriever{}
	reg, err := NewDefaultRegistry(b)
	require.NoError(t, err)

	tool, _ := reg.Get("health_check")
	res, err := tool.Handler(context.Background(), nil)
	require.NoError(t, err)

	v := res.Value.(map[string]any)
	backends := v["backends"].(map[string]string)
	assert.Equal(t, "ok", backends[retriever.KindWeb])
	assert.Equal(t, "unhealthy", backends[retriever.KindDatabase])
}
