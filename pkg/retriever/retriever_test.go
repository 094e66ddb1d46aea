// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corpus() []Result {
	return []Result{
		{Title: "Go concurrency", Content: "goroutines and channels", Metadata: map[string]any{"collection": "docs.public"}},
		{Title: "Go generics", Content: "type parameters", Metadata: map[string]any{"collection": "docs.public"}},
		{Title: "Quarterly numbers", Content: "revenue table", Metadata: map[string]any{"collection": "docs.private", "table": "finance"}},
	}
}

func TestStaticRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewStatic(KindVector, corpus())

	seq, err := r.Retrieve(ctx, "go", Options{})
	require.NoError(t, err)
	results, err := seq.Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, KindVector, results[0].Source)

	// Limit caps the sequence.
	seq, err = r.Retrieve(ctx, "go", Options{Limit: 1})
	require.NoError(t, err)
	results, err = seq.Collect(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Collection filter.
	seq, err = r.Retrieve(ctx, "numbers", Options{Collection: "docs.private"})
	require.NoError(t, err)
	results, err = seq.Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Quarterly numbers", results[0].Title)
}

func TestSequenceIsNonRestartable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seq := FromSlice([]Result{{Content: "a"}, {Content: "b"}})
	first, err := seq.Collect(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// Exhausted: further pulls report done, not a fresh iteration.
	_, ok, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSequenceCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	seq := FromSlice([]Result{{Content: "a"}, {Content: "b"}})
	_, ok, err := seq.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	_, ok, err = seq.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{KindWeb, KindVector, KindDatabase} {
		r, err := New(kind, nil)
		require.NoError(t, err)
		require.NoError(t, r.Connect(context.Background()))
		assert.NoError(t, r.Health(context.Background()))
	}

	_, err := New("carrier_pigeon", nil)
	assert.Error(t, err)
}
