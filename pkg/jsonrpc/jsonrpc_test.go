// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniksyn/mediator/pkg/apperr"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("valid request", func(t *testing.T) {
		t.Parallel()
		msg, err := Decode(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		require.NoError(t, err)
		assert.Equal(t, "tools/list", msg.Method)
		assert.True(t, msg.IsRequest())
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		_, err := Decode(strings.NewReader(`{not json`))
		assert.True(t, apperr.IsValidation(err))
	})

	t.Run("wrong version", func(t *testing.T) {
		t.Parallel()
		_, err := Decode(strings.NewReader(`{"jsonrpc":"1.0","id":1,"method":"x"}`))
		assert.True(t, apperr.IsValidation(err))
	})
}

func TestNewRequestRoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := NewRequest("tools/call", map[string]any{"name": "search_web"}, 7)
	require.NoError(t, err)
	assert.Equal(t, Version, msg.JSONRPC)

	var params map[string]any
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "search_web", params["name"])
}

func TestFromAppError(t *testing.T) {
	t.Parallel()

	msg := FromAppError(3, apperr.NewRateLimitError(12.5))
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperr.CodeRateLimit, msg.Error.Code)
	assert.Equal(t, "rate limit exceeded", msg.Error.Message)

	var data map[string]any
	require.NoError(t, json.Unmarshal(msg.Error.Data, &data))
	assert.Equal(t, 12.5, data["retry_after"])
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, 1, apperr.NewAuthenticationError(nil)))

	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var msg Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.Error)
	assert.Equal(t, apperr.CodeAuthentication, msg.Error.Code)
	assert.Equal(t, "invalid credentials", msg.Error.Message)
}
