// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline composes the tool-server middleware chain: an ordered
// list of stage descriptors built once at startup from the configured
// feature set, each stage a function around the next.
package pipeline

import (
	"time"

	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/retriever"
)

// Request carries one request's state through the pipeline. Stages append
// to it (parsed arguments, authenticated principal); they never mutate
// shared state.
type Request struct {
	// RequestID correlates logs, traces, and the response.
	RequestID string

	// Msg is the decoded JSON-RPC envelope.
	Msg *jsonrpc.Message

	// Method is Msg.Method; ToolName and Arguments are populated by the
	// validation stage for tools/call.
	Method    string
	ToolName  string
	Arguments map[string]any

	// BearerToken is the Authorization bearer value, if any.
	BearerToken string

	// ClientAddr is the network peer, used as the rate identity for
	// anonymous traffic.
	ClientAddr string

	// Principal is attached by the authentication stage, or supplied by
	// the gateway's trusted principal headers. Nil means anonymous.
	Principal *auth.Identity

	// PreAuthenticated marks requests bearing the internal trust token;
	// the authentication stage passes them through untouched.
	PreAuthenticated bool

	// WantStream asks for a streamed response when the tool yields a
	// sequence.
	WantStream bool

	// Stream is set by dispatch instead of a complete response when the
	// tool streamed and the caller asked for a stream.
	Stream *retriever.Sequence

	// HTTPStatus is set by the error-handler stage when it converts an
	// error to an envelope, so the transport can mirror it.
	HTTPStatus int

	ReceivedAt time.Time
}

// EffectiveMethod returns the name authorization operates on: the tool
// name for tools/call, the method itself otherwise.
func (r *Request) EffectiveMethod() string {
	if r.ToolName != "" {
		return r.ToolName
	}
	return r.Method
}

// RateIdentity returns the rate-limiting identity: user id when
// authenticated, client address otherwise.
func (r *Request) RateIdentity() string {
	if r.Principal != nil && r.Principal.Subject != "" {
		return "user:" + r.Principal.Subject
	}
	return "addr:" + r.ClientAddr
}
