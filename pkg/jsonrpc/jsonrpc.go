// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc models the JSON-RPC 2.0 envelope used between clients,
// the gateway, and the tool server.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/raniksyn/mediator/pkg/apperr"
)

// Version is the only supported JSON-RPC protocol version.
const Version = "2.0"

// Message represents a JSON-RPC message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest reports whether the message is a request (has a method).
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// NewRequest creates a new JSON-RPC request message.
func NewRequest(method string, params any, id any) (*Message, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsJSON,
		ID:      id,
	}, nil
}

// NewResponse creates a new JSON-RPC response message.
func NewResponse(id any, result any) (*Message, error) {
	var resultJSON json.RawMessage
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return &Message{
		JSONRPC: Version,
		Result:  resultJSON,
		ID:      id,
	}, nil
}

// NewError creates a new JSON-RPC error message.
func NewError(id any, code int, message string, data any) (*Message, error) {
	var dataJSON json.RawMessage
	if data != nil {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
	}

	return &Message{
		JSONRPC: Version,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
		ID: id,
	}, nil
}

// FromAppError converts an application error into a JSON-RPC error message.
func FromAppError(id any, err error) *Message {
	e := apperr.As(err)

	var data any
	if len(e.Data) > 0 {
		data = e.Data
	}

	msg, mErr := NewError(id, e.JSONRPCCode(), e.Message, data)
	if mErr != nil {
		// Marshalling a map[string]any of scalars cannot realistically
		// fail; fall back to an empty-data error if it somehow does.
		msg, _ = NewError(id, apperr.CodeInternal, "internal error", nil)
	}
	return msg
}

// Decode reads and validates a single JSON-RPC message from r.
func Decode(r io.Reader) (*Message, error) {
	var msg Message
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return nil, apperr.NewValidationError("malformed JSON-RPC message", err)
	}
	if msg.JSONRPC != Version {
		return nil, apperr.NewValidationError("unsupported JSON-RPC version", nil)
	}
	return &msg, nil
}

// WriteHTTP writes msg to w with the given transport status.
func WriteHTTP(w http.ResponseWriter, msg *Message, status int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(msg)
}

// WriteError maps err to a JSON-RPC error envelope and writes it with the
// corresponding HTTP status.
func WriteError(w http.ResponseWriter, id any, err error) error {
	e := apperr.As(err)
	return WriteHTTP(w, FromAppError(id, err), e.HTTPStatus())
}
