// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/jsonrpc"
	"github.com/raniksyn/mediator/pkg/tools"
)

// streamMaterializeLimit bounds how many streamed items are collected
// into a complete JSON-RPC response when the caller did not ask for a
// stream.
const streamMaterializeLimit = 1000

// listResponse is the tools/list result shape.
type listResponse struct {
	Tools []tools.Descriptor `json:"tools"`
}

// dispatchHandler is the innermost pipeline handler: it resolves the
// method to a tool implementation and runs it.
func dispatchHandler(d *Deps) Handler {
	return func(ctx context.Context, req *Request) (*jsonrpc.Message, error) {
		switch req.Method {
		case MethodToolsList:
			return dispatchList(d, req)
		case MethodToolsCall:
			return dispatchCall(ctx, d, req)
		default:
			// Without the validation stage, unknown methods reach here.
			return nil, apperr.NewNotFoundError("unknown method", nil)
		}
	}
}

// dispatchList returns the tools visible to the principal: public tools
// always, bound tools when the principal holds one of the binding's
// minimum roles.
func dispatchList(d *Deps, req *Request) (*jsonrpc.Message, error) {
	var visible []tools.Descriptor
	for _, t := range d.Registry.All() {
		if t.Public {
			visible = append(visible, t.Describe())
			continue
		}
		if req.Principal == nil {
			continue
		}
		binding, ok := d.Engine.Bindings().Lookup(t.Name)
		if !ok {
			continue
		}
		for _, role := range binding.MinimumRoles {
			if req.Principal.HasRole(role) {
				visible = append(visible, t.Describe())
				break
			}
		}
	}
	if visible == nil {
		visible = []tools.Descriptor{}
	}

	resp, err := jsonrpc.NewResponse(req.Msg.ID, listResponse{Tools: visible})
	if err != nil {
		return nil, apperr.NewInternalError("failed to encode tool list", err)
	}
	return resp, nil
}

// dispatchCall runs the bound tool. When validation is disabled the
// params are parsed here instead.
func dispatchCall(ctx context.Context, d *Deps, req *Request) (*jsonrpc.Message, error) {
	if req.ToolName == "" {
		var params callParams
		if len(req.Msg.Params) > 0 {
			if err := json.Unmarshal(req.Msg.Params, &params); err != nil {
				return nil, apperr.NewValidationError("malformed tools/call params", err)
			}
		}
		if params.Name == "" {
			return nil, apperr.NewValidationError("tools/call requires a tool name", nil)
		}
		req.ToolName = params.Name
		req.Arguments = params.Arguments
	}

	tool, ok := d.Registry.Get(req.ToolName)
	if !ok {
		return nil, apperr.NewNotFoundError("unknown tool", nil)
	}

	result, err := tool.Handler(ctx, req.Arguments)
	if err != nil {
		return nil, err
	}

	if result.Stream != nil {
		if req.WantStream {
			// The transport layer relays the sequence; no complete
			// response is produced here.
			req.Stream = result.Stream
			return &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: req.Msg.ID}, nil
		}
		items, err := result.Stream.Collect(ctx, streamMaterializeLimit)
		if err != nil {
			return nil, apperr.NewRetrieverError("stream collection failed", err)
		}
		resp, err := jsonrpc.NewResponse(req.Msg.ID, map[string]any{"items": items, "done": true})
		if err != nil {
			return nil, apperr.NewInternalError("failed to encode result", err)
		}
		return resp, nil
	}

	resp, err := jsonrpc.NewResponse(req.Msg.ID, result.Value)
	if err != nil {
		return nil, apperr.NewInternalError("failed to encode result", err)
	}
	return resp, nil
}
