// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"math"

	"github.com/raniksyn/mediator/pkg/apperr"
)

// Field types for tool argument schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
)

// Field declares one tool argument.
type Field struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Schema declares a tool's arguments. Unknown arguments are rejected so
// malformed calls fail before authentication.
type Schema struct {
	Fields map[string]Field `json:"fields"`
}

// Validate checks args against the schema.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	for name, field := range s.Fields {
		v, present := args[name]
		if !present {
			if field.Required {
				return apperr.NewValidationError(fmt.Sprintf("missing required argument %q", name), nil)
			}
			continue
		}
		if !typeMatches(field.Type, v) {
			return apperr.NewValidationError(
				fmt.Sprintf("argument %q must be of type %s", name, field.Type), nil)
		}
	}
	for name := range args {
		if _, known := s.Fields[name]; !known {
			return apperr.NewValidationError(fmt.Sprintf("unknown argument %q", name), nil)
		}
	}
	return nil
}

func typeMatches(fieldType string, v any) bool {
	switch fieldType {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case TypeInteger:
		// JSON decoding yields float64; accept only integral values.
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// IntArg extracts an integer argument with a default.
func IntArg(args map[string]any, name string, def int) int {
	switch n := args[name].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// StringArg extracts a string argument with a default.
func StringArg(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}
