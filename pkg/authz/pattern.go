// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"strings"

	"github.com/raniksyn/mediator/pkg/apperr"
)

// Resource patterns are dot-separated segments. A "*" segment matches
// exactly one name segment, except in final position where it matches the
// whole remainder; "**" (final position only) also matches the remainder.
// Invalid patterns are rejected at grant time, never at evaluation time.

// ValidatePattern checks a resource pattern against the grammar.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return apperr.NewValidationError("resource pattern must not be empty", nil)
	}
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		switch {
		case seg == "":
			return apperr.NewValidationError("resource pattern has an empty segment", nil)
		case seg == "*":
		case seg == "**":
			if i != len(segments)-1 {
				return apperr.NewValidationError(`"**" is only valid as the final segment`, nil)
			}
		case strings.ContainsAny(seg, "*"):
			return apperr.NewValidationError("wildcards must stand alone in a segment", nil)
		}
	}
	return nil
}

// MatchPattern tests a (valid) pattern against a concrete resource name.
func MatchPattern(pattern, name string) bool {
	psegs := strings.Split(pattern, ".")
	nsegs := strings.Split(name, ".")

	for i, pseg := range psegs {
		last := i == len(psegs)-1
		if last && (pseg == "**" || pseg == "*") {
			// Remainder match requires at least one segment left.
			return len(nsegs) > i
		}
		if i >= len(nsegs) {
			return false
		}
		if pseg != "*" && pseg != nsegs[i] {
			return false
		}
	}
	return len(nsegs) == len(psegs)
}
