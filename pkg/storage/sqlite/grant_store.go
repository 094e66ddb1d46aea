// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/raniksyn/mediator/pkg/storage"
)

// GrantStore implements storage.GrantStore on SQLite.
type GrantStore struct {
	db *sql.DB
}

var _ storage.GrantStore = (*GrantStore)(nil)

// NewGrantStore wraps an open, migrated database handle.
func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

const grantColumns = `subject_type, subject, resource_type, resource_pattern, actions, conditions, granted_at, expires_at`

func scanGrant(row interface{ Scan(...any) error }) (*storage.Grant, error) {
	var (
		g           storage.Grant
		actionsJSON string
		conditions  sql.NullString
		grantedAt   string
		expiresAt   sql.NullString
	)
	if err := row.Scan(&g.SubjectType, &g.Subject, &g.ResourceType, &g.ResourcePattern,
		&actionsJSON, &conditions, &grantedAt, &expiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionsJSON), &g.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &g.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions: %w", err)
		}
	}
	var err error
	if g.GrantedAt, err = time.Parse(time.RFC3339Nano, grantedAt); err != nil {
		return nil, fmt.Errorf("failed to parse granted_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		g.ExpiresAt = &t
	}
	return &g, nil
}

// Upsert inserts the grant, replacing an existing grant for the same
// (subject_type, subject, resource_type, resource_pattern).
func (s *GrantStore) Upsert(ctx context.Context, grant storage.Grant) error {
	actionsJSON, err := json.Marshal(grant.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	var conditions any
	if len(grant.Conditions) > 0 {
		condJSON, err := json.Marshal(grant.Conditions)
		if err != nil {
			return fmt.Errorf("failed to encode conditions: %w", err)
		}
		conditions = string(condJSON)
	}
	var expiresAt any
	if grant.ExpiresAt != nil {
		expiresAt = grant.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grants (subject_type, subject, resource_type, resource_pattern,
			actions, conditions, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_type, subject, resource_type, resource_pattern)
		DO UPDATE SET actions = excluded.actions, conditions = excluded.conditions,
			granted_at = excluded.granted_at, expires_at = excluded.expires_at`,
		grant.SubjectType, grant.Subject, grant.ResourceType, grant.ResourcePattern,
		string(actionsJSON), conditions,
		grant.GrantedAt.UTC().Format(time.RFC3339Nano), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// Delete removes a grant and reports whether it existed.
func (s *GrantStore) Delete(ctx context.Context, subjectType, subject, resourceType, resourcePattern string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM grants WHERE subject_type = ? AND subject = ? AND resource_type = ? AND resource_pattern = ?`,
		subjectType, subject, resourceType, resourcePattern)
	if err != nil {
		return false, fmt.Errorf("failed to delete grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// ListForSubjects returns all grants of the given resource type held by
// any of the subjects.
func (s *GrantStore) ListForSubjects(ctx context.Context, resourceType string, subjects []storage.SubjectRef) ([]storage.Grant, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(subjects))
	args := []any{resourceType}
	for _, ref := range subjects {
		clauses = append(clauses, `(subject_type = ? AND subject = ?)`)
		args = append(args, ref.Type, ref.Subject)
	}

	query := `SELECT ` + grantColumns + ` FROM grants WHERE resource_type = ? AND (` +
		strings.Join(clauses, " OR ") + `) ORDER BY subject_type, subject, resource_pattern`
	return s.queryGrants(ctx, query, args...)
}

// ListBySubject returns all grants held by one subject.
func (s *GrantStore) ListBySubject(ctx context.Context, subjectType, subject string) ([]storage.Grant, error) {
	return s.queryGrants(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE subject_type = ? AND subject = ?
		 ORDER BY resource_type, resource_pattern`,
		subjectType, subject)
}

// ListAll returns every grant.
func (s *GrantStore) ListAll(ctx context.Context) ([]storage.Grant, error) {
	return s.queryGrants(ctx,
		`SELECT ` + grantColumns + ` FROM grants ORDER BY subject_type, subject, resource_type, resource_pattern`)
}

func (s *GrantStore) queryGrants(ctx context.Context, query string, args ...any) ([]storage.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var out []storage.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *GrantStore) Close() error {
	return s.db.Close()
}
