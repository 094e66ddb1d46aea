// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node profiles.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	byUser  map[string]map[string]struct{}

	now func() time.Time
}

type memoryRecord struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		byUser:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expiredLocked reports and reaps an expired record. Caller holds mu.
func (s *MemoryStore) expiredLocked(jti string, mr memoryRecord) bool {
	if s.now().Before(mr.expiresAt) {
		return false
	}
	s.removeLocked(jti, mr.rec.UserID)
	return true
}

func (s *MemoryStore) removeLocked(jti, userID string) {
	delete(s.records, jti)
	if set, ok := s.byUser[userID]; ok {
		delete(set, jti)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// Put inserts a record with the given TTL.
func (s *MemoryStore) Put(_ context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.JTI] = memoryRecord{rec: rec, expiresAt: s.now().Add(ttl)}
	set, ok := s.byUser[rec.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[rec.UserID] = set
	}
	set[rec.JTI] = struct{}{}
	return nil
}

// Get returns the record for jti, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, jti string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.records[jti]
	if !ok || s.expiredLocked(jti, mr) {
		return nil, ErrNotFound
	}
	rec := mr.rec
	return &rec, nil
}

// Delete removes the record for jti and reports whether it existed.
func (s *MemoryStore) Delete(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.records[jti]
	if !ok || s.expiredLocked(jti, mr) {
		return false, nil
	}
	s.removeLocked(jti, mr.rec.UserID)
	return true, nil
}

// DeleteByUser removes all records for a user.
func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for jti := range s.byUser[userID] {
		if mr, ok := s.records[jti]; ok && !s.expiredLocked(jti, mr) {
			s.removeLocked(jti, userID)
			count++
		}
	}
	return count, nil
}

// ListByUser returns all live records for a user.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for jti := range s.byUser[userID] {
		if mr, ok := s.records[jti]; ok && !s.expiredLocked(jti, mr) {
			out = append(out, mr.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JTI < out[j].JTI })
	return out, nil
}

// ListActive pages through all live records in jti order.
func (s *MemoryStore) ListActive(_ context.Context, limit int, cursor string) ([]Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jtis := make([]string, 0, len(s.records))
	for jti, mr := range s.records {
		if !s.expiredLocked(jti, mr) {
			jtis = append(jtis, jti)
		}
	}
	sort.Strings(jtis)

	var out []Record
	next := ""
	for _, jti := range jtis {
		if cursor != "" && jti <= cursor {
			continue
		}
		if limit > 0 && len(out) == limit {
			next = out[len(out)-1].JTI
			break
		}
		out = append(out, s.records[jti].rec)
	}
	return out, next, nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}
