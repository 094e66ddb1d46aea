// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "session:jti:"
	userKeyPrefix   = "session:user:"
)

// RedisStore implements Store on Redis. Records live under
// session:jti:<jti> with the refresh TTL; a per-user set under
// session:user:<id> indexes jtis for enumeration. The set may carry stale
// members after TTL expiry; reads filter through the record keys, which
// are authoritative.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore connects to the Redis instance named by url and verifies
// the connection.
func NewRedisStore(ctx context.Context, url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) recordKey(jti string) string {
	return s.keyPrefix + recordKeyPrefix + jti
}

func (s *RedisStore) userKey(userID string) string {
	return s.keyPrefix + userKeyPrefix + userID
}

// Put inserts a record with the given TTL.
func (s *RedisStore) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.JTI), payload, ttl)
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.JTI)
	// Keep the index alive as long as its longest-lived member.
	pipe.ExpireGT(ctx, s.userKey(rec.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

// Get returns the record for jti, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, jti string) (*Record, error) {
	payload, err := s.client.Get(ctx, s.recordKey(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for jti and reports whether it existed. DEL's
// removed-key count makes concurrent rotations observe exactly one winner.
func (s *RedisStore) Delete(ctx context.Context, jti string) (bool, error) {
	rec, err := s.Get(ctx, jti)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	removed, err := s.client.Del(ctx, s.recordKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session record: %w", err)
	}
	_ = s.client.SRem(ctx, s.userKey(rec.UserID), jti).Err()
	return removed > 0, nil
}

// DeleteByUser removes all records for a user.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	jtis, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	count := 0
	for _, jti := range jtis {
		removed, err := s.client.Del(ctx, s.recordKey(jti)).Result()
		if err != nil {
			return count, fmt.Errorf("failed to delete session record: %w", err)
		}
		count += int(removed)
	}
	if err := s.client.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return count, fmt.Errorf("failed to delete user session index: %w", err)
	}
	return count, nil
}

// ListByUser returns all live records for a user.
func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	jtis, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	sort.Strings(jtis)

	var out []Record
	for _, jti := range jtis {
		rec, err := s.Get(ctx, jti)
		if errors.Is(err, ErrNotFound) {
			// Stale index member; the record key expired.
			_ = s.client.SRem(ctx, s.userKey(userID), jti).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// ListActive pages through all live records in jti order.
func (s *RedisStore) ListActive(ctx context.Context, limit int, cursor string) ([]Record, string, error) {
	var jtis []string
	prefix := s.keyPrefix + recordKeyPrefix
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		jtis = append(jtis, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to scan session records: %w", err)
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
		rec, err := s.Get(ctx, jti)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		out = append(out, *rec)
	}
	return out, next, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
