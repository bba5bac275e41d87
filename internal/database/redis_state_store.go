package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/syncstate"
)

// RedisSyncStateStore persists watched resources as JSON values guarded by WATCH transactions
type RedisSyncStateStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisSyncStateStore creates a store whose keys start with prefix
func NewRedisSyncStateStore(client *redis.Client, prefix string) *RedisSyncStateStore {
	if prefix == "" {
		prefix = constants.AppIdentifier
	}
	return &RedisSyncStateStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisSyncStateStore) key(resourceID string) string {
	return s.prefix + ":watch:" + resourceID
}

func (s *RedisSyncStateStore) indexKey() string {
	return s.prefix + ":watches"
}

func decodeWatchedResource(data []byte) (*syncstate.WatchedResource, error) {
	var r syncstate.WatchedResource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode watched resource: %w", err)
	}
	return &r, nil
}

// Get retrieves the state of one resource
func (s *RedisSyncStateStore) Get(ctx context.Context, resourceID string) (*syncstate.WatchedResource, error) {
	data, err := s.client.Get(ctx, s.key(resourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, syncstate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watched resource: %w", err)
	}
	return decodeWatchedResource(data)
}

// List retrieves every resource in the index, ordered by id
func (s *RedisSyncStateStore) List(ctx context.Context) ([]*syncstate.WatchedResource, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list watched resources: %w", err)
	}
	sort.Strings(ids)

	out := make([]*syncstate.WatchedResource, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, syncstate.ErrNotFound) {
			// deleted between SMEMBERS and GET
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Save creates the resource when its version is 0, otherwise updates it if the version
// matches. A concurrent write to the key aborts the transaction with ErrVersionConflict.
func (s *RedisSyncStateStore) Save(ctx context.Context, resource *syncstate.WatchedResource) error {
	key := s.key(resource.ResourceID)
	next := resource.Clone()
	next.Version++
	next.UpdatedAt = s.now().UTC()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if resource.Version != 0 {
				return syncstate.ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read watched resource: %w", err)
		default:
			current, err := decodeWatchedResource(data)
			if err != nil {
				return err
			}
			if resource.Version == 0 || current.Version != resource.Version {
				return syncstate.ErrVersionConflict
			}
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode watched resource: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, s.indexKey(), resource.ResourceID)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return syncstate.ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, syncstate.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to save watched resource: %w", err)
	}

	resource.Version = next.Version
	resource.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes the resource and its index entry if the version matches
func (s *RedisSyncStateStore) Delete(ctx context.Context, resourceID string, version int64) error {
	key := s.key(resourceID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return syncstate.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read watched resource: %w", err)
		}
		current, err := decodeWatchedResource(data)
		if err != nil {
			return err
		}
		if current.Version != version {
			return syncstate.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(), resourceID)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return syncstate.ErrVersionConflict
	}
	return err
}

// RedisLedger records emitted dedupe ids as expiring keys
type RedisLedger struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisLedger creates a ledger forgetting ids after retention
func NewRedisLedger(client *redis.Client, prefix string, retention time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = constants.AppIdentifier
	}
	return &RedisLedger{client: client, prefix: prefix, retention: retention, now: time.Now}
}

// MarkEmitted sets the dedupe key with the retention TTL and reports whether it was new
func (l *RedisLedger) MarkEmitted(ctx context.Context, dedupeID string) (bool, error) {
	first, err := l.client.SetNX(ctx, l.prefix+":emitted:"+dedupeID, l.now().UnixMilli(), l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record emitted event: %w", err)
	}
	return first, nil
}
