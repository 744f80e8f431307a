package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thrillee/aegisbulk/internal/batch"
	"github.com/thrillee/aegisbulk/internal/compose"
)

const keyPrefix = "aegisbulk:session:"

var ErrSnapshotNotFound = errors.New("session snapshot not found")

// Snapshot is the recoverable state of a compose session: the batch queue,
// which batches are selected and the message being written.
type Snapshot struct {
	SessionID string              `json:"sessionId"`
	Batches   []batch.Batch       `json:"batches"`
	Selected  []string            `json:"selected"`
	Mode      string              `json:"mode"`
	Message   compose.MessageSpec `json:"message"`
	SavedAt   time.Time           `json:"savedAt"`
}

// RedisStore keeps snapshots in Redis with a sliding TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.SessionID == "" {
		return errors.New("snapshot has no session id")
	}
	snap.SavedAt = snap.SavedAt.UTC()

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key(snap.SessionID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", snap.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	raw, err := s.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get %s: %w", sessionID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, key(sessionID)).Err()
}

// List returns the ids of all stored sessions.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Ping checks the connection for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
