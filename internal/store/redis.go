package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"whiteboard-backend/internal/model"
)

// RedisStore keeps one Redis list per board. The sequence of an operation
// is its 1-based position in the list: RPUSH returns the new length, so
// assignment is atomic across processes and gap-free, and DEL resets the
// sequence to 0. Stored entries omit their sequence; readers recompute it
// from the list index.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[Store] Connected to Redis at %s", addr)
	return &RedisStore{client: client, ttl: ttl}, nil
}

func opsKey(boardID string) string {
	return "whiteboard:" + boardID + ":ops"
}

func wrapErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Append persists op and returns its assigned sequence.
func (s *RedisStore) Append(ctx context.Context, boardID string, op model.Operation) (int64, error) {
	op.BoardID = boardID
	op.Sequence = 0 // recomputed from list position on read

	data, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("%w: encode operation: %v", ErrStoreUnavailable, err)
	}

	seq, err := s.client.RPush(ctx, opsKey(boardID), data).Result()
	if err != nil {
		return 0, wrapErr(err)
	}

	// Expiry is refreshed on every write, like the original 24h policy.
	// The file mirror covers boards that outlive the TTL.
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, opsKey(boardID), s.ttl).Err(); err != nil {
			log.Printf("[Store] Failed to refresh TTL for board %s: %v", boardID, err)
		}
	}

	return seq, nil
}

// ReadFrom returns operations with sequence > since, oldest first.
func (s *RedisStore) ReadFrom(ctx context.Context, boardID string, since int64) ([]model.Operation, error) {
	if since < 0 {
		since = 0
	}

	entries, err := s.client.LRange(ctx, opsKey(boardID), since, -1).Result()
	if err != nil {
		return nil, wrapErr(err)
	}

	ops := make([]model.Operation, 0, len(entries))
	for i, entry := range entries {
		var op model.Operation
		if err := json.Unmarshal([]byte(entry), &op); err != nil {
			log.Printf("[Store] Skipping corrupt entry %d for board %s: %v", since+int64(i), boardID, err)
			continue
		}
		op.BoardID = boardID
		op.Sequence = since + int64(i) + 1
		ops = append(ops, op)
	}

	return ops, nil
}

func (s *RedisStore) ReadAll(ctx context.Context, boardID string) ([]model.Operation, error) {
	return s.ReadFrom(ctx, boardID, 0)
}

// Clear discards the board's log; the next append gets sequence 1.
func (s *RedisStore) Clear(ctx context.Context, boardID string) error {
	if err := s.client.Del(ctx, opsKey(boardID)).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *RedisStore) CurrentSequence(ctx context.Context, boardID string) (int64, error) {
	n, err := s.client.LLen(ctx, opsKey(boardID)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// Restore seeds the log from mirrored operations if it is still empty.
func (s *RedisStore) Restore(ctx context.Context, boardID string, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	n, err := s.client.LLen(ctx, opsKey(boardID)).Result()
	if err != nil {
		return wrapErr(err)
	}
	if n > 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, op := range ops {
		op.BoardID = boardID
		op.Sequence = 0
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("%w: encode operation: %v", ErrStoreUnavailable, err)
		}
		pipe.RPush(ctx, opsKey(boardID), data)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, opsKey(boardID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr(err)
	}

	log.Printf("[Store] Rehydrated board %s with %d mirrored operations", boardID, len(ops))
	return nil
}

// Ping reports store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
