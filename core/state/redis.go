package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodcleanfun/plqbot/core/logger"
)

// Hash fields of a persisted session.
const (
	fieldGame       = "game"
	fieldLevelID    = "level_id"
	fieldSequence   = "sequence"
	fieldPosition   = "position"
	fieldCurrentKey = "current_key"
	fieldLives      = "lives"
)

// DefaultKeyPrefix is the hash key prefix of existing deployments.
const DefaultKeyPrefix = "plq:states:"

// RedisStore keeps each session as one hash at <prefix><user_id>.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(userID string) string { return r.prefix + userID }

// Read loads the user's hash. A missing hash is Idle. A hash that fails to
// decode returns Idle together with an error wrapping ErrMalformedSession.
func (r *RedisStore) Read(ctx context.Context, userID string) (Session, error) {
	start := time.Now()
	fields, err := r.rdb.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		logger.Error(ctx, "store", "store.read",
			slog.String("status", "fail"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return Idle(), wrapUnavailable("read", err)
	}
	s, err := decodeSession(fields)
	if err != nil {
		return Idle(), err
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "store", "store.read",
			slog.String("status", "ok"),
			slog.Duration("duration", logger.Took(start)),
			slog.Bool("idle", s.IsIdle()),
		)
	}
	return s, nil
}

// Commit replaces the whole hash in one MULTI/EXEC. Idle deletes it.
func (r *RedisStore) Commit(ctx context.Context, userID string, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	start := time.Now()
	key := r.key(userID)
	var err error
	if s.IsIdle() {
		err = r.rdb.Del(ctx, key).Err()
	} else {
		var values map[string]any
		if values, err = encodeSession(s); err == nil {
			_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.HSet(ctx, key, values)
				return nil
			})
		}
	}
	if err != nil {
		logger.Error(ctx, "store", "store.commit",
			slog.String("status", "fail"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return wrapUnavailable("commit", err)
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "store", "store.commit",
			slog.String("status", "ok"),
			slog.Duration("duration", logger.Took(start)),
			slog.Bool("idle", s.IsIdle()),
		)
	}
	return nil
}

func encodeSession(s Session) (map[string]any, error) {
	seq, err := json.Marshal(s.Sequence)
	if err != nil {
		return nil, fmt.Errorf("encode sequence: %w", err)
	}
	return map[string]any{
		fieldGame:       string(s.Game),
		fieldLevelID:    s.LevelID,
		fieldSequence:   string(seq),
		fieldPosition:   strconv.Itoa(s.Position),
		fieldCurrentKey: s.CurrentKey,
		fieldLives:      strconv.Itoa(s.Lives),
	}, nil
}

func decodeSession(fields map[string]string) (Session, error) {
	game := Game(fields[fieldGame])
	if len(fields) == 0 || game == "" || game == GameNone {
		return Idle(), nil
	}
	s := Session{
		Game:       game,
		LevelID:    fields[fieldLevelID],
		CurrentKey: fields[fieldCurrentKey],
	}
	if err := json.Unmarshal([]byte(fields[fieldSequence]), &s.Sequence); err != nil {
		return Idle(), fmt.Errorf("%w: sequence: %v", ErrMalformedSession, err)
	}
	var err error
	if s.Position, err = strconv.Atoi(fields[fieldPosition]); err != nil {
		return Idle(), fmt.Errorf("%w: position: %v", ErrMalformedSession, err)
	}
	if s.Lives, err = strconv.Atoi(fields[fieldLives]); err != nil {
		return Idle(), fmt.Errorf("%w: lives: %v", ErrMalformedSession, err)
	}
	if err := s.Validate(); err != nil {
		return Idle(), fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	return s, nil
}

// DefaultEventPrefix namespaces de-duplication keys.
const DefaultEventPrefix = "plq:events:"

// RedisDeduper marks event ids with SET NX EX so retention is enforced by Redis.
type RedisDeduper struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper builds a deduper that keeps ids for ttl.
func NewRedisDeduper(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Seen reports whether eventID is still retained.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	n, err := d.rdb.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		return false, wrapUnavailable("dedupe seen", err)
	}
	return n > 0, nil
}

// Mark records eventID. Marking an id twice is not an error.
func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.rdb.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Err(); err != nil {
		return wrapUnavailable("dedupe mark", err)
	}
	return nil
}

func wrapUnavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
