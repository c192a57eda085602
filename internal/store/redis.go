package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/model"
)

// RedisOptions configures the Redis connection. URL wins over Addr.
type RedisOptions struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	Match       string
	ScanCount   int64
	DialTimeout time.Duration
}

// RedisStore reads pending records stored as Redis hashes.
type RedisStore struct {
	client *redis.Client
	match  string
	count  int64
	log    logx.Logger
}

// recordAttempt refuses to touch a key that no longer exists, so a record
// deleted concurrently is not resurrected as a bookkeeping-only hash.
var recordAttempt = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return n
`)

func redisClientOptions(opts RedisOptions) (*redis.Options, error) {
	if u := strings.TrimSpace(opts.URL); u != "" {
		ro, err := redis.ParseURL(u)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if opts.DialTimeout > 0 {
			ro.DialTimeout = opts.DialTimeout
		}
		return ro, nil
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	}, nil
}

// NewRedisStore connects and pings Redis. A failed ping is returned to the
// caller: the dispatcher cannot do anything useful without its store.
func NewRedisStore(ctx context.Context, opts RedisOptions, log logx.Logger) (*RedisStore, error) {
	ro, err := redisClientOptions(opts)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", ro.Addr, err)
	}

	s := NewRedisStoreFromClient(rdb, opts.Match, opts.ScanCount, log)
	s.log.Info("redis store ready", logx.String("addr", ro.Addr), logx.Int("db", ro.DB), logx.String("match", s.match))
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, match string, count int64, log logx.Logger) *RedisStore {
	if strings.TrimSpace(match) == "" {
		match = "*"
	}
	if count <= 0 {
		count = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RedisStore{client: client, match: match, count: count, log: log}
}

func (s *RedisStore) Scan(ctx context.Context, cursor uint64) (uint64, []string, error) {
	keys, next, err := s.client.Scan(ctx, cursor, s.match, s.count).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("scan cursor %d: %w", cursor, err)
	}
	return next, keys, nil
}

func (s *RedisStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %q: %w", key, err)
	}
	return fields, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, key string, at time.Time) (int, error) {
	n, err := recordAttempt.Run(ctx, s.client, []string{key},
		model.AttemptsField, model.LastAttemptField, at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("record attempt %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
