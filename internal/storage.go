package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// KVStore is the durable local key/value storage behind the session store
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SQLiteStore keeps values in the kv table of the local state database
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore wraps an open database; the kv table must exist
func NewSQLiteStore(db *sql.DB, path string) *SQLiteStore {
	return &SQLiteStore{db: db, path: path}
}

// OpenSQLiteStore opens the state database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, &StorageError{Path: path, Op: "open", Err: err}
	}
	return NewSQLiteStore(db, path), nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := QueryValue(s.db, key)
	if err != nil {
		return "", false, &StorageError{Path: s.path, Op: "get", Err: err}
	}
	return value, ok, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if err := UpsertValue(s.db, key, value); err != nil {
		return &StorageError{Path: s.path, Op: "set", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := DeleteValue(s.db, key); err != nil {
		return &StorageError{Path: s.path, Op: "delete", Err: err}
	}
	return nil
}

// Keys lists stored keys with the given prefix
func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	pairs, err := QueryKV(s.db, prefix+"%")
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "list", Err: err}
	}
	keys := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		keys = append(keys, pair.Key)
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const redisKeyPrefix = "medichat:"

// RedisStore keeps values in Redis so several machines can share a session
type RedisStore struct {
	client *redis.Client
	addr   string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, addr: client.Options().Addr}
}

// OpenRedisStore connects to the Redis server described by url.
// Both redis:// URLs and bare host:port addresses are accepted.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, &StorageError{Path: url, Op: "open", Err: err}
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &StorageError{Path: opts.Addr, Op: "open", Err: fmt.Errorf("redis ping failed: %w", err)}
	}

	return NewRedisStore(client), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	LogDebug("Getting Redis key: %s", key)
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Path: s.addr, Op: "get", Err: err}
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	LogDebug("Setting Redis key: %s", key)
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return &StorageError{Path: s.addr, Op: "set", Err: err}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	LogDebug("Deleting Redis key: %s", key)
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return &StorageError{Path: s.addr, Op: "delete", Err: err}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// OpenStore opens the key/value store selected by the configuration
func OpenStore(ctx context.Context, cfg *Config) (KVStore, error) {
	switch cfg.Store {
	case StoreSQLite, "":
		return OpenSQLiteStore(cfg.StateDBPath())
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, &ConfigError{Key: "redis_url", Err: errors.New("required when store is redis")}
		}
		return OpenRedisStore(ctx, cfg.RedisURL)
	default:
		return nil, &ConfigError{Key: "store", Err: fmt.Errorf("unsupported store: %s (supported: sqlite, redis)", cfg.Store)}
	}
}
