package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 200

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key so several portals can share a
	// Redis instance.
	Namespace string
}

// Redis is a Store shared between portal replicas. Expiry is enforced by the
// server. Generations are tracked per process only.
type Redis struct {
	client    *redis.Client
	namespace string
	logger    *zap.Logger
	gens      Generations
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, opts.Namespace, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, namespace string, logger *zap.Logger) *Redis {
	if namespace == "" {
		namespace = "kolibri"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, namespace: namespace, logger: logger}
}

func (r *Redis) key(k string) string { return r.namespace + ":" + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// InvalidatePrefix scans for matching keys, then deletes them in batches.
// Nothing is deleted until the scan has finished.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	r.gens.Bump(prefix)
	pattern := escapeGlob(r.key(prefix)) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	for len(keys) > 0 {
		n := min(len(keys), scanBatch)
		if err := r.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return err
		}
		keys = keys[n:]
	}
	r.logger.Debug("invalidated cache prefix", zap.String("prefix", prefix))
	return nil
}

// Generation returns key's invalidation count in this process.
func (r *Redis) Generation(key string) uint64 { return r.gens.Of(key) }

// SetIfCurrent writes value unless key was invalidated since gen.
func (r *Redis) SetIfCurrent(ctx context.Context, key string, gen uint64, value []byte, ttl time.Duration) (bool, error) {
	return r.gens.Guard(key, gen, func() error { return r.Set(ctx, key, value, ttl) })
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
