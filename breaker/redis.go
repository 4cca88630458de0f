package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript counts a failure in KEYS[1] for ARGV[1] ms and, once
// ARGV[2] failures are seen, sets the open marker KEYS[2] for ARGV[1] ms.
var recordFailureScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[1])
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces the keys. Defaults to "fedsig:breaker:".
	Prefix string
}

// Redis is a Backend that shares breaker state between processes. Keys
// expire on their own, so nothing outlives the cool-off.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis connects a Redis backend.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, ErrNoRedisAddr
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "fedsig:breaker:"
	}

	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) IsOpen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.openKey(key)).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *Redis) RecordFailure(ctx context.Context, key string, threshold int, coolOff time.Duration) (bool, error) {
	millis := coolOff.Milliseconds()
	if millis <= 0 {
		millis = 1000
	}

	result, err := recordFailureScript.Run(ctx, r.client,
		[]string{r.failuresKey(key), r.openKey(key)},
		millis, threshold,
	).Int64()
	if err != nil {
		return false, err
	}

	switch result {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New("breaker: unexpected redis response")
	}
}

func (r *Redis) RecordSuccess(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.failuresKey(key)).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) failuresKey(key string) string { return r.prefix + "failures:" + key }
func (r *Redis) openKey(key string) string     { return r.prefix + "open:" + key }

var _ Backend = (*Redis)(nil)
