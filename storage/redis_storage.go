package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/sharekeeper/config"
	"github.com/vultisig/sharekeeper/contexthelper"
)

type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(cfg config.Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return NewRedisStorageWithClient(client), nil
}

func NewRedisStorageWithClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func (r *RedisStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("fail to get %s, err: %w", key, err)
	}
	return data, nil
}

func (r *RedisStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("fail to set %s, err: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) Rename(ctx context.Context, from, to string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	n, err := r.client.Exists(ctx, from).Result()
	if err != nil {
		return fmt.Errorf("fail to check %s, err: %w", from, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if err := r.client.Rename(ctx, from, to).Err(); err != nil {
		return fmt.Errorf("fail to rename %s to %s, err: %w", from, to, err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("fail to delete %s, err: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("fail to check %s, err: %w", key, err)
	}
	return n > 0, nil
}

// Claim stores value under key for ttl unless the key is already held. It
// returns the value holding the key.
func (r *RedisStorage) Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("fail to claim %s, err: %w", key, err)
	}
	if ok {
		return value, true, nil
	}
	held, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("fail to get %s, err: %w", key, err)
	}
	return held, false, nil
}

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops a claim taken with value. A claim that expired or was taken
// over by another value is left alone.
func (r *RedisStorage) Release(ctx context.Context, key, value string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, value).Err(); err != nil {
		return fmt.Errorf("fail to release %s, err: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
