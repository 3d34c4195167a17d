// Package cache fronts durable lookups with Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, item T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NewRedisUniversalClient builds a client from a redis:// URL.
func NewRedisUniversalClient(redisAddr string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{opts.Addr},
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		TLSConfig:    opts.TLSConfig,
	}), nil
}

type redisCache[T any] struct {
	client    redis.UniversalClient
	prefix    string
	marshal   func(T) ([]byte, error)
	unmarshal func([]byte) (T, error)
}

func NewRedisCache[T any](client redis.UniversalClient, prefix string, marshal func(T) ([]byte, error), unmarshal func([]byte) (T, error)) Cache[T] {
	return &redisCache[T]{
		client:    client,
		prefix:    prefix,
		marshal:   marshal,
		unmarshal: unmarshal,
	}
}

func (r *redisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrMiss
		}
		return zero, fmt.Errorf("redis get %s: %w", r.prefix, err)
	}
	item, err := r.unmarshal(raw)
	if err != nil {
		return zero, fmt.Errorf("unmarshal cached %s: %w", r.prefix, err)
	}
	return item, nil
}

func (r *redisCache[T]) Set(ctx context.Context, key string, item T, ttl time.Duration) error {
	raw, err := r.marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %T for cache: %w", item, err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.prefix, err)
	}
	return nil
}

func (r *redisCache[T]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.prefix, err)
	}
	return nil
}

func (r *redisCache[T]) key(key string) string {
	return r.prefix + ":" + key
}
