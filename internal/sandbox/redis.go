package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "blobs-sandbox"

// RedisBackend keeps blobs in Redis: one hash per blob, a lexicographically
// ordered sorted set of keys per store and a sorted set of stores per site.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps rdb. Keys are namespaced under prefix, or a default
// prefix when empty.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

// blobKey length-prefixes store since store names may themselves hold ':'.
func (b *RedisBackend) blobKey(site, store, key string) string {
	return fmt.Sprintf("%s:blob:{%s}:%d:%s:%s", b.prefix, site, len(store), store, key)
}

func (b *RedisBackend) keysKey(site, store string) string {
	return fmt.Sprintf("%s:keys:{%s}:%s", b.prefix, site, store)
}

func (b *RedisBackend) storesKey(site string) string {
	return fmt.Sprintf("%s:stores:{%s}", b.prefix, site)
}

func (b *RedisBackend) Get(ctx context.Context, site, store, key string) (*Object, error) {
	fields, err := b.rdb.HGetAll(ctx, b.blobKey(site, store, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("sandbox: redis HGETALL: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return &Object{
		Data:        []byte(fields["data"]),
		ContentType: fields["content_type"],
		Metadata:    fields["metadata"],
		ETag:        fields["etag"],
	}, nil
}

func (b *RedisBackend) Put(ctx context.Context, site, store, key string, obj *Object) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		blobKey := b.blobKey(site, store, key)
		pipe.Del(ctx, blobKey)
		pipe.HSet(ctx, blobKey,
			"data", obj.Data,
			"content_type", obj.ContentType,
			"metadata", obj.Metadata,
			"etag", obj.ETag,
		)
		pipe.ZAdd(ctx, b.keysKey(site, store), redis.Z{Member: key})
		pipe.ZAdd(ctx, b.storesKey(site), redis.Z{Member: store})
		return nil
	})
	if err != nil {
		return fmt.Errorf("sandbox: redis put: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, site, store, key string) error {
	removed, err := b.rdb.Del(ctx, b.blobKey(site, store, key)).Result()
	if err != nil {
		return fmt.Errorf("sandbox: redis DEL: %w", err)
	}
	if err := b.rdb.ZRem(ctx, b.keysKey(site, store), key).Err(); err != nil {
		return fmt.Errorf("sandbox: redis ZREM: %w", err)
	}
	remaining, err := b.rdb.ZCard(ctx, b.keysKey(site, store)).Result()
	if err != nil {
		return fmt.Errorf("sandbox: redis ZCARD: %w", err)
	}
	if remaining == 0 {
		if err := b.rdb.ZRem(ctx, b.storesKey(site), store).Err(); err != nil {
			return fmt.Errorf("sandbox: redis ZREM: %w", err)
		}
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, site, store, prefix string) ([]Entry, error) {
	keys, err := b.rdb.ZRangeByLex(ctx, b.keysKey(site, store), lexRange(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("sandbox: redis ZRANGEBYLEX: %w", err)
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, b.blobKey(site, store, key), "etag")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("sandbox: redis HGET etag: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		etag, err := cmds[i].Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sandbox: redis HGET etag: %w", err)
		}
		entries = append(entries, Entry{Key: key, ETag: etag})
	}
	return entries, nil
}

func (b *RedisBackend) Stores(ctx context.Context, site, prefix string) ([]string, error) {
	names, err := b.rdb.ZRangeByLex(ctx, b.storesKey(site), lexRange(prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("sandbox: redis ZRANGEBYLEX: %w", err)
	}
	return names, nil
}

// lexRange selects every member starting with prefix in a sorted set whose
// members all share score 0.
func lexRange(prefix string) *redis.ZRangeBy {
	if prefix == "" {
		return &redis.ZRangeBy{Min: "-", Max: "+"}
	}
	return &redis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
}
