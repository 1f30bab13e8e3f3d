package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
)

// RedisBookmarkStore хранит оверлей JSON массивом под одним ключом
// (тот же формат, что и у мобильного клиента)
type RedisBookmarkStore struct {
	client *redis.Client
	key    string
}

func NewRedisBookmarkStore(client *redis.Client, key string) *RedisBookmarkStore {
	if key == "" {
		key = "bookmarkedPosts"
	}
	return &RedisBookmarkStore{client: client, key: key}
}

func (r *RedisBookmarkStore) Load(ctx context.Context) IDSet {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Warning: failed to load bookmarks from redis, treating as empty: %v", err)
		}
		return NewIDSet()
	}
	return decodeBookmarks(raw)
}

func (r *RedisBookmarkStore) Save(ctx context.Context, ids IDSet) error {
	data, err := encodeBookmarks(ids)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save bookmarks to redis: %w", err)
	}
	return nil
}
