package services

import (
	"context"
	"fmt"

	"feedsync/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient подключается к Redis по конфигурации и проверяет соединение
func NewRedisClient(ctx context.Context, conf *config.ConfigSchema) (*redis.Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("AppConfig is not loaded")
	}

	redisConfig := conf.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
