package services

import (
	"context"
	"fmt"
	"log"

	"feedsync/config"
	"feedsync/db"
)

// OpenBookmarkStore выбирает хранилище оверлея закладок по bookmarks.driver.
// Возвращаемая функция закрывает подключение.
func OpenBookmarkStore(ctx context.Context, conf *config.ConfigSchema) (BookmarkOverlayStore, func() error, error) {
	if conf == nil {
		return nil, nil, fmt.Errorf("AppConfig is not loaded")
	}

	switch conf.Bookmarks.Driver {
	case "memory":
		return NewMemoryBookmarkStore(), func() error { return nil }, nil
	case "redis":
		client, err := NewRedisClient(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Bookmarks stored in redis key %s", conf.Bookmarks.Key)
		return NewRedisBookmarkStore(client, conf.Bookmarks.Key), client.Close, nil
	default:
		orm, err := db.Open(conf)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Bookmarks stored in %s database", conf.Bookmarks.Driver)
		return NewGormBookmarkStore(orm), func() error { return db.Close(orm) }, nil
	}
}

// NewEventChannel выбирает транспорт realtime событий по конфигурации
func NewEventChannel(conf *config.ConfigSchema) EventChannel {
	if conf.Channel == "rabbitmq" {
		return NewAMQPChannel(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange)
	}
	return NewPusherChannel(conf.Pusher.Host, conf.Pusher.Port, conf.Pusher.Key, conf.Pusher.TLS)
}

// NewRemoteFeedSource - клиент Laravel API по конфигурации
func NewRemoteFeedSource(conf *config.ConfigSchema) *HTTPFeedSource {
	return NewHTTPFeedSource(conf.API.BaseURL, conf.API.Token, conf.API.Timeout)
}
