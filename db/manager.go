package db

import (
	"context"
	"fmt"

	"feedsync/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
	)
}

// Open открывает SQL хранилище оверлея закладок: локальный sqlite файл
// или postgres мастер с репликами на чтение
func Open(conf *config.ConfigSchema) (*gorm.DB, error) {
	if conf == nil {
		return nil, fmt.Errorf("AppConfig is not loaded")
	}

	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var (
		orm *gorm.DB
		err error
	)
	switch conf.Bookmarks.Driver {
	case "sqlite":
		orm, err = gorm.Open(sqlite.Open(conf.Bookmarks.Path), gormConfig)
	case "postgres":
		if conf.Bookmarks.Master.Host == "" {
			return nil, fmt.Errorf("Master database configuration is missing")
		}
		orm, err = gorm.Open(postgres.Open(dsnFromConfig(conf.Bookmarks.Master)), gormConfig)
		if err == nil && len(conf.Bookmarks.Replicas) > 0 {
			replicas := make([]gorm.Dialector, 0, len(conf.Bookmarks.Replicas))
			for _, r := range conf.Bookmarks.Replicas {
				replicas = append(replicas, postgres.Open(dsnFromConfig(r)))
			}
			err = orm.Use(dbresolver.Register(dbresolver.Config{
				Replicas: replicas,
				Policy:   dbresolver.RandomPolicy{},
			}))
		}
	default:
		return nil, fmt.Errorf("driver %q is not an SQL driver", conf.Bookmarks.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bookmarks database: %w", err)
	}

	if err := Migrate(orm); err != nil {
		return nil, err
	}
	return orm, nil
}

// GetReadOnlyDB возвращает подключение для чтения (реплики, если настроены)
func GetReadOnlyDB(ctx context.Context, orm *gorm.DB) *gorm.DB {
	return orm.WithContext(ctx).Clauses(dbresolver.Read)
}

// GetWriteDB возвращает подключение для записи (мастер)
func GetWriteDB(ctx context.Context, orm *gorm.DB) *gorm.DB {
	return orm.WithContext(ctx).Clauses(dbresolver.Write)
}

// Close закрывает пул соединений
func Close(orm *gorm.DB) error {
	if orm == nil {
		return nil
	}
	sqlDB, err := orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
