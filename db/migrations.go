package db

import (
	"errors"
	"fmt"

	"feedsync/models"

	"gorm.io/gorm"
)

const bookmarksMigration = "0001_create_bookmarks"

// Migrate создает таблицы оверлея и отмечает примененную миграцию
func Migrate(orm *gorm.DB) error {
	if err := orm.AutoMigrate(&models.Migration{}, &models.Bookmark{}); err != nil {
		return fmt.Errorf("failed to migrate bookmarks schema: %w", err)
	}

	var applied models.Migration
	err := orm.Where("name = ?", bookmarksMigration).First(&applied).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	if err := orm.Create(&models.Migration{Name: bookmarksMigration}).Error; err != nil {
		return fmt.Errorf("failed to record migration %s: %w", bookmarksMigration, err)
	}
	return nil
}
