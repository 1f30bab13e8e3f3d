package services

import (
	"context"
	"fmt"
	"log"

	"feedsync/db"
	"feedsync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBookmarkStore хранит оверлей закладок в таблице bookmarks
type GormBookmarkStore struct {
	orm *gorm.DB
}

func NewGormBookmarkStore(orm *gorm.DB) *GormBookmarkStore {
	return &GormBookmarkStore{orm: orm}
}

func (g *GormBookmarkStore) Load(ctx context.Context) IDSet {
	var ids []int64
	err := db.GetReadOnlyDB(ctx, g.orm).
		Model(&models.Bookmark{}).
		Order("post_id").
		Pluck("post_id", &ids).Error
	if err != nil {
		log.Printf("Warning: failed to load bookmarks, treating as empty: %v", err)
		return NewIDSet()
	}
	return NewIDSet(ids...)
}

// Save перезаписывает множество целиком в одной транзакции
func (g *GormBookmarkStore) Save(ctx context.Context, ids IDSet) error {
	err := db.GetWriteDB(ctx, g.orm).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Bookmark{}).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		rows := make([]models.Bookmark, 0, len(ids))
		for _, id := range ids.Slice() {
			rows = append(rows, models.Bookmark{PostID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save bookmarks: %w", err)
	}
	return nil
}
