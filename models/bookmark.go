package models

import "time"

// Bookmark - строка оверлея закладок в SQL хранилище
type Bookmark struct {
	PostID    int64     `gorm:"primaryKey;autoIncrement:false" json:"post_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Bookmark) TableName() string {
	return "bookmarks"
}

type Migration struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:60;uniqueIndex" json:"name"`
	AppliedAt time.Time `gorm:"autoCreateTime" json:"applied_at"`
}
