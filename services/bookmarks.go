package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// BookmarkOverlayStore - постоянное хранилище множества закладок.
// Load никогда не падает: отсутствующие или поврежденные данные - пустое множество.
type BookmarkOverlayStore interface {
	Load(ctx context.Context) IDSet
	Save(ctx context.Context, ids IDSet) error
}

// decodeBookmarks разбирает JSON массив id, как его хранил мобильный клиент.
// Любая ошибка разбора дает пустое множество.
func decodeBookmarks(raw []byte) IDSet {
	if len(raw) == 0 {
		return NewIDSet()
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		log.Printf("Warning: corrupt bookmark overlay, treating as empty: %v", err)
		return NewIDSet()
	}
	return NewIDSet(ids...)
}

func encodeBookmarks(ids IDSet) ([]byte, error) {
	data, err := json.Marshal(ids.Slice())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bookmarks: %w", err)
	}
	return data, nil
}

// MemoryBookmarkStore - хранилище без персистентности, для CLI режима без БД
type MemoryBookmarkStore struct {
	mu  sync.Mutex
	ids IDSet
	// FailSave позволяет эмулировать ошибку записи
	FailSave error
}

func NewMemoryBookmarkStore(ids ...int64) *MemoryBookmarkStore {
	return &MemoryBookmarkStore{ids: NewIDSet(ids...)}
}

func (m *MemoryBookmarkStore) Load(ctx context.Context) IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids.Clone()
}

func (m *MemoryBookmarkStore) Save(ctx context.Context, ids IDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.ids = ids.Clone()
	return nil
}
