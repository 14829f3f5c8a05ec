package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionEntry is one key-value row. Values are always JSON documents.
type SessionEntry struct {
	Key       string         `gorm:"primaryKey;size:255"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (SessionEntry) TableName() string {
	return "session_entries"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the session_entries table.
func (g *GormStore) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&SessionEntry{})
}

func (g *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry SessionEntry
	if err := g.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return []byte(entry.Value), nil
}

func (g *GormStore) Set(ctx context.Context, key string, value []byte) error {
	entry := SessionEntry{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now(),
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

func (g *GormStore) Delete(ctx context.Context, key string) error {
	return g.db.WithContext(ctx).Where("key = ?", key).Delete(&SessionEntry{}).Error
}

// Keys returns the keys that start with prefix byte for byte. LIKE wildcards
// in prefix are escaped and sqlite's case-insensitive LIKE is filtered out.
func (g *GormStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var rows []string
	if err := g.db.WithContext(ctx).
		Model(&SessionEntry{}).
		Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &rows).Error; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, key := range rows {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
