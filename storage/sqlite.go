// Copyright 2025 Agentic World, LLC (Sherin Thomas)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Collection is one persisted collection run.
type Collection struct {
	ID         string `gorm:"primaryKey"`
	SourceID   string `gorm:"index"`
	TaskID     string `gorm:"index"`
	Mode       string
	Query      string
	StartedAt  time.Time
	FinishedAt time.Time
	ItemCount  int
	CreatedAt  time.Time
}

// Item is one persisted record within a collection.
type Item struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	CollectionID string `gorm:"index"`
	ItemID       string `gorm:"index"`
	SourceID     string `gorm:"index"`
	Type         string
	Title        string
	URL          string
	Score        float64
	PublishedAt  time.Time
	Payload      []byte
	CreatedAt    time.Time
}

// SQLiteStore persists collections in a SQLite database via GORM.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates the
// schema. The parent directory must exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbDir := filepath.Dir(dbPath)
	if _, err := os.Stat(dbDir); err != nil {
		return nil, fmt.Errorf("database directory does not exist: %s, error: %v", dbDir, err)
	}

	// WAL mode enables concurrent reads and writes; busy_timeout prevents
	// immediate "database is locked" errors when tasks save concurrently.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(0)

	if err := database.AutoMigrate(&Collection{}, &Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return &SQLiteStore{db: database}, nil
}

// Init implements Store.Init()
func (s *SQLiteStore) Init() error {
	return nil
}

// SaveCollection implements Store.SaveCollection(). The collection row and
// its items are written in one transaction so a crashed save never leaves a
// half-written batch.
func (s *SQLiteStore) SaveCollection(sourceID string, records []Record, meta CollectionMeta) (string, error) {
	id := uuid.NewString()
	coll := Collection{
		ID:         id,
		SourceID:   sourceID,
		TaskID:     meta.TaskID,
		Mode:       meta.Mode,
		Query:      meta.Query,
		StartedAt:  meta.StartedAt,
		FinishedAt: meta.FinishedAt,
		ItemCount:  len(records),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&coll).Error; err != nil {
			return err
		}
		for _, r := range records {
			item := Item{
				CollectionID: id,
				ItemID:       r.ItemID,
				SourceID:     r.SourceID,
				Type:         r.Type,
				Title:        r.Title,
				URL:          r.URL,
				Score:        r.Score,
				PublishedAt:  r.PublishedAt,
				Payload:      r.Payload,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to save collection: %v", err)
	}
	return id, nil
}

// Statistics implements Store.Statistics()
func (s *SQLiteStore) Statistics(sourceID string) (Stats, error) {
	stats := Stats{BySource: make(map[string]int64)}

	collQuery := s.db.Model(&Collection{})
	itemQuery := s.db.Model(&Item{})
	if sourceID != "" {
		collQuery = collQuery.Where("source_id = ?", sourceID)
		itemQuery = itemQuery.Where("source_id = ?", sourceID)
	}
	if err := collQuery.Count(&stats.Collections).Error; err != nil {
		return stats, fmt.Errorf("failed to count collections: %v", err)
	}
	if err := itemQuery.Count(&stats.Items).Error; err != nil {
		return stats, fmt.Errorf("failed to count items: %v", err)
	}

	type sourceCount struct {
		SourceID string
		N        int64
	}
	var counts []sourceCount
	q := s.db.Model(&Item{}).Select("source_id, count(*) as n").Group("source_id")
	if sourceID != "" {
		q = q.Where("source_id = ?", sourceID)
	}
	if err := q.Scan(&counts).Error; err != nil {
		return stats, fmt.Errorf("failed to count by source: %v", err)
	}
	for _, c := range counts {
		stats.BySource[c.SourceID] = c.N
	}
	return stats, nil
}

// Close implements Store.Close()
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
