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

// Package storage persists collection results. The engine hands storage
// plain records with the full item JSON attached, so the schema never chases
// the item shape. The default Store is the InMemoryStore; production runs
// use the SQLite-backed store.
package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one accepted item, flattened for indexing plus the full item
// payload as JSON.
type Record struct {
	ItemID      string
	SourceID    string
	Type        string
	Title       string
	URL         string
	Score       float64
	PublishedAt time.Time
	Payload     []byte
}

// CollectionMeta describes the run that produced a batch of records.
type CollectionMeta struct {
	TaskID     string
	Mode       string
	Query      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stats aggregates persisted counts, optionally filtered by source.
type Stats struct {
	Collections int64
	Items       int64
	BySource    map[string]int64
}

// Store is the persistence contract the pipeline writes through. It must
// tolerate concurrent SaveCollection calls from multiple tasks.
type Store interface {
	// Init initializes the storage
	Init() error
	// SaveCollection persists one batch of records with its metadata and
	// returns the new collection id.
	SaveCollection(sourceID string, records []Record, meta CollectionMeta) (string, error)
	// Statistics returns persisted counts; an empty sourceID means all
	// sources.
	Statistics(sourceID string) (Stats, error)
	// Close releases the underlying resources.
	Close() error
}

type memCollection struct {
	id       string
	sourceID string
	meta     CollectionMeta
	records  []Record
}

// InMemoryStore keeps collections in memory without persisting to disk.
// It serves tests and one-shot CLI runs where durability does not matter.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections []memCollection
}

// Init implements Store.Init()
func (s *InMemoryStore) Init() error {
	return nil
}

// SaveCollection implements Store.SaveCollection()
func (s *InMemoryStore) SaveCollection(sourceID string, records []Record, meta CollectionMeta) (string, error) {
	id := uuid.NewString()
	recs := make([]Record, len(records))
	copy(recs, records)
	s.mu.Lock()
	s.collections = append(s.collections, memCollection{
		id:       id,
		sourceID: sourceID,
		meta:     meta,
		records:  recs,
	})
	s.mu.Unlock()
	return id, nil
}

// Statistics implements Store.Statistics()
func (s *InMemoryStore) Statistics(sourceID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{BySource: make(map[string]int64)}
	for _, c := range s.collections {
		if sourceID != "" && c.sourceID != sourceID {
			continue
		}
		stats.Collections++
		stats.Items += int64(len(c.records))
		stats.BySource[c.sourceID] += int64(len(c.records))
	}
	return stats, nil
}

// Records returns the records of a stored collection, for tests and the CLI.
func (s *InMemoryStore) Records(collectionID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.collections {
		if c.id == collectionID {
			out := make([]Record, len(c.records))
			copy(out, c.records)
			return out
		}
	}
	return nil
}

// Close implements Store.Close()
func (s *InMemoryStore) Close() error {
	return nil
}
