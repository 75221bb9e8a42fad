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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords(sourceID string, n int) []Record {
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{
			ItemID:      sourceID + "-item",
			SourceID:    sourceID,
			Type:        "post",
			Title:       "title",
			URL:         "https://example.com/p",
			Score:       0.8,
			PublishedAt: time.Now().UTC(),
			Payload:     []byte(`{"id":"x"}`),
		})
	}
	return records
}

func sampleMeta(taskID string) CollectionMeta {
	now := time.Now().UTC()
	return CollectionMeta{
		TaskID:     taskID,
		Mode:       "search",
		Query:      "go",
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}
}

// TestInMemoryStore tests save, retrieval and statistics of the in-memory
// store.
func TestInMemoryStore(t *testing.T) {
	store := &InMemoryStore{}
	require.NoError(t, store.Init())

	id1, err := store.SaveCollection("s1", sampleRecords("s1", 3), sampleMeta("t1"))
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	id2, err := store.SaveCollection("s2", sampleRecords("s2", 2), sampleMeta("t2"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	records := store.Records(id1)
	require.Len(t, records, 3)
	assert.Equal(t, "s1", records[0].SourceID)
	assert.Nil(t, store.Records("no-such-collection"))

	all, err := store.Statistics("")
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Collections)
	assert.Equal(t, int64(5), all.Items)
	assert.Equal(t, int64(3), all.BySource["s1"])
	assert.Equal(t, int64(2), all.BySource["s2"])

	only, err := store.Statistics("s2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), only.Collections)
	assert.Equal(t, int64(2), only.Items)

	require.NoError(t, store.Close())
}

// TestSQLiteStoreRoundtrip tests that collections persist across store
// instances on the same database file.
func TestSQLiteStoreRoundtrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Init())

	_, err = store.SaveCollection("s1", sampleRecords("s1", 4), sampleMeta("t1"))
	require.NoError(t, err)
	_, err = store.SaveCollection("s1", nil, sampleMeta("t2"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Statistics("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Collections)
	assert.Equal(t, int64(4), stats.Items)
	assert.Equal(t, int64(4), stats.BySource["s1"])
}

// TestSQLiteStoreMissingDir tests the guard on a nonexistent parent
// directory.
func TestSQLiteStoreMissingDir(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "test.db"))
	require.Error(t, err)
}

// TestSQLiteStoreStatisticsFilter tests per-source filtering across sources.
func TestSQLiteStoreStatisticsFilter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SaveCollection("s1", sampleRecords("s1", 2), sampleMeta("t1"))
	require.NoError(t, err)
	_, err = store.SaveCollection("s2", sampleRecords("s2", 1), sampleMeta("t2"))
	require.NoError(t, err)

	s1, err := store.Statistics("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s1.Collections)
	assert.Equal(t, int64(2), s1.Items)
	_, ok := s1.BySource["s2"]
	assert.False(t, ok)
}
