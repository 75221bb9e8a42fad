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

package omnisweep

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var dedupeWhitespace = regexp.MustCompile(`\s+`)

// NormalizeItemText produces the canonical form of an item's text used for
// content hashing: lowercased title+body with whitespace collapsed, so
// formatting-only differences between sources hash identically.
func NormalizeItemText(item *ContentItem) string {
	text := strings.ToLower(item.Text())
	return dedupeWhitespace.ReplaceAllString(strings.TrimSpace(text), " ")
}

// ComputeItemHash hashes the normalized text using the named algorithm.
// xxhash is the fastest and the default.
func ComputeItemHash(text string, algorithm string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("text is empty")
	}
	switch strings.ToLower(algorithm) {
	case "xxhash", "":
		return fmt.Sprintf("%016x", xxhash.Sum64String(text)), nil
	case "md5":
		hash := md5.Sum([]byte(text))
		return hex.EncodeToString(hash[:]), nil
	case "sha256":
		hash := sha256.Sum256([]byte(text))
		return hex.EncodeToString(hash[:]), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s (supported: xxhash, md5, sha256)", algorithm)
	}
}

// Embedder maps text to a dense vector for near-duplicate detection. The
// engine ships no model; callers plug in whatever embedding service they run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Deduplicator suppresses exact and near-duplicate items within one
// collection run. It is scoped to a run, not global, so memory stays bounded
// and test runs stay isolated. Safe for concurrent use.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	vectors   [][]float64
	embedder  Embedder
	threshold float64
	algorithm string
}

// DedupeOption configures a Deduplicator.
type DedupeOption func(*Deduplicator)

// WithEmbedder enables near-duplicate suppression by embedding similarity.
// threshold is the minimum cosine similarity to call two items duplicates;
// zero means the default 0.95.
func WithEmbedder(e Embedder, threshold float64) DedupeOption {
	return func(d *Deduplicator) {
		d.embedder = e
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// WithHashAlgorithm selects the content hash algorithm (xxhash, md5, sha256).
func WithHashAlgorithm(algorithm string) DedupeOption {
	return func(d *Deduplicator) {
		d.algorithm = algorithm
	}
}

// NewDeduplicator creates a run-scoped Deduplicator. Without an embedder only
// exact-hash deduplication runs.
func NewDeduplicator(opts ...DedupeOption) *Deduplicator {
	d := &Deduplicator{
		seen:      make(map[string]struct{}),
		threshold: 0.95,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dedupe reports whether item is a duplicate of a previously accepted item.
// Accepting an item registers its hash (and embedding, if computed) before
// returning, so two identical items processed back to back never both pass.
// Embedding failures degrade to exact-hash only rather than blocking items.
func (d *Deduplicator) Dedupe(ctx context.Context, item *ContentItem) (bool, error) {
	text := NormalizeItemText(item)
	if text == "" {
		// Items with no text cannot be meaningfully compared; let them pass.
		return false, nil
	}
	hash, err := ComputeItemHash(text, d.algorithm)
	if err != nil {
		return false, err
	}

	var vec []float64
	if d.embedder != nil {
		vec, err = d.embedder.Embed(ctx, text)
		if err != nil {
			vec = nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[hash]; ok {
		return true, nil
	}
	if vec != nil {
		for _, prev := range d.vectors {
			if cosineSimilarity(vec, prev) >= d.threshold {
				return true, nil
			}
		}
	}

	d.seen[hash] = struct{}{}
	if vec != nil {
		d.vectors = append(d.vectors, vec)
	}
	return false, nil
}

// Seen returns how many distinct items have been accepted.
func (d *Deduplicator) Seen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset clears all dedup state, starting a fresh run.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
	d.vectors = nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
