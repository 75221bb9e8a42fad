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
	"errors"
	"testing"
)

// TestComputeItemHash tests the supported algorithms and the rejection of
// unknown ones.
func TestComputeItemHash(t *testing.T) {
	for _, alg := range []string{"", "xxhash", "md5", "sha256"} {
		h1, err := ComputeItemHash("hello world", alg)
		if err != nil {
			t.Fatalf("ComputeItemHash(%q) failed: %v", alg, err)
		}
		h2, err := ComputeItemHash("hello world", alg)
		if err != nil {
			t.Fatalf("ComputeItemHash(%q) failed: %v", alg, err)
		}
		if h1 != h2 {
			t.Errorf("Algorithm %q not deterministic: %q vs %q", alg, h1, h2)
		}
		if h1 == "" {
			t.Errorf("Algorithm %q produced empty hash", alg)
		}
	}

	if _, err := ComputeItemHash("text", "crc32"); err == nil {
		t.Error("Expected error for unsupported algorithm")
	}
	if _, err := ComputeItemHash("", ""); err == nil {
		t.Error("Expected error for empty text")
	}
}

// TestNormalizeItemText tests that case and whitespace differences normalize
// away before hashing.
func TestNormalizeItemText(t *testing.T) {
	a := &ContentItem{Title: "Hello World", Body: "Some   Body\n\ntext"}
	b := &ContentItem{Title: "hello world", Body: "some body text"}
	if NormalizeItemText(a) != NormalizeItemText(b) {
		t.Errorf("Expected identical normal forms, got %q vs %q",
			NormalizeItemText(a), NormalizeItemText(b))
	}
}

// TestDedupeExact tests register-before-return: the first occurrence passes
// and every later identical item is suppressed, including different casing.
func TestDedupeExact(t *testing.T) {
	d := NewDeduplicator()
	ctx := context.Background()

	item := &ContentItem{ID: "1", Title: "Go release notes"}
	dup, err := d.Dedupe(ctx, item)
	if err != nil {
		t.Fatalf("Dedupe failed: %v", err)
	}
	if dup {
		t.Error("First occurrence flagged as duplicate")
	}

	sameText := &ContentItem{ID: "2", Title: "GO   Release Notes"}
	dup, err = d.Dedupe(ctx, sameText)
	if err != nil {
		t.Fatalf("Dedupe failed: %v", err)
	}
	if !dup {
		t.Error("Expected normalized-identical item to be a duplicate")
	}

	if d.Seen() != 1 {
		t.Errorf("Expected 1 accepted item, got %d", d.Seen())
	}
}

// TestDedupeEmptyText tests that items with no text always pass.
func TestDedupeEmptyText(t *testing.T) {
	d := NewDeduplicator()
	for i := 0; i < 2; i++ {
		dup, err := d.Dedupe(context.Background(), &ContentItem{ID: "x"})
		if err != nil {
			t.Fatalf("Dedupe failed: %v", err)
		}
		if dup {
			t.Error("Textless item flagged as duplicate")
		}
	}
}

// TestDedupeReset tests that Reset starts a fresh run.
func TestDedupeReset(t *testing.T) {
	d := NewDeduplicator()
	item := &ContentItem{Title: "once"}
	if dup, _ := d.Dedupe(context.Background(), item); dup {
		t.Fatal("First occurrence flagged as duplicate")
	}
	d.Reset()
	if dup, _ := d.Dedupe(context.Background(), item); dup {
		t.Error("Expected no duplicate after reset")
	}
}

// fixedEmbedder returns a canned vector per text, for near-duplicate tests.
type fixedEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

// TestDedupeNearDuplicate tests cosine-similarity suppression at the 0.95
// threshold.
func TestDedupeNearDuplicate(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{
		"go 1.25 released today":    {1, 0, 0},
		"go 1.25 shipped today":     {0.999, 0.04, 0},
		"rust 2026 edition preview": {0, 1, 0},
	}}
	d := NewDeduplicator(WithEmbedder(emb, 0))
	ctx := context.Background()

	if dup, err := d.Dedupe(ctx, &ContentItem{Title: "Go 1.25 released today"}); err != nil || dup {
		t.Fatalf("First item: dup=%v err=%v", dup, err)
	}
	// Different hash, nearly identical vector: suppressed.
	dup, err := d.Dedupe(ctx, &ContentItem{Title: "Go 1.25 shipped today"})
	if err != nil {
		t.Fatalf("Dedupe failed: %v", err)
	}
	if !dup {
		t.Error("Expected near-duplicate to be suppressed")
	}
	// Orthogonal vector: accepted.
	dup, err = d.Dedupe(ctx, &ContentItem{Title: "Rust 2026 edition preview"})
	if err != nil {
		t.Fatalf("Dedupe failed: %v", err)
	}
	if dup {
		t.Error("Unrelated item suppressed as near-duplicate")
	}
}

// TestDedupeEmbedderFailure tests that embedding errors degrade to hash-only
// deduplication instead of blocking items.
func TestDedupeEmbedderFailure(t *testing.T) {
	emb := &fixedEmbedder{err: errors.New("embedding service down")}
	d := NewDeduplicator(WithEmbedder(emb, 0))
	ctx := context.Background()

	if dup, err := d.Dedupe(ctx, &ContentItem{Title: "first"}); err != nil || dup {
		t.Fatalf("Expected degraded accept, got dup=%v err=%v", dup, err)
	}
	if dup, err := d.Dedupe(ctx, &ContentItem{Title: "first"}); err != nil || !dup {
		t.Fatalf("Expected exact-hash suppression, got dup=%v err=%v", dup, err)
	}
}

// TestCosineSimilarity tests the similarity edge cases.
func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("Identical vectors: expected 1, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("Orthogonal vectors: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("Mismatched lengths: expected 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Errorf("Zero vector: expected 0, got %v", got)
	}
}
