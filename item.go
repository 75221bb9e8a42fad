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
	"encoding/json"
	"time"
)

// ItemType classifies a scraped unit.
type ItemType string

const (
	ItemPost    ItemType = "post"
	ItemVideo   ItemType = "video"
	ItemArticle ItemType = "article"
	ItemProduct ItemType = "product"
	ItemComment ItemType = "comment"
	ItemProfile ItemType = "profile"
)

// AuthorRef identifies the author of an item or interaction on its source.
type AuthorRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// Engagement holds the interaction counters a source reports for an item.
// Collects covers favourites/bookmarks on sources that have them.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Collects int64 `json:"collects"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Views    int64 `json:"views,omitempty"`
}

// ContentItem is one normalized scraped unit. Strategies produce these; the
// matcher, interaction processor and the persistence collaborator consume
// them. An item is immutable once matched — MatchScore, ClusterID and
// Sentiment are the only fields written after extraction.
type ContentItem struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id"`
	Type        ItemType        `json:"type"`
	Title       string          `json:"title,omitempty"`
	Body        string          `json:"body,omitempty"`
	URL         string          `json:"url,omitempty"`
	Author      AuthorRef       `json:"author"`
	Engagement  Engagement      `json:"engagement"`
	PublishedAt time.Time       `json:"published_at,omitzero"`
	Tags        []string        `json:"tags,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`

	// Derived fields, set by the matcher and interaction processor.
	MatchScore float64        `json:"match_score,omitempty"`
	ClusterID  string         `json:"cluster_id,omitempty"`
	Sentiment  string         `json:"sentiment,omitempty"`
	Comments   []*ReplyNode   `json:"comments,omitempty"`
	Summary    *ThreadSummary `json:"interaction_summary,omitempty"`
}

// Text returns the searchable text of the item (title + body), used by the
// matcher and the deduplicator.
func (ci *ContentItem) Text() string {
	if ci.Title == "" {
		return ci.Body
	}
	if ci.Body == "" {
		return ci.Title
	}
	return ci.Title + " " + ci.Body
}

// Profile is the normalized result of a profile lookup.
type Profile struct {
	SourceID  string          `json:"source_id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name,omitempty"`
	Bio       string          `json:"bio,omitempty"`
	Followers int64           `json:"followers"`
	Following int64           `json:"following"`
	PostCount int64           `json:"post_count"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// InteractionNode is one comment or reply as scraped: flat, with an optional
// parent id. The interaction processor reassembles these into a forest. A
// ParentID pointing at a node absent from the batch makes the node an orphan
// root; it is never dropped.
type InteractionNode struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Author    AuthorRef `json:"author"`
	Text      string    `json:"text"`
	Likes     int64     `json:"likes"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	ParentID  string    `json:"parent_id,omitempty"`
}

// MatchCriteria is the caller-supplied weighted predicate applied to every
// collected item. Pure value object; the matcher never mutates it.
type MatchCriteria struct {
	// Keywords are matched case-insensitively against title, body and tags.
	Keywords []string `json:"keywords,omitempty"`
	// RequiredTags must all be present on the item (hard reject).
	RequiredTags []string `json:"required_tags,omitempty"`
	// MinLikes below this like count the item is rejected outright.
	MinLikes int64 `json:"min_likes,omitempty"`
	// MinDate rejects items published before it outright.
	MinDate time.Time `json:"min_date,omitzero"`
	// RecencyWindow scores items higher the closer PublishedAt is to now.
	// Zero disables the recency sub-score.
	RecencyWindow time.Duration `json:"recency_window,omitempty"`
	// EngagementQuality enables the engagement-quality sub-score.
	EngagementQuality bool `json:"engagement_quality,omitempty"`
	// Threshold is the minimum weighted score for a match. Zero means the
	// default (0.3).
	Threshold float64 `json:"threshold,omitempty"`
}

// HasHardRejects reports whether any hard-reject predicate is configured.
func (mc *MatchCriteria) HasHardRejects() bool {
	return mc.MinLikes > 0 || !mc.MinDate.IsZero() || len(mc.RequiredTags) > 0
}
