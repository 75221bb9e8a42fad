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
	"strings"
	"time"
)

// DefaultMatchThreshold is the minimum weighted score for a match when the
// criteria do not set one.
const DefaultMatchThreshold = 0.3

// MatcherConfig sets the relative weight of each sub-score. Weights are
// normalized over the sub-scores a given criteria actually activates, so the
// final score stays in [0,1] regardless of which sub-scores apply.
type MatcherConfig struct {
	// KeywordWeight weighs keyword coverage across title, body and tags.
	KeywordWeight float64
	// RecencyWeight weighs closeness of PublishedAt to now, within the
	// criteria's recency window.
	RecencyWeight float64
	// EngagementWeight weighs the engagement-quality heuristic.
	EngagementWeight float64
	// Now is the clock used for recency scoring. Nil means time.Now;
	// tests substitute a fixed clock.
	Now func() time.Time
}

// NewDefaultMatcherConfig returns the standard weighting: keywords dominate,
// recency and engagement split the rest.
func NewDefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		KeywordWeight:    0.5,
		RecencyWeight:    0.25,
		EngagementWeight: 0.25,
		Now:              time.Now,
	}
}

// Matcher scores ContentItems against MatchCriteria. It is stateless and
// safe for concurrent use; deduplication state lives in Deduplicator.
type Matcher struct {
	cfg *MatcherConfig
}

// NewMatcher creates a Matcher. A nil config selects the defaults.
func NewMatcher(cfg *MatcherConfig) *Matcher {
	if cfg == nil {
		cfg = NewDefaultMatcherConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Matcher{cfg: cfg}
}

// Score evaluates item against criteria and returns whether it matches and
// its weighted score in [0,1].
//
// Hard-reject predicates (min likes, min date, required tags) short-circuit
// to (false, 0.0): a violated floor must not be outvoted by strong keyword
// matches, so it is never averaged into the weighted sum. The remaining
// sub-scores are weighted and normalized over whichever of them the criteria
// activate. An item matches when the score reaches the criteria's threshold
// (default 0.3).
func (m *Matcher) Score(item *ContentItem, criteria *MatchCriteria) (bool, float64) {
	if criteria == nil {
		return true, 1.0
	}

	if criteria.MinLikes > 0 && item.Engagement.Likes < criteria.MinLikes {
		return false, 0.0
	}
	if !criteria.MinDate.IsZero() && item.PublishedAt.Before(criteria.MinDate) {
		return false, 0.0
	}
	if len(criteria.RequiredTags) > 0 && !hasAllTags(item.Tags, criteria.RequiredTags) {
		return false, 0.0
	}

	var weightSum, scoreSum float64

	if len(criteria.Keywords) > 0 {
		weightSum += m.cfg.KeywordWeight
		scoreSum += m.cfg.KeywordWeight * keywordCoverage(item, criteria.Keywords)
	}
	if criteria.RecencyWindow > 0 {
		weightSum += m.cfg.RecencyWeight
		scoreSum += m.cfg.RecencyWeight * m.recencyScore(item, criteria.RecencyWindow)
	}
	if criteria.EngagementQuality {
		weightSum += m.cfg.EngagementWeight
		scoreSum += m.cfg.EngagementWeight * EngagementQuality(item)
	}

	// Only hard rejects configured: they all passed, so the item matches
	// with full score.
	if weightSum == 0 {
		return true, 1.0
	}

	score := scoreSum / weightSum
	threshold := criteria.Threshold
	if threshold == 0 {
		threshold = DefaultMatchThreshold
	}
	return score >= threshold, score
}

// keywordCoverage returns the fraction of keywords found case-insensitively
// in the item's title, body or tags.
func keywordCoverage(item *ContentItem, keywords []string) float64 {
	haystack := strings.ToLower(item.Text())
	for _, tag := range item.Tags {
		haystack += " " + strings.ToLower(tag)
	}
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			hits++
		}
	}
	if len(keywords) == 0 {
		return 0
	}
	return float64(hits) / float64(len(keywords))
}

// recencyScore is 1.0 for an item published now, decaying linearly to 0 at
// the far edge of the window. Items without a publish time score 0.
func (m *Matcher) recencyScore(item *ContentItem, window time.Duration) float64 {
	if item.PublishedAt.IsZero() {
		return 0
	}
	age := m.cfg.Now().Sub(item.PublishedAt)
	if age < 0 {
		age = 0
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[strings.ToLower(t)]; !ok {
			return false
		}
	}
	return true
}
