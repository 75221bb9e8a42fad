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
	"regexp"
	"sort"
	"strings"

	"github.com/kennygrant/sanitize"
)

// ReplyNode is an InteractionNode placed in its reply tree, with derived
// annotations attached.
type ReplyNode struct {
	InteractionNode
	Children  []*ReplyNode `json:"children,omitempty"`
	Sentiment string       `json:"sentiment,omitempty"`
	Mentions  []string     `json:"mentions,omitempty"`
	Hashtags  []string     `json:"hashtags,omitempty"`
}

// ThreadSummary aggregates a reply forest: counts, sentiment distribution
// and the most frequent keywords and authors.
type ThreadSummary struct {
	TotalCount  int            `json:"total_count"`
	ByType      map[string]int `json:"by_type"`
	Sentiment   map[string]int `json:"sentiment"`
	TopKeywords []CountedEntry `json:"top_keywords,omitempty"`
	TopAuthors  []CountedEntry `json:"top_authors,omitempty"`
}

// CountedEntry is a name with an occurrence count, ordered most frequent
// first in summary listings.
type CountedEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var (
	mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)
	hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	wordPattern    = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// Small sentiment lexicons. Deliberately coarse: the engine only needs a
// rough positive/negative/neutral split for the summary distribution.
var (
	positiveWords = wordSet("good", "great", "love", "awesome", "amazing",
		"excellent", "best", "nice", "helpful", "thanks", "thank", "perfect",
		"wonderful", "useful", "recommend", "beautiful", "cool", "like")
	negativeWords = wordSet("bad", "terrible", "hate", "awful", "worst",
		"useless", "broken", "scam", "fake", "disappointing", "poor", "waste",
		"horrible", "wrong", "annoying", "spam")
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// CleanText strips markup and collapses whitespace in scraped comment text.
func CleanText(text string) string {
	cleaned := sanitize.HTML(text)
	return dedupeWhitespace.ReplaceAllString(strings.TrimSpace(cleaned), " ")
}

// ClassifySentiment labels text positive, negative or neutral by lexicon
// vote.
func ClassifySentiment(text string) string {
	var pos, neg int
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}

// ExtractMentions returns the @-mentions in text, in order, without the
// leading marker.
func ExtractMentions(text string) []string {
	return extractMarked(mentionPattern, text)
}

// ExtractHashtags returns the #-hashtags in text, in order, without the
// leading marker.
func ExtractHashtags(text string) []string {
	return extractMarked(hashtagPattern, text)
}

func extractMarked(pattern *regexp.Regexp, text string) []string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// BuildTree assembles flat interaction nodes into a reply forest.
//
// A node attaches to its parent only when the parent appeared earlier in the
// input; otherwise it becomes a root. Nodes whose parent is absent from the
// batch are kept as roots rather than discarded, since scraped threads
// routinely arrive with missing ancestors. Because attachment is strictly
// parent-before-child in one pass, the output can never contain a cycle.
// Each node is annotated with sentiment, mentions and hashtags as it is
// placed.
func BuildTree(nodes []InteractionNode) []*ReplyNode {
	placed := make(map[string]*ReplyNode, len(nodes))
	var roots []*ReplyNode
	for _, n := range nodes {
		rn := &ReplyNode{
			InteractionNode: n,
			Sentiment:       ClassifySentiment(n.Text),
			Mentions:        ExtractMentions(n.Text),
			Hashtags:        ExtractHashtags(n.Text),
		}
		parent := placed[n.ParentID]
		if n.ParentID == "" || parent == nil || n.ParentID == n.ID {
			roots = append(roots, rn)
		} else {
			parent.Children = append(parent.Children, rn)
		}
		if n.ID != "" {
			if _, dup := placed[n.ID]; !dup {
				placed[n.ID] = rn
			}
		}
	}
	return roots
}

// Summarize walks a reply forest and aggregates counts, sentiment
// distribution and the top keywords and authors. Pure function, no side
// effects on the forest. topN bounds the keyword and author listings; zero
// means 10.
func Summarize(forest []*ReplyNode, topN int) *ThreadSummary {
	if topN <= 0 {
		topN = 10
	}
	s := &ThreadSummary{
		ByType:    make(map[string]int),
		Sentiment: make(map[string]int),
	}
	keywords := make(map[string]int)
	authors := make(map[string]int)

	var walk func(nodes []*ReplyNode)
	walk = func(nodes []*ReplyNode) {
		for _, n := range nodes {
			s.TotalCount++
			typ := n.Type
			if typ == "" {
				typ = "comment"
			}
			s.ByType[typ]++
			s.Sentiment[n.Sentiment]++
			if name := n.Author.Name; name != "" {
				authors[name]++
			} else if n.Author.ID != "" {
				authors[n.Author.ID]++
			}
			for _, w := range wordPattern.FindAllString(strings.ToLower(n.Text), -1) {
				if len(w) < 3 {
					continue
				}
				keywords[w]++
			}
			walk(n.Children)
		}
	}
	walk(forest)

	s.TopKeywords = topEntries(keywords, topN)
	s.TopAuthors = topEntries(authors, topN)
	return s
}

// topEntries orders counts descending, ties broken alphabetically so the
// output is deterministic.
func topEntries(counts map[string]int, n int) []CountedEntry {
	entries := make([]CountedEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, CountedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// EngagementQuality scores how actively an item's audience engages relative
// to its like count, in [0,1]. Collect rate carries the most weight since
// bookmarking signals stronger intent than liking. Returns 0 when the item
// has no likes, avoiding division artifacts on fresh or dead posts.
func EngagementQuality(item *ContentItem) float64 {
	likes := float64(item.Engagement.Likes)
	if likes == 0 {
		return 0
	}
	collectRate := float64(item.Engagement.Collects) / likes
	commentRate := float64(item.Engagement.Comments) / likes
	shareRate := float64(item.Engagement.Shares) / likes

	score := clamp01(collectRate*2)*0.4 +
		clamp01(commentRate*5)*0.3 +
		clamp01(shareRate*10)*0.3
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
