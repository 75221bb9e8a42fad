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
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	whatwgUrl "github.com/nlnwa/whatwg-url/url"
	"golang.org/x/net/html"
)

var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// NormalizeURL resolves ref against base and returns the canonical absolute
// URL. base may be empty when ref is already absolute.
func NormalizeURL(base, ref string) (string, error) {
	if base == "" {
		u, err := urlParser.Parse(ref)
		if err != nil {
			return "", err
		}
		return u.Href(false), nil
	}
	u, err := urlParser.ParseRef(base, ref)
	if err != nil {
		return "", err
	}
	return u.Href(false), nil
}

// FieldSelector locates one field inside a document or element. Exactly one
// of CSS or XPath should be set; Attr names an attribute to read instead of
// the element text.
type FieldSelector struct {
	CSS   string `json:"css,omitempty"`
	XPath string `json:"xpath,omitempty"`
	Attr  string `json:"attr,omitempty"`
}

// IsZero reports whether the selector is unset.
func (fs FieldSelector) IsZero() bool {
	return fs.CSS == "" && fs.XPath == ""
}

// ItemSelectors maps ContentItem fields to selectors, evaluated relative to
// each matched container.
type ItemSelectors struct {
	Container   FieldSelector `json:"container"`
	Title       FieldSelector `json:"title,omitempty"`
	Body        FieldSelector `json:"body,omitempty"`
	URL         FieldSelector `json:"url,omitempty"`
	AuthorID    FieldSelector `json:"author_id,omitempty"`
	AuthorName  FieldSelector `json:"author_name,omitempty"`
	Likes       FieldSelector `json:"likes,omitempty"`
	Collects    FieldSelector `json:"collects,omitempty"`
	Comments    FieldSelector `json:"comments,omitempty"`
	Shares      FieldSelector `json:"shares,omitempty"`
	Tags        FieldSelector `json:"tags,omitempty"`
	PublishedAt FieldSelector `json:"published_at,omitempty"`
}

// ProfileSelectors maps Profile fields to selectors, evaluated against the
// whole profile page.
type ProfileSelectors struct {
	UserID    FieldSelector `json:"user_id,omitempty"`
	Name      FieldSelector `json:"name,omitempty"`
	Bio       FieldSelector `json:"bio,omitempty"`
	Followers FieldSelector `json:"followers,omitempty"`
	Following FieldSelector `json:"following,omitempty"`
	PostCount FieldSelector `json:"post_count,omitempty"`
}

func (ps ProfileSelectors) usesXPath() bool {
	for _, fs := range []FieldSelector{ps.UserID, ps.Name, ps.Bio, ps.Followers, ps.Following, ps.PostCount} {
		if fs.XPath != "" {
			return true
		}
	}
	return false
}

// CommentSelectors maps InteractionNode fields to selectors.
type CommentSelectors struct {
	Container  FieldSelector `json:"container"`
	ID         FieldSelector `json:"id,omitempty"`
	Text       FieldSelector `json:"text,omitempty"`
	AuthorID   FieldSelector `json:"author_id,omitempty"`
	AuthorName FieldSelector `json:"author_name,omitempty"`
	Likes      FieldSelector `json:"likes,omitempty"`
	ParentID   FieldSelector `json:"parent_id,omitempty"`
	Timestamp  FieldSelector `json:"timestamp,omitempty"`
}

// SelectorConfig is a pure-data description of how to collect from one
// HTML-rendered source. URL templates use {query}, {userId} and {postId}
// placeholders. A source whose template for an operation is empty does not
// support that operation. Configs are typically loaded from JSON, so new
// sources ship without code changes.
type SelectorConfig struct {
	SourceID string `json:"source_id"`
	BaseURL  string `json:"base_url"`

	SearchURL   string `json:"search_url,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
	PostsURL    string `json:"posts_url,omitempty"`
	DetailURL   string `json:"detail_url,omitempty"`
	CommentsURL string `json:"comments_url,omitempty"`

	ItemType    ItemType         `json:"item_type,omitempty"`
	Item        ItemSelectors    `json:"item"`
	Comment     CommentSelectors `json:"comment,omitempty"`
	Profile     ProfileSelectors `json:"profile,omitempty"`
	TimeLayouts []string         `json:"time_layouts,omitempty"`
}

// Capabilities derives the capability bitset from which URL templates are
// configured.
func (sc *SelectorConfig) Capabilities() Capability {
	var c Capability
	if sc.SearchURL != "" {
		c |= CapSearch
	}
	if sc.ProfileURL != "" {
		c |= CapProfile
	}
	if sc.PostsURL != "" {
		c |= CapPosts
	}
	if sc.DetailURL != "" {
		c |= CapPostDetail
	}
	if sc.CommentsURL != "" {
		c |= CapComments
	}
	return c
}

func expandTemplate(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// selectText evaluates fs against a goquery selection (CSS) or an html node
// (XPath). Returns "" when the field is absent.
func selectText(sel *goquery.Selection, node *html.Node, fs FieldSelector) string {
	if fs.CSS != "" && sel != nil {
		target := sel.Find(fs.CSS).First()
		if target.Length() == 0 {
			return ""
		}
		if fs.Attr != "" {
			v, _ := target.Attr(fs.Attr)
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(target.Text())
	}
	if fs.XPath != "" && node != nil {
		found := htmlquery.FindOne(node, fs.XPath)
		if found == nil {
			return ""
		}
		if fs.Attr != "" {
			return strings.TrimSpace(htmlquery.SelectAttr(found, fs.Attr))
		}
		return strings.TrimSpace(htmlquery.InnerText(found))
	}
	return ""
}

// ParseCount parses engagement counters as sources render them: plain
// integers, "1.2k", "3.4m", and the CJK 万 (1e4) and 亿 (1e8) suffixes.
// Unparseable text yields 0.
func ParseCount(text string) int64 {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if text == "" {
		return 0
	}
	mult := 1.0
	lower := strings.ToLower(text)
	switch {
	case strings.HasSuffix(lower, "k"):
		mult, lower = 1e3, strings.TrimSuffix(lower, "k")
	case strings.HasSuffix(lower, "m"):
		mult, lower = 1e6, strings.TrimSuffix(lower, "m")
	case strings.HasSuffix(lower, "w"), strings.HasSuffix(lower, "万"):
		mult = 1e4
		lower = strings.TrimSuffix(strings.TrimSuffix(lower, "w"), "万")
	case strings.HasSuffix(lower, "亿"):
		mult, lower = 1e8, strings.TrimSuffix(lower, "亿")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(lower), 64)
	if err != nil {
		return 0
	}
	return int64(v * mult)
}

func parseItemTime(text string, layouts []string) time.Time {
	if text == "" {
		return time.Time{}
	}
	if len(layouts) == 0 {
		layouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}
	// Epoch seconds, common on API-ish payloads embedded in markup.
	if secs, err := strconv.ParseInt(text, 10, 64); err == nil && secs > 1e9 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// ExtractItems pulls ContentItems out of an HTML document per the config.
// Per-item anomalies are skipped, never fatal: one malformed card must not
// abort the page.
func (sc *SelectorConfig) ExtractItems(pageURL string, body []byte) ([]*ContentItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	var xdoc *html.Node
	if sc.usesXPath() {
		xdoc, err = htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
		}
	}

	var items []*ContentItem
	appendItem := func(sel *goquery.Selection, node *html.Node) {
		item := sc.extractOne(pageURL, sel, node)
		if item != nil {
			items = append(items, item)
		}
	}
	if sc.Item.Container.CSS != "" {
		doc.Find(sc.Item.Container.CSS).Each(func(_ int, sel *goquery.Selection) {
			appendItem(sel, nil)
		})
	} else if sc.Item.Container.XPath != "" && xdoc != nil {
		for _, node := range htmlquery.Find(xdoc, sc.Item.Container.XPath) {
			appendItem(nil, node)
		}
	} else {
		appendItem(doc.Selection, xdoc)
	}
	return items, nil
}

func (sc *SelectorConfig) usesXPath() bool {
	return sc.Item.Container.XPath != "" || sc.Comment.Container.XPath != ""
}

func (sc *SelectorConfig) extractOne(pageURL string, sel *goquery.Selection, node *html.Node) *ContentItem {
	item := &ContentItem{
		SourceID: sc.SourceID,
		Type:     sc.ItemType,
	}
	if item.Type == "" {
		item.Type = ItemPost
	}
	item.Title = selectText(sel, node, sc.Item.Title)
	item.Body = selectText(sel, node, sc.Item.Body)
	if item.Title == "" && item.Body == "" {
		return nil
	}

	if raw := selectText(sel, node, sc.Item.URL); raw != "" {
		if abs, err := NormalizeURL(pageURL, raw); err == nil {
			item.URL = abs
		}
	}
	item.Author = AuthorRef{
		ID:   selectText(sel, node, sc.Item.AuthorID),
		Name: selectText(sel, node, sc.Item.AuthorName),
	}
	item.Engagement = Engagement{
		Likes:    ParseCount(selectText(sel, node, sc.Item.Likes)),
		Collects: ParseCount(selectText(sel, node, sc.Item.Collects)),
		Comments: ParseCount(selectText(sel, node, sc.Item.Comments)),
		Shares:   ParseCount(selectText(sel, node, sc.Item.Shares)),
	}
	item.PublishedAt = parseItemTime(selectText(sel, node, sc.Item.PublishedAt), sc.TimeLayouts)
	if tags := selectText(sel, node, sc.Item.Tags); tags != "" {
		for _, t := range strings.Fields(tags) {
			item.Tags = append(item.Tags, strings.TrimPrefix(t, "#"))
		}
	}
	if item.ID == "" {
		item.ID = itemFallbackID(item)
	}
	return item
}

// itemFallbackID derives a stable id for sources that expose none.
func itemFallbackID(item *ContentItem) string {
	if item.URL != "" {
		return item.URL
	}
	hash, err := ComputeItemHash(NormalizeItemText(item), "")
	if err != nil {
		return ""
	}
	return hash
}

// ExtractProfile pulls a Profile out of an HTML document per the config.
// userID is the looked-up id; a configured UserID selector overrides it when
// the page exposes a canonical one.
func (sc *SelectorConfig) ExtractProfile(userID string, body []byte) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	var xdoc *html.Node
	if sc.Profile.usesXPath() {
		xdoc, err = htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parsing profile: %w", err)
		}
	}

	sel := doc.Selection
	profile := &Profile{
		SourceID:  sc.SourceID,
		UserID:    userID,
		Name:      selectText(sel, xdoc, sc.Profile.Name),
		Bio:       selectText(sel, xdoc, sc.Profile.Bio),
		Followers: ParseCount(selectText(sel, xdoc, sc.Profile.Followers)),
		Following: ParseCount(selectText(sel, xdoc, sc.Profile.Following)),
		PostCount: ParseCount(selectText(sel, xdoc, sc.Profile.PostCount)),
	}
	if id := selectText(sel, xdoc, sc.Profile.UserID); id != "" {
		profile.UserID = id
	}
	if profile.Name == "" && profile.Bio == "" {
		return nil, fmt.Errorf("profile %q: no content extracted", userID)
	}
	return profile, nil
}

// ExtractComments pulls InteractionNodes out of an HTML document per the
// config.
func (sc *SelectorConfig) ExtractComments(body []byte) ([]InteractionNode, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing comments: %w", err)
	}
	var xdoc *html.Node
	if sc.Comment.Container.XPath != "" {
		xdoc, err = htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parsing comments: %w", err)
		}
	}

	var nodes []InteractionNode
	appendNode := func(sel *goquery.Selection, node *html.Node) {
		text := selectText(sel, node, sc.Comment.Text)
		if text == "" {
			return
		}
		nodes = append(nodes, InteractionNode{
			ID:   selectText(sel, node, sc.Comment.ID),
			Type: "comment",
			Author: AuthorRef{
				ID:   selectText(sel, node, sc.Comment.AuthorID),
				Name: selectText(sel, node, sc.Comment.AuthorName),
			},
			Text:      CleanText(text),
			Likes:     ParseCount(selectText(sel, node, sc.Comment.Likes)),
			ParentID:  selectText(sel, node, sc.Comment.ParentID),
			Timestamp: parseItemTime(selectText(sel, node, sc.Comment.Timestamp), sc.TimeLayouts),
		})
	}
	if sc.Comment.Container.CSS != "" {
		doc.Find(sc.Comment.Container.CSS).Each(func(_ int, sel *goquery.Selection) {
			appendNode(sel, nil)
		})
	} else if sc.Comment.Container.XPath != "" && xdoc != nil {
		for _, node := range htmlquery.Find(xdoc, sc.Comment.Container.XPath) {
			appendNode(nil, node)
		}
	}
	return nodes, nil
}

// ConfiguredStrategy is the generic selector-driven SourceStrategy: it
// fetches the configured URL templates and extracts with the config's
// selectors. Sources needing signing, browser interaction or bespoke paging
// implement SourceStrategy directly instead.
type ConfiguredStrategy struct {
	UnsupportedStrategy
	cfg     *SelectorConfig
	fetcher *Fetcher
}

// NewConfiguredStrategy builds a strategy from a selector config and the
// task's fetcher.
func NewConfiguredStrategy(cfg *SelectorConfig, fetcher *Fetcher) (*ConfiguredStrategy, error) {
	if cfg.SourceID == "" {
		return nil, fmt.Errorf("selector config missing source_id")
	}
	if cfg.Capabilities() == 0 {
		return nil, fmt.Errorf("selector config for %q enables no operations", cfg.SourceID)
	}
	return &ConfiguredStrategy{cfg: cfg, fetcher: fetcher}, nil
}

// ConfiguredFactory adapts a selector config into a StrategyFactory for
// registry use.
func ConfiguredFactory(cfg *SelectorConfig) StrategyFactory {
	return func(env *StrategyEnv) (SourceStrategy, error) {
		return NewConfiguredStrategy(cfg, env.Fetcher)
	}
}

func (cs *ConfiguredStrategy) SourceID() string {
	return cs.cfg.SourceID
}

func (cs *ConfiguredStrategy) Capabilities() Capability {
	return cs.cfg.Capabilities()
}

func (cs *ConfiguredStrategy) fetchItems(ctx context.Context, tmpl string, vars map[string]string, maxResults int) ([]*ContentItem, error) {
	pageURL := expandTemplate(tmpl, vars)
	resp, err := cs.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	items, err := cs.cfg.ExtractItems(pageURL, resp.Body)
	if err != nil {
		return nil, err
	}
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}

func (cs *ConfiguredStrategy) Search(ctx context.Context, query string, maxResults int, _ *MatchCriteria) ([]*ContentItem, error) {
	if cs.cfg.SearchURL == "" {
		return nil, ErrUnsupportedMode
	}
	return cs.fetchItems(ctx, cs.cfg.SearchURL, map[string]string{"query": query}, maxResults)
}

func (cs *ConfiguredStrategy) GetPosts(ctx context.Context, userID string, maxResults int, _ *MatchCriteria) ([]*ContentItem, error) {
	if cs.cfg.PostsURL == "" {
		return nil, ErrUnsupportedMode
	}
	return cs.fetchItems(ctx, cs.cfg.PostsURL, map[string]string{"userId": userID}, maxResults)
}

func (cs *ConfiguredStrategy) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if cs.cfg.ProfileURL == "" {
		return nil, ErrUnsupportedMode
	}
	pageURL := expandTemplate(cs.cfg.ProfileURL, map[string]string{"userId": userID})
	resp, err := cs.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return cs.cfg.ExtractProfile(userID, resp.Body)
}

func (cs *ConfiguredStrategy) GetPostDetail(ctx context.Context, postID string) (*ContentItem, error) {
	if cs.cfg.DetailURL == "" {
		return nil, ErrUnsupportedMode
	}
	items, err := cs.fetchItems(ctx, cs.cfg.DetailURL, map[string]string{"postId": postID}, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("post %q: no content extracted", postID)
	}
	item := items[0]
	item.ID = postID
	return item, nil
}

func (cs *ConfiguredStrategy) GetComments(ctx context.Context, postID string, maxResults int, includeReplies bool) ([]InteractionNode, error) {
	if cs.cfg.CommentsURL == "" {
		return nil, ErrUnsupportedMode
	}
	pageURL := expandTemplate(cs.cfg.CommentsURL, map[string]string{"postId": postID})
	resp, err := cs.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	nodes, err := cs.cfg.ExtractComments(resp.Body)
	if err != nil {
		return nil, err
	}
	if !includeReplies {
		topLevel := nodes[:0]
		for _, n := range nodes {
			if n.ParentID == "" {
				topLevel = append(topLevel, n)
			}
		}
		nodes = topLevel
	}
	if maxResults > 0 && len(nodes) > maxResults {
		nodes = nodes[:maxResults]
	}
	return nodes, nil
}
