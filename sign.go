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
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultMixinTable is the permutation applied to the concatenated key
// fragments. It is configuration, not a guaranteed-correct algorithm: sources
// rotate their tables, so validate against live traffic before relying on it.
var DefaultMixinTable = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// Fallback key fragments used when no live fetch has succeeded yet.
const (
	defaultImgKey = "7cd084941338484aae1ad9425b84077c"
	defaultSubKey = "4932caff0ff746eab6f01bf08b70ac45"
)

// KeyFetchFunc retrieves the two rotating secret fragments from the source.
type KeyFetchFunc func(ctx context.Context) (imgKey, subKey string, err error)

// Signer computes deterministic request signatures for sources that require
// signed parameters. Key material is derived by interleaving two rotating
// secret fragments according to a fixed permutation table, combined with the
// sorted-and-encoded request parameters plus a timestamp, then hashed.
//
// Given identical parameters, keys and timestamp the signature is
// reproducible bit for bit — this is the only part of the engine requiring
// byte-exact behavior. Key material refreshes on a fixed interval rather
// than per call.
type Signer struct {
	mu        sync.Mutex
	table     []int
	imgKey    string
	subKey    string
	updatedAt time.Time

	// RefreshInterval is how long fetched keys stay fresh. Default 1h.
	RefreshInterval time.Duration
	// FetchKeys retrieves live key fragments. When nil, or on fetch error,
	// the signer falls back to the built-in defaults.
	FetchKeys KeyFetchFunc
}

// NewSigner builds a signer with the given permutation table; nil means
// DefaultMixinTable.
func NewSigner(table []int) *Signer {
	if table == nil {
		table = DefaultMixinTable
	}
	return &Signer{
		table:           table,
		RefreshInterval: time.Hour,
	}
}

// MixinKey interleaves the concatenated fragments through the permutation
// table and truncates to 32 characters.
func (s *Signer) MixinKey(imgKey, subKey string) string {
	orig := imgKey + subKey
	buf := make([]byte, 0, 32)
	for _, idx := range s.table {
		if idx < len(orig) {
			buf = append(buf, orig[idx])
		}
		if len(buf) == 32 {
			break
		}
	}
	return string(buf)
}

// Keys returns the current key fragments, refreshing through FetchKeys when
// the cached pair is older than RefreshInterval. Fetch failures fall back to
// the last known pair, or the built-in defaults.
func (s *Signer) Keys(ctx context.Context) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.imgKey != "" && time.Since(s.updatedAt) < s.RefreshInterval {
		return s.imgKey, s.subKey
	}
	if s.FetchKeys != nil {
		if img, sub, err := s.FetchKeys(ctx); err == nil && img != "" && sub != "" {
			s.imgKey, s.subKey = img, sub
			s.updatedAt = time.Now()
			return img, sub
		}
	}
	if s.imgKey == "" {
		s.imgKey, s.subKey = defaultImgKey, defaultSubKey
		s.updatedAt = time.Now()
	}
	return s.imgKey, s.subKey
}

// SetKeys installs key fragments directly, for tests and manual operation.
func (s *Signer) SetKeys(imgKey, subKey string) {
	s.mu.Lock()
	s.imgKey, s.subKey = imgKey, subKey
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// SignAt signs params with the given timestamp: adds wts, sorts and encodes
// the parameters, hashes them with the mixin key and adds the signature as
// w_rid. The input values are not mutated.
func (s *Signer) SignAt(ctx context.Context, params url.Values, at time.Time) url.Values {
	imgKey, subKey := s.Keys(ctx)
	mixin := s.MixinKey(imgKey, subKey)

	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	signed.Set("wts", strconv.FormatInt(at.Unix(), 10))

	// url.Values.Encode sorts by key, which is exactly the required
	// canonical ordering.
	query := signed.Encode()
	sum := md5.Sum([]byte(query + mixin))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}

// Sign is SignAt with the current time.
func (s *Signer) Sign(ctx context.Context, params url.Values) url.Values {
	return s.SignAt(ctx, params, time.Now())
}

// SignURL signs the query string of rawURL in place.
func (s *Signer) SignURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	u.RawQuery = s.Sign(ctx, u.Query()).Encode()
	return u.String(), nil
}
