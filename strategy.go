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
	"fmt"
	"sort"
	"sync"
)

// Capability is a bitset of the operations a source strategy implements.
type Capability uint8

const (
	CapSearch Capability = 1 << iota
	CapProfile
	CapPosts
	CapPostDetail
	CapComments
)

// Has reports whether c includes want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// SourceStrategy is the pluggable per-source contract the pipeline drives.
// Implementations return the normalized types; they never persist, match or
// dedupe — those stay in the pipeline. Calls must surface failures through
// the engine's error taxonomy (AuthInvalidError, RateLimitedError,
// ChallengePresentedError, TransientError) so the retry loop can react.
//
// Calls on one strategy instance are sequential: the pipeline runs one task
// per session and never shares an instance across tasks.
type SourceStrategy interface {
	// SourceID identifies the source this strategy collects from.
	SourceID() string
	// Capabilities reports which operations the strategy supports. Calling
	// an unsupported operation returns ErrUnsupportedMode.
	Capabilities() Capability

	Search(ctx context.Context, query string, maxResults int, criteria *MatchCriteria) ([]*ContentItem, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	GetPosts(ctx context.Context, userID string, maxResults int, criteria *MatchCriteria) ([]*ContentItem, error)
	GetPostDetail(ctx context.Context, postID string) (*ContentItem, error)
	GetComments(ctx context.Context, postID string, maxResults int, includeReplies bool) ([]InteractionNode, error)
}

// StrategyEnv is the per-task environment a factory builds a strategy from.
// The pipeline populates it after acquiring a credential and preparing the
// evasion context; fields a strategy does not need stay nil.
type StrategyEnv struct {
	SourceID   string
	Fetcher    *Fetcher
	Page       Page
	Credential *CredentialSet
	Evasion    *EvasionLayer
	Signer     *Signer
}

// StrategyFactory constructs a strategy bound to one task's environment.
type StrategyFactory func(env *StrategyEnv) (SourceStrategy, error)

// StrategyRegistry maps source ids to strategy factories. Registration
// normally happens at startup; lookup happens per task. Safe for concurrent
// use.
type StrategyRegistry struct {
	mu        sync.RWMutex
	factories map[string]StrategyFactory
}

// NewStrategyRegistry creates an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{factories: make(map[string]StrategyFactory)}
}

// Register adds a factory for sourceID, replacing any previous one.
func (r *StrategyRegistry) Register(sourceID string, factory StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sourceID] = factory
}

// New builds a strategy for sourceID bound to env. Unknown sources return
// ErrUnknownSource.
func (r *StrategyRegistry) New(sourceID string, env *StrategyEnv) (SourceStrategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[sourceID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %q: %w", sourceID, ErrUnknownSource)
	}
	return factory(env)
}

// Sources lists the registered source ids, sorted.
func (r *StrategyRegistry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UnsupportedStrategy provides ErrUnsupportedMode stubs for the operations a
// strategy does not implement. Embed it and override what the source
// supports.
type UnsupportedStrategy struct{}

func (UnsupportedStrategy) Search(context.Context, string, int, *MatchCriteria) ([]*ContentItem, error) {
	return nil, ErrUnsupportedMode
}

func (UnsupportedStrategy) GetProfile(context.Context, string) (*Profile, error) {
	return nil, ErrUnsupportedMode
}

func (UnsupportedStrategy) GetPosts(context.Context, string, int, *MatchCriteria) ([]*ContentItem, error) {
	return nil, ErrUnsupportedMode
}

func (UnsupportedStrategy) GetPostDetail(context.Context, string) (*ContentItem, error) {
	return nil, ErrUnsupportedMode
}

func (UnsupportedStrategy) GetComments(context.Context, string, int, bool) ([]InteractionNode, error) {
	return nil, ErrUnsupportedMode
}
