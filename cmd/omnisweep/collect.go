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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/omnisweep/omnisweep"
	"github.com/omnisweep/omnisweep/debug"
)

func newCollectCmd() *cobra.Command {
	var (
		source         string
		mode           string
		target         string
		maxResults     int
		includeReplies bool
		keywords       []string
		requiredTags   []string
		minLikes       int64
		threshold      float64
		owner          string
		timeout        time.Duration
		configPath     string
		useBrowser     bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pool, err := openPool(cfg, source)
			if err != nil {
				return err
			}

			registry := omnisweep.NewStrategyRegistry()
			if configPath != "" {
				selectorCfg, err := loadSelectorConfig(configPath)
				if err != nil {
					return err
				}
				registry.Register(selectorCfg.SourceID, omnisweep.ConfiguredFactory(selectorCfg))
				if source == "" {
					source = selectorCfg.SourceID
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline, err := omnisweep.NewPipeline(ctx, cfg, registry, pool, store)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			if flagVerbose {
				pipeline.SetDebugger(&debug.LogDebugger{})
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				pipeline.SetMetrics(omnisweep.NewMetrics(reg))
				go serveMetrics(metricsAddr, reg)
			}
			if useBrowser {
				allocator := omnisweep.NewBrowserAllocator(0)
				defer allocator.Close()
				pipeline.SetBrowser(allocator)
			}

			task := omnisweep.NewCollectionTask(source, omnisweep.CollectionMode(mode), target)
			task.MaxResults = maxResults
			task.IncludeReplies = includeReplies
			task.Owner = owner
			task.Timeout = timeout
			if len(keywords) > 0 || len(requiredTags) > 0 || minLikes > 0 || threshold > 0 {
				task.Criteria = &omnisweep.MatchCriteria{
					Keywords:     keywords,
					RequiredTags: requiredTags,
					MinLikes:     minLikes,
					Threshold:    threshold,
				}
			}

			pipeline.Run(task)

			if err := pool.Save(source); err != nil {
				fmt.Fprintf(os.Stderr, "warning: saving credential pool: %v\n", err)
			}

			if task.State() != omnisweep.TaskSucceeded {
				return fmt.Errorf("task %s: %s: %v", task.ID, task.State(), task.Err())
			}
			collectionID, count := task.Result()
			fmt.Printf("collection %s: %d items\n", collectionID, count)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id to collect from")
	cmd.Flags().StringVar(&mode, "mode", "search", "operation: search, profile, posts, post_detail, comments")
	cmd.Flags().StringVar(&target, "target", "", "query, user id or post id, depending on mode")
	cmd.Flags().IntVar(&maxResults, "max-results", 50, "maximum items to collect")
	cmd.Flags().BoolVar(&includeReplies, "include-replies", false, "include nested replies in comments mode")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "keywords to match")
	cmd.Flags().StringSliceVar(&requiredTags, "require-tags", nil, "tags the item must carry")
	cmd.Flags().Int64Var(&minLikes, "min-likes", 0, "reject items with fewer likes")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum match score (default 0.3)")
	cmd.Flags().StringVar(&owner, "owner", "", "prefer credentials imported for this owner")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "task wall-clock ceiling")
	cmd.Flags().StringVar(&configPath, "config", "", "selector config JSON registering a source")
	cmd.Flags().BoolVar(&useBrowser, "browser", false, "start headless Chrome for browser-backed sources")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func loadSelectorConfig(path string) (*omnisweep.SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading selector config: %w", err)
	}
	var cfg omnisweep.SelectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing selector config: %w", err)
	}
	return &cfg, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
	}
}
