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
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted collection counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Statistics(source)
			if err != nil {
				return err
			}
			fmt.Printf("collections: %d\nitems: %d\n", stats.Collections, stats.Items)
			if len(stats.BySource) > 0 {
				sources := make([]string, 0, len(stats.BySource))
				for id := range stats.BySource {
					sources = append(sources, id)
				}
				sort.Strings(sources)
				fmt.Println("by source:")
				for _, id := range sources {
					fmt.Printf("  %s: %d\n", id, stats.BySource[id])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "restrict to one source id")
	return cmd
}
