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
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omnisweep/omnisweep"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the credential pool",
	}
	cmd.AddCommand(newCredentialsImportCmd())
	cmd.AddCommand(newCredentialsListCmd())
	return cmd
}

func newCredentialsImportCmd() *cobra.Command {
	var (
		source string
		file   string
		domain string
		owner  string
		api    bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a cookie set or API credential",
		Long: `Import reads a JSON file: a list of cookie entries, a flat
{name: value} map (requires --domain), or with --api an API credential
object {sourceId, authType, token, expiresAt?, owner?}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			pool, err := openPool(cfg, source)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading credential file: %w", err)
			}

			var cred *omnisweep.CredentialSet
			switch {
			case api:
				var imp omnisweep.APICredentialImport
				if err := json.Unmarshal(data, &imp); err != nil {
					return fmt.Errorf("parsing API credential: %w", err)
				}
				if imp.Owner == "" {
					imp.Owner = owner
				}
				if imp.SourceID == "" {
					imp.SourceID = source
				}
				cred, err = pool.ImportAPICredential(imp)
			default:
				var entries []omnisweep.CookieEntry
				if jerr := json.Unmarshal(data, &entries); jerr == nil {
					cred, err = pool.ImportCookieSet(source, entries, owner)
				} else {
					var flat map[string]string
					if merr := json.Unmarshal(data, &flat); merr != nil {
						return fmt.Errorf("parsing cookie file: %w", jerr)
					}
					if domain == "" {
						return fmt.Errorf("a flat cookie map requires --domain")
					}
					cred, err = pool.ImportCookieMap(source, flat, domain, owner)
				}
			}
			if err != nil {
				return fmt.Errorf("importing credential: %w", err)
			}

			if err := pool.Save(cred.SourceID); err != nil {
				return fmt.Errorf("saving credential pool: %w", err)
			}
			fmt.Printf("imported credential %s for %s\n", cred.ID, cred.SourceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id the credential belongs to")
	cmd.Flags().StringVar(&file, "file", "", "JSON file to import")
	cmd.Flags().StringVar(&domain, "domain", "", "cookie domain for flat {name: value} maps")
	cmd.Flags().StringVar(&owner, "owner", "", "owner to associate with the credential")
	cmd.Flags().BoolVar(&api, "api", false, "treat the file as an API credential")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newCredentialsListCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show pool statistics per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			pool, err := openPool(cfg, source)
			if err != nil {
				return err
			}

			stats := pool.Statistics()
			if len(stats) == 0 {
				fmt.Println("no credentials stored")
				return nil
			}
			sources := make([]string, 0, len(stats))
			for id := range stats {
				sources = append(sources, id)
			}
			sort.Strings(sources)
			for _, id := range sources {
				s := stats[id]
				fmt.Printf("%s: %d sets (%d valid)", id, s.TotalSets, s.ValidSets)
				if len(s.Owners) > 0 {
					fmt.Printf(", owners: %v", s.Owners)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "load only this source's pool")
	return cmd
}
