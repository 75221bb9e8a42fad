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
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omnisweep/omnisweep"
	"github.com/omnisweep/omnisweep/storage"
)

var (
	flagCredentialDir string
	flagDatabasePath  string
	flagEnvFile       string
	flagVerbose       bool
)

func main() {
	root := &cobra.Command{
		Use:   "omnisweep",
		Short: "Resilient content collection engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagEnvFile != "" {
				if err := godotenv.Load(flagEnvFile); err != nil {
					return fmt.Errorf("loading env file: %w", err)
				}
			} else {
				// Best effort; a missing .env is fine.
				_ = godotenv.Load()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagCredentialDir, "credentials-dir", defaultDir("credentials"), "directory for credential pool files")
	root.PersistentFlags().StringVar(&flagDatabasePath, "db", defaultDir("omnisweep.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "env file to load before reading OMNISWEEP_* variables")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log every collection event")

	root.AddCommand(newCollectCmd())
	root.AddCommand(newCredentialsCmd())
	root.AddCommand(newStatsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultDir places engine state under ~/.omnisweep.
func defaultDir(name string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(homeDir, ".omnisweep", name)
}

// loadConfig builds the engine config from flags and environment.
func loadConfig() *omnisweep.Config {
	return omnisweep.NewConfig(&omnisweep.Config{
		CredentialDir: flagCredentialDir,
		DatabasePath:  flagDatabasePath,
	})
}

// openStore opens the SQLite store, creating the state directory first.
func openStore(cfg *omnisweep.Config) (storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return storage.NewSQLiteStore(cfg.DatabasePath)
}

// openPool creates the credential pool and loads the persisted pool for
// sourceID when one exists.
func openPool(cfg *omnisweep.Config, sourceID string) (*omnisweep.CredentialPool, error) {
	if err := os.MkdirAll(cfg.CredentialDir, 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	pool := omnisweep.NewCredentialPool(cfg.CredentialDir)
	if sourceID != "" {
		if err := pool.Load(sourceID); err != nil {
			log.Printf("no stored credentials for %s: %v", sourceID, err)
		}
	}
	return pool, nil
}
