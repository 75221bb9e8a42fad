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
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the engine-wide configuration. User configs are merged over the
// defaults: non-zero fields override, zero fields keep the default.
type Config struct {
	// Concurrency bounds simultaneous collection sessions. Each session
	// holds a browser or network context, so this is deliberately small.
	Concurrency int
	// QueueSize is the submit queue depth; Submit blocks when full.
	QueueSize int
	// TaskTimeout is the default wall-clock ceiling per task.
	TaskTimeout time.Duration
	// MaxRetries is the default retry budget per task.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration
	// CredentialDir is where credential pools persist as JSON. Empty
	// disables persistence.
	CredentialDir string
	// DatabasePath is the SQLite database location for the default store.
	DatabasePath string

	// Fetcher configures the HTTP path.
	Fetcher FetcherConfig
	// Evasion configures the anti-detection layer.
	Evasion EvasionConfig
	// Matcher configures scoring weights. Nil selects the defaults.
	Matcher *MatcherConfig
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Concurrency:    5,
		QueueSize:      64,
		TaskTimeout:    10 * time.Minute,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  2 * time.Minute,
		Fetcher: FetcherConfig{
			Timeout:       20 * time.Second,
			MaxBodySize:   10 * 1024 * 1024,
			DetectCharset: true,
		},
	}
}

// NewConfig merges user over the defaults and applies OMNISWEEP_* env
// overrides. A nil user yields the defaults.
func NewConfig(user *Config) *Config {
	cfg := NewDefaultConfig()
	if user != nil {
		mergeConfig(cfg, user)
	}
	cfg.parseSettingsFromEnv()
	return cfg
}

// mergeConfig copies non-zero fields of user over dst.
func mergeConfig(dst, user *Config) {
	if user.Concurrency != 0 {
		dst.Concurrency = user.Concurrency
	}
	if user.QueueSize != 0 {
		dst.QueueSize = user.QueueSize
	}
	if user.TaskTimeout != 0 {
		dst.TaskTimeout = user.TaskTimeout
	}
	if user.MaxRetries != 0 {
		dst.MaxRetries = user.MaxRetries
	}
	if user.RetryBaseDelay != 0 {
		dst.RetryBaseDelay = user.RetryBaseDelay
	}
	if user.RetryMaxDelay != 0 {
		dst.RetryMaxDelay = user.RetryMaxDelay
	}
	if user.CredentialDir != "" {
		dst.CredentialDir = user.CredentialDir
	}
	if user.DatabasePath != "" {
		dst.DatabasePath = user.DatabasePath
	}
	if user.Fetcher.Timeout != 0 {
		dst.Fetcher.Timeout = user.Fetcher.Timeout
	}
	if user.Fetcher.MaxBodySize != 0 {
		dst.Fetcher.MaxBodySize = user.Fetcher.MaxBodySize
	}
	if user.Fetcher.UserAgent != "" {
		dst.Fetcher.UserAgent = user.Fetcher.UserAgent
	}
	if user.Fetcher.RespectRobots {
		dst.Fetcher.RespectRobots = true
	}
	if user.Fetcher.PerHostRate != 0 {
		dst.Fetcher.PerHostRate = user.Fetcher.PerHostRate
	}
	if user.Fetcher.PerHostBurst != 0 {
		dst.Fetcher.PerHostBurst = user.Fetcher.PerHostBurst
	}
	if len(user.Evasion.RiskPhrases) > 0 {
		dst.Evasion.RiskPhrases = user.Evasion.RiskPhrases
	}
	if len(user.Evasion.RiskSelectors) > 0 {
		dst.Evasion.RiskSelectors = user.Evasion.RiskSelectors
	}
	if user.Evasion.RecoverWait != 0 {
		dst.Evasion.RecoverWait = user.Evasion.RecoverWait
	}
	if user.Evasion.SliderSelector != "" {
		dst.Evasion.SliderSelector = user.Evasion.SliderSelector
	}
	if user.Evasion.ScrollBudget != 0 {
		dst.Evasion.ScrollBudget = user.Evasion.ScrollBudget
	}
	if user.Evasion.ReadDelayMin != 0 {
		dst.Evasion.ReadDelayMin = user.Evasion.ReadDelayMin
	}
	if user.Evasion.ReadDelayMax != 0 {
		dst.Evasion.ReadDelayMax = user.Evasion.ReadDelayMax
	}
	if user.Matcher != nil {
		dst.Matcher = user.Matcher
	}
}

var envMap = map[string]func(*Config, string){
	"CONCURRENCY": func(c *Config, val string) {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Concurrency = n
		}
	},
	"QUEUE_SIZE": func(c *Config, val string) {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.QueueSize = n
		}
	},
	"TASK_TIMEOUT": func(c *Config, val string) {
		if d, err := time.ParseDuration(val); err == nil {
			c.TaskTimeout = d
		}
	},
	"MAX_RETRIES": func(c *Config, val string) {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.MaxRetries = n
		}
	},
	"CREDENTIAL_DIR": func(c *Config, val string) {
		c.CredentialDir = val
	},
	"DATABASE_PATH": func(c *Config, val string) {
		c.DatabasePath = val
	},
	"USER_AGENT": func(c *Config, val string) {
		c.Fetcher.UserAgent = val
	},
	"RESPECT_ROBOTS": func(c *Config, val string) {
		c.Fetcher.RespectRobots = isYesString(val)
	},
	"PER_HOST_RATE": func(c *Config, val string) {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			c.Fetcher.PerHostRate = f
		}
	},
}

func (c *Config) parseSettingsFromEnv() {
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "OMNISWEEP_") {
			continue
		}
		pair := strings.SplitN(e[10:], "=", 2)
		if f, ok := envMap[pair[0]]; ok {
			f(c, pair[1])
		} else {
			log.Println("Unknown environment variable:", pair[0])
		}
	}
}

func isYesString(s string) bool {
	switch strings.ToLower(s) {
	case "1", "yes", "true", "y":
		return true
	}
	return false
}
