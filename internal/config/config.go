// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the environment-driven configuration recognized by
// the ingest-to-answer pipeline (spec §6), with an optional
// .repograph/config.yaml override file read before environment variables,
// mirroring the layered config the rest of the example pack uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment/config option the pipeline recognizes.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	MaxZipMB           int64 `mapstructure:"max_zip_mb"`
	MaxFiles           int   `mapstructure:"max_files"`
	MaxTotalUnzippedMB int64 `mapstructure:"max_total_unzipped_mb"`
	MaxSnippetChars    int   `mapstructure:"max_snippet_chars"`

	MaxAttempts int `mapstructure:"max_attempts"`

	EnableEmbeddings  bool   `mapstructure:"enable_embeddings"`
	EmbedMaxRetries   int    `mapstructure:"embed_max_retries"`
	EmbedBackoffBase  int    `mapstructure:"embed_backoff_base_sec"`
	EmbedBackoffMax   int    `mapstructure:"embed_backoff_max_sec"`
	EmbedTimeoutSec   int    `mapstructure:"embed_timeout_sec"`
	EmbedModel        string `mapstructure:"embed_model"`
	EmbedDimensions   int    `mapstructure:"embed_dimensions"`
	EmbedProviderURL  string `mapstructure:"embed_provider_url"`
	EmbedAPIKey       string `mapstructure:"embed_api_key"`

	ChatModel       string `mapstructure:"chat_model"`
	ChatTimeoutSec  int    `mapstructure:"chat_timeout_sec"`
	ChatProviderURL string `mapstructure:"chat_provider_url"`
	ChatAPIKey      string `mapstructure:"chat_api_key"`

	TopK int `mapstructure:"top_k"`

	GraphStoreURL string `mapstructure:"graph_store_url"`

	JobDBDSN   string `mapstructure:"job_db_dsn"`
	HTTPAddr   string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	DebugEnv bool `mapstructure:"debug_env"`
}

// EmbedBackoffBaseDuration returns EmbedBackoffBase as a time.Duration.
func (c Config) EmbedBackoffBaseDuration() time.Duration {
	return time.Duration(c.EmbedBackoffBase) * time.Second
}

// EmbedBackoffMaxDuration returns EmbedBackoffMax as a time.Duration.
func (c Config) EmbedBackoffMaxDuration() time.Duration {
	return time.Duration(c.EmbedBackoffMax) * time.Second
}

// EmbedTimeout returns EmbedTimeoutSec as a time.Duration.
func (c Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

// ChatTimeout returns ChatTimeoutSec as a time.Duration.
func (c Config) ChatTimeout() time.Duration {
	return time.Duration(c.ChatTimeoutSec) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("max_zip_mb", 256)
	v.SetDefault("max_files", 20000)
	v.SetDefault("max_total_unzipped_mb", 1024)
	v.SetDefault("max_snippet_chars", 2000)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("enable_embeddings", true)
	v.SetDefault("embed_max_retries", 8)
	v.SetDefault("embed_backoff_base_sec", 1)
	v.SetDefault("embed_backoff_max_sec", 30)
	v.SetDefault("embed_timeout_sec", 30)
	v.SetDefault("embed_model", "text-embedding-3-small")
	v.SetDefault("embed_dimensions", 1536)
	v.SetDefault("embed_provider_url", "")
	v.SetDefault("embed_api_key", "")
	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("chat_timeout_sec", 30)
	v.SetDefault("chat_provider_url", "")
	v.SetDefault("chat_api_key", "")
	v.SetDefault("top_k", 10)
	v.SetDefault("graph_store_url", "")
	v.SetDefault("job_db_dsn", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("debug_env", false)
}

// envKeys lists every environment variable spec §6 recognizes, mapped to
// its mapstructure field name. Bound explicitly because Load does not enable
// AutomaticEnv, so only the names listed here are read from the environment.
var envKeys = map[string]string{
	"DATA_DIR":                 "data_dir",
	"MAX_ZIP_MB":               "max_zip_mb",
	"MAX_FILES":                "max_files",
	"MAX_TOTAL_UNZIPPED_MB":    "max_total_unzipped_mb",
	"MAX_SNIPPET_CHARS":        "max_snippet_chars",
	"MAX_ATTEMPTS":             "max_attempts",
	"ENABLE_EMBEDDINGS":        "enable_embeddings",
	"EMBED_MAX_RETRIES":        "embed_max_retries",
	"EMBED_BACKOFF_BASE_SEC":   "embed_backoff_base_sec",
	"EMBED_BACKOFF_MAX_SEC":    "embed_backoff_max_sec",
	"EMBED_TIMEOUT_SEC":        "embed_timeout_sec",
	"EMBED_MODEL":              "embed_model",
	"EMBED_DIMENSIONS":         "embed_dimensions",
	"EMBED_PROVIDER_URL":       "embed_provider_url",
	"EMBED_API_KEY":            "embed_api_key",
	"CHAT_MODEL":               "chat_model",
	"CHAT_TIMEOUT_SEC":         "chat_timeout_sec",
	"CHAT_PROVIDER_URL":        "chat_provider_url",
	"CHAT_API_KEY":             "chat_api_key",
	"TOP_K":                    "top_k",
	"GRAPH_STORE_URL":          "graph_store_url",
	"JOB_DB_DSN":               "job_db_dsn",
	"HTTP_ADDR":                "http_addr",
	"METRICS_ADDR":             "metrics_addr",
	"DEBUG_ENV":                "debug_env",
}

// Load builds a Config from (in increasing priority) built-in defaults, an
// optional .repograph/config.yaml file, and recognized environment
// variables. It never fails on a missing config file — only a malformed one.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./.repograph")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for env, key := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// String renders the config with secrets redacted, for startup logging.
func (c Config) String() string {
	redacted := c
	redacted.EmbedAPIKey = redact(c.EmbedAPIKey)
	redacted.ChatAPIKey = redact(c.ChatAPIKey)
	return fmt.Sprintf("%+v", redacted)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", len(s))
}
