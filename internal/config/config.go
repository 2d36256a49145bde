// Copyright (c) 2026 John Earle
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

// Package config loads configuration from .env, config.yaml and environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jobtrail/mailsync/internal/auth"
	"github.com/jobtrail/mailsync/internal/classify"
	"github.com/jobtrail/mailsync/internal/extract"
)

const defaultConfigPath = "config.yaml"

// Mail providers.
const (
	ProviderGraph = "graph"
	ProviderIMAP  = "imap"
)

// Config holds all configuration for the sync service.
type Config struct {
	// Provider is graph or imap.
	Provider string

	// Microsoft identity platform
	TenantID     string
	ClientID     string
	ClientSecret string
	AuthMode     string
	Scopes       []string

	// TokenCache is none, keyring or file. Device code mode only.
	TokenCache           string
	TokenCacheDir        string
	TokenCachePassphrase string

	IMAP IMAPConfig

	// Mailbox is "me" for the signed-in user or a user principal name.
	Mailbox string

	// DatabaseURL is a postgres:// URL or a SQLite file path.
	DatabaseURL string

	GraphBaseURL string
	PageSize     int

	// Redis (optional). When empty, runs are not leased and no events are
	// published.
	RedisURL    string
	LockTTL     time.Duration
	EventsQueue string

	// SyncInterval of 0 means run once and exit.
	SyncInterval time.Duration

	// Server (health check only). 0 disables it.
	Port int

	LogLevel  string
	LogFormat string

	ClassifierRules   []classify.Rule
	ExtractorPatterns extract.PatternSources
}

// IMAPConfig holds the IMAP account used when Provider is imap.
type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	Folder   string
	Insecure bool
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Provider string `yaml:"provider"`
	Auth     struct {
		TenantID     string   `yaml:"tenant_id"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Mode         string   `yaml:"mode"`
		Scopes       []string `yaml:"scopes"`
		TokenCache   struct {
			Backend    string `yaml:"backend"`
			Dir        string `yaml:"dir"`
			Passphrase string `yaml:"passphrase"`
		} `yaml:"token_cache"`
	} `yaml:"auth"`
	IMAP struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Folder   string `yaml:"folder"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"imap"`
	Mailbox  string `yaml:"mailbox"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Graph struct {
		BaseURL  string `yaml:"base_url"`
		PageSize int    `yaml:"page_size"`
	} `yaml:"graph"`
	Redis struct {
		URL         string `yaml:"url"`
		LockTTL     string `yaml:"lock_ttl"`
		EventsQueue string `yaml:"events_queue"`
	} `yaml:"redis"`
	Sync struct {
		Interval string `yaml:"interval"`
	} `yaml:"sync"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Classifier struct {
		Rules []classify.Rule `yaml:"rules"`
	} `yaml:"classifier"`
	Extractor struct {
		Patterns extract.PatternSources `yaml:"patterns"`
	} `yaml:"extractor"`
}

// Load reads .env (if present), then the YAML file (with env var expansion),
// then environment overrides, and validates the result.
//
// path selects the YAML file; when empty, CONFIG_PATH is used, falling back
// to config.yaml. Only the implicit default may be missing.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := true
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
		explicit = false
	}

	var raw rawConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// optional default file
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var errs []error
	cfg := &Config{
		Provider:     envOr("PROVIDER", raw.Provider, ProviderGraph),
		TenantID:     envOr("TENANT_ID", raw.Auth.TenantID, ""),
		ClientID:     envOr("CLIENT_ID", raw.Auth.ClientID, ""),
		ClientSecret: envOr("CLIENT_SECRET", raw.Auth.ClientSecret, ""),
		AuthMode:     envOr("AUTH_MODE", raw.Auth.Mode, auth.ModeDeviceCode),
		Scopes:       raw.Auth.Scopes,

		TokenCache:           envOr("TOKEN_CACHE", raw.Auth.TokenCache.Backend, auth.CacheNone),
		TokenCacheDir:        envOr("TOKEN_CACHE_DIR", raw.Auth.TokenCache.Dir, "~/.config/mailsync/credentials"),
		TokenCachePassphrase: envOr("TOKEN_CACHE_PASSPHRASE", raw.Auth.TokenCache.Passphrase, "mailsync-file-key"),

		IMAP: IMAPConfig{
			Addr:     envOr("IMAP_ADDR", raw.IMAP.Addr, ""),
			Username: envOr("IMAP_USERNAME", raw.IMAP.Username, ""),
			Password: envOr("IMAP_PASSWORD", raw.IMAP.Password, ""),
			Folder:   envOr("IMAP_FOLDER", raw.IMAP.Folder, "INBOX"),
			Insecure: envOrBool("IMAP_INSECURE", raw.IMAP.Insecure, &errs),
		},

		Mailbox:      envOr("MAILBOX_USER", raw.Mailbox, "me"),
		DatabaseURL:  envOr("DATABASE_URL", firstNonEmpty(os.Getenv("DB_PATH"), raw.Database.URL), "job_tracker.db"),
		GraphBaseURL: envOr("GRAPH_BASE_URL", raw.Graph.BaseURL, "https://graph.microsoft.com/v1.0"),
		PageSize:     envOrInt("PAGE_SIZE", raw.Graph.PageSize, 50, &errs),
		RedisURL:     envOr("REDIS_URL", raw.Redis.URL, ""),
		LockTTL:      envOrDuration("LOCK_TTL", raw.Redis.LockTTL, 10*time.Minute, &errs),
		EventsQueue:  envOr("EVENTS_QUEUE", raw.Redis.EventsQueue, "job_status_events"),
		SyncInterval: envOrDuration("SYNC_INTERVAL", raw.Sync.Interval, 0, &errs),
		Port:         envOrInt("PORT", raw.Server.Port, 0, &errs),
		LogLevel:     envOr("LOG_LEVEL", raw.Log.Level, "info"),
		LogFormat:    envOr("LOG_FORMAT", raw.Log.Format, "json"),

		ClassifierRules:   raw.Classifier.Rules,
		ExtractorPatterns: raw.Extractor.Patterns,
	}
	if len(cfg.ClassifierRules) == 0 {
		cfg.ClassifierRules = classify.DefaultRules()
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGraph:
		errs = append(errs, c.validateGraph()...)
	case ProviderIMAP:
		if c.IMAP.Addr == "" || c.IMAP.Username == "" || c.IMAP.Password == "" {
			errs = append(errs, errors.New("IMAP_ADDR, IMAP_USERNAME and IMAP_PASSWORD must be set for the imap provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.SyncInterval < 0 {
		errs = append(errs, fmt.Errorf("sync interval must not be negative, got %s", c.SyncInterval))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.LogFormat))
	}
	if _, err := c.Classifier(); err != nil {
		errs = append(errs, fmt.Errorf("classifier rules: %w", err))
	}
	if _, err := c.Extractor(); err != nil {
		errs = append(errs, fmt.Errorf("extractor patterns: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) validateGraph() []error {
	var errs []error
	if c.TenantID == "" || c.ClientID == "" {
		errs = append(errs, errors.New("TENANT_ID and CLIENT_ID must be set in config, environment or .env file"))
	}
	switch c.AuthMode {
	case auth.ModeDeviceCode:
	case auth.ModeClientCredentials:
		if c.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("CLIENT_SECRET is required for %s auth", auth.ModeClientCredentials))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.AuthMode))
	}
	switch c.TokenCache {
	case auth.CacheNone, auth.CacheKeyring, auth.CacheFile:
	default:
		errs = append(errs, fmt.Errorf("unknown token cache %q", c.TokenCache))
	}
	return errs
}

// Classifier builds the configured classifier.
func (c *Config) Classifier() (*classify.Classifier, error) {
	return classify.New(c.ClassifierRules)
}

// Extractor builds the configured extractor.
func (c *Config) Extractor() (*extract.Extractor, error) {
	p, err := c.ExtractorPatterns.Compile()
	if err != nil {
		return nil, err
	}
	return extract.New(p)
}

// AuthConfig returns the credential settings for auth.HTTPClient.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Mode:         c.AuthMode,
		TenantID:     c.TenantID,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
	}
}

func envOr(key, fromFile, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return firstNonEmpty(strings.TrimSpace(fromFile), fallback)
}

func envOrInt(key string, fromFile, fallback int, errs *[]error) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return fallback
		}
		return n
	}
	if fromFile != 0 {
		return fromFile
	}
	return fallback
}

func envOrBool(key string, fromFile bool, errs *[]error) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return fromFile
		}
		return b
	}
	return fromFile
}

func envOrDuration(key, fromFile string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = strings.TrimSpace(fromFile)
	}
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
