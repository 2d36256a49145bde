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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jobtrail/mailsync/internal/models"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "AUTH_MODE",
		"MAILBOX_USER", "DATABASE_URL", "DB_PATH", "GRAPH_BASE_URL", "PAGE_SIZE",
		"REDIS_URL", "LOCK_TTL", "EVENTS_QUEUE", "SYNC_INTERVAL", "PORT",
		"LOG_LEVEL", "LOG_FORMAT", "PROVIDER", "TOKEN_CACHE", "TOKEN_CACHE_DIR",
		"TOKEN_CACHE_PASSPHRASE", "IMAP_ADDR", "IMAP_USERNAME", "IMAP_PASSWORD",
		"IMAP_FOLDER", "IMAP_INSECURE",
	} {
		t.Setenv(key, "")
	}
	// Load also reads .env and the default config.yaml from the working
	// directory; run from an empty one.
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_EnvOnly verifies defaults when only the required variables are set.
func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANT_ID", "tenant-1")
	t.Setenv("CLIENT_ID", "client-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mailbox != "me" {
		t.Errorf("mailbox = %q, want me", cfg.Mailbox)
	}
	if cfg.DatabaseURL != "job_tracker.db" {
		t.Errorf("database = %q", cfg.DatabaseURL)
	}
	if cfg.AuthMode != "device_code" {
		t.Errorf("auth mode = %q", cfg.AuthMode)
	}
	if cfg.PageSize != 50 || cfg.LockTTL != 10*time.Minute || cfg.SyncInterval != 0 {
		t.Errorf("page size %d, lock ttl %s, interval %s", cfg.PageSize, cfg.LockTTL, cfg.SyncInterval)
	}
	if cfg.EventsQueue != "job_status_events" || cfg.LogFormat != "json" || cfg.Port != 0 {
		t.Errorf("queue %q, format %q, port %d", cfg.EventsQueue, cfg.LogFormat, cfg.Port)
	}
	if cfg.Provider != ProviderGraph || cfg.TokenCache != "none" {
		t.Errorf("provider %q, token cache %q", cfg.Provider, cfg.TokenCache)
	}
	if len(cfg.ClassifierRules) != 6 {
		t.Errorf("classifier rules = %d, want defaults", len(cfg.ClassifierRules))
	}
}

// TestLoad_YAMLWithEnvOverride verifies YAML values, ${VAR} expansion and
// environment precedence.
func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_FROM_VAULT", "s3cret")
	t.Setenv("PAGE_SIZE", "20")

	path := writeConfig(t, `
auth:
  tenant_id: tenant-yaml
  client_id: client-yaml
  client_secret: ${SECRET_FROM_VAULT}
  mode: client_credentials
mailbox: jane@contoso.com
database:
  url: postgres://localhost/jobs
graph:
  page_size: 100
redis:
  url: redis://localhost:6379/1
  lock_ttl: 5m
sync:
  interval: 30m
log:
  format: text
classifier:
  rules:
    - label: rejected
      keywords: [no longer considering]
    - label: interview
      keywords: [lets chat]
extractor:
  patterns:
    company: 'from ([A-Z][a-z]+)'
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ClientSecret != "s3cret" {
		t.Errorf("client secret = %q, want expanded value", cfg.ClientSecret)
	}
	if cfg.Mailbox != "jane@contoso.com" || cfg.DatabaseURL != "postgres://localhost/jobs" {
		t.Errorf("mailbox %q, database %q", cfg.Mailbox, cfg.DatabaseURL)
	}
	if cfg.PageSize != 20 {
		t.Errorf("page size = %d, want env override 20", cfg.PageSize)
	}
	if cfg.LockTTL != 5*time.Minute || cfg.SyncInterval != 30*time.Minute {
		t.Errorf("lock ttl %s, interval %s", cfg.LockTTL, cfg.SyncInterval)
	}

	c, err := cfg.Classifier()
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	if got := c.Classify("Update", "We are no longer considering you"); got.Label != models.StatusRejected {
		t.Errorf("custom rule label = %q, want rejected", got.Label)
	}

	e, err := cfg.Extractor()
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	if got := e.Extract("Hello from Initech", ""); got.Company == nil || *got.Company != "Initech" {
		t.Errorf("custom company pattern = %v", got.Company)
	}

	if a := cfg.AuthConfig(); a.Mode != "client_credentials" || a.ClientSecret != "s3cret" {
		t.Errorf("auth config = %+v", a)
	}
}

// TestLoad_DBPath verifies DB_PATH is honoured and DATABASE_URL wins over it.
func TestLoad_DBPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANT_ID", "t")
	t.Setenv("CLIENT_ID", "c")
	t.Setenv("DB_PATH", "/var/lib/jobs.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "/var/lib/jobs.db" {
		t.Errorf("database = %q", cfg.DatabaseURL)
	}

	t.Setenv("DATABASE_URL", "postgres://db/jobs")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/jobs" {
		t.Errorf("database = %q", cfg.DatabaseURL)
	}
}

// TestLoad_Errors verifies validation and parse failures.
func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing credentials",
			env:     map[string]string{},
			wantErr: "TENANT_ID and CLIENT_ID",
		},
		{
			name:    "client credentials without secret",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "AUTH_MODE": "client_credentials"},
			wantErr: "CLIENT_SECRET",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "PROVIDER": "pop3"},
			wantErr: "unknown provider",
		},
		{
			name:    "imap without account",
			env:     map[string]string{"PROVIDER": "imap", "IMAP_ADDR": "imap.example.com:993"},
			wantErr: "IMAP_USERNAME",
		},
		{
			name:    "bad imap insecure flag",
			env:     map[string]string{"PROVIDER": "imap", "IMAP_ADDR": "a:1", "IMAP_USERNAME": "u", "IMAP_PASSWORD": "p", "IMAP_INSECURE": "maybe"},
			wantErr: "IMAP_INSECURE",
		},
		{
			name:    "unknown token cache",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "TOKEN_CACHE": "vault"},
			wantErr: "token cache",
		},
		{
			name:    "bad page size",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "PAGE_SIZE": "lots"},
			wantErr: "PAGE_SIZE",
		},
		{
			name:    "bad interval",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "SYNC_INTERVAL": "hourly"},
			wantErr: "SYNC_INTERVAL",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c", "LOG_FORMAT": "xml"},
			wantErr: "log format",
		},
		{
			name:    "rule without keywords",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c"},
			yaml:    "classifier:\n  rules:\n    - label: rejected\n",
			wantErr: "classifier rules",
		},
		{
			name:    "pattern without group",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c"},
			yaml:    "extractor:\n  patterns:\n    job_id: 'Job #\\d+'\n",
			wantErr: "extractor patterns",
		},
		{
			name:    "invalid yaml",
			env:     map[string]string{"TENANT_ID": "t", "CLIENT_ID": "c"},
			yaml:    "auth: [unterminated",
			wantErr: "parse config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoad_IMAP verifies the imap provider needs no Microsoft credentials.
func TestLoad_IMAP(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAP_PASSWORD", "app-password")

	path := writeConfig(t, `
provider: imap
imap:
  addr: imap.example.com:993
  username: jane@example.com
  password: ${IMAP_PASSWORD}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != ProviderIMAP {
		t.Errorf("provider = %q", cfg.Provider)
	}
	want := IMAPConfig{Addr: "imap.example.com:993", Username: "jane@example.com", Password: "app-password", Folder: "INBOX"}
	if cfg.IMAP != want {
		t.Errorf("imap = %+v, want %+v", cfg.IMAP, want)
	}
}

// TestLoad_ExplicitPathMissing verifies a named config file must exist.
func TestLoad_ExplicitPathMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANT_ID", "t")
	t.Setenv("CLIENT_ID", "c")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
