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

package auth

import (
	"bytes"
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type memCache struct {
	tok   *oauth2.Token
	saves int
}

func (m *memCache) Load() (*oauth2.Token, error) { return m.tok, nil }

func (m *memCache) Save(tok *oauth2.Token) error {
	m.tok = tok
	m.saves++
	return nil
}

// TestDeviceCode_CachedSignIn verifies a cached token skips the device flow.
func TestDeviceCode_CachedSignIn(t *testing.T) {
	idp := newIdentityServer(t, "urn:ietf:params:oauth:grant-type:device_code")
	graph, gotAuth := newGraphEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cache := &memCache{}
	cfg := Config{
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		AuthorityURL: idp.URL,
		Cache:        cache,
	}

	var prompt bytes.Buffer
	cfg.Prompt = &prompt
	if _, err := HTTPClient(ctx, cfg); err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	if cache.tok == nil || cache.tok.AccessToken != "graph-token" {
		t.Fatalf("cached token = %+v", cache.tok)
	}

	prompt.Reset()
	client, err := HTTPClient(ctx, cfg)
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if prompt.Len() != 0 {
		t.Errorf("device flow ran again: %q", prompt.String())
	}

	resp, err := client.Get(graph.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if *gotAuth != "Bearer graph-token" {
		t.Errorf("Authorization = %q", *gotAuth)
	}
	if cache.saves != 1 {
		t.Errorf("saves = %d, want 1 (unchanged token is not rewritten)", cache.saves)
	}
}

// TestCachedSource_Expired verifies an expired token without a refresh token
// is not reused.
func TestCachedSource_Expired(t *testing.T) {
	cache := &memCache{tok: &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}}
	conf := &oauth2.Config{ClientID: "c"}

	if _, ok := cachedSource(context.Background(), conf, cache); ok {
		t.Error("expired token without refresh token was reused")
	}
}

// TestKeyringCache_File verifies the encrypted file backend round trip.
func TestKeyringCache_File(t *testing.T) {
	cache, err := OpenKeyringCache(CacheFile, t.TempDir(), "test-passphrase", "client-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	tok, err := cache.Load()
	if err != nil || tok != nil {
		t.Fatalf("empty cache Load = %v, %v", tok, err)
	}

	want := &oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := cache.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("loaded %+v, want %+v", got, want)
	}
}

func TestOpenKeyringCache_UnknownBackend(t *testing.T) {
	if _, err := OpenKeyringCache("vault", t.TempDir(), "p", "c"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
