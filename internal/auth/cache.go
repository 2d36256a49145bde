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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

// Token cache backends.
const (
	CacheNone    = "none"
	CacheKeyring = "keyring"
	CacheFile    = "file"
)

const keyringService = "mailsync"

// TokenCache persists the device code sign-in so restarts can skip it.
// Load returns nil, nil when nothing is cached.
type TokenCache interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// KeyringCache stores the token in the OS keyring or an encrypted file.
type KeyringCache struct {
	ring keyring.Keyring
	key  string
}

// OpenKeyringCache opens a token cache. backend is CacheKeyring (system
// keyring, then encrypted file) or CacheFile (encrypted file in dir only).
func OpenKeyringCache(backend, dir, passphrase, clientID string) (*KeyringCache, error) {
	allowed := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	switch backend {
	case CacheKeyring:
	case CacheFile:
		allowed = []keyring.BackendType{keyring.FileBackend}
	default:
		return nil, fmt.Errorf("auth: unknown token cache %q", backend)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		AllowedBackends:          allowed,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(passphrase),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: open keyring: %w", err)
	}
	return &KeyringCache{ring: ring, key: "graph-token-" + clientID}, nil
}

func (c *KeyringCache) Load() (*oauth2.Token, error) {
	item, err := c.ring.Get(c.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read cached token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("auth: decode cached token: %w", err)
	}
	return &tok, nil
}

func (c *KeyringCache) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("auth: encode token: %w", err)
	}
	if err := c.ring.Set(keyring.Item{Key: c.key, Data: data, Label: "mailsync Graph token"}); err != nil {
		return fmt.Errorf("auth: store token: %w", err)
	}
	return nil
}

// cachedSource resumes from a cached token, refreshing it if needed. It
// reports false when the device flow has to run.
func cachedSource(ctx context.Context, conf *oauth2.Config, cache TokenCache) (oauth2.TokenSource, bool) {
	tok, err := cache.Load()
	if err != nil {
		slog.Warn("ignoring unreadable token cache", "error", err)
		return nil, false
	}
	if tok == nil || (tok.RefreshToken == "" && !tok.Valid()) {
		return nil, false
	}

	src := &cachingSource{src: conf.TokenSource(ctx, tok), cache: cache, last: tok.AccessToken}
	if _, err := src.Token(); err != nil {
		slog.Warn("cached sign-in rejected", "error", err)
		return nil, false
	}
	return src, true
}

// cachingSource writes every newly issued token back to the cache.
type cachingSource struct {
	src   oauth2.TokenSource
	cache TokenCache

	mu   sync.Mutex
	last string
}

func (s *cachingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.cache.Save(tok); err != nil {
			slog.Warn("failed to cache token", "error", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
