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

// Package auth acquires Microsoft identity platform credentials and returns
// an HTTP client that attaches them to every Graph request.
package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// Supported modes.
const (
	ModeDeviceCode        = "device_code"
	ModeClientCredentials = "client_credentials"
)

var (
	defaultDeviceScopes = []string{"Mail.Read", "offline_access"}
	defaultAppScopes    = []string{"https://graph.microsoft.com/.default"}
)

// Config selects and parameterises the credential flow.
type Config struct {
	Mode         string
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// AuthorityURL overrides https://login.microsoftonline.com.
	AuthorityURL string

	// Prompt receives the device code sign-in instructions. Optional.
	Prompt io.Writer

	// Cache keeps the device code sign-in across restarts. Optional.
	Cache TokenCache
}

// HTTPClient runs the configured flow and returns an authenticated client.
// In device code mode it blocks until the user completes sign-in or ctx ends.
func HTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("auth: tenant id and client id are required")
	}

	switch cfg.Mode {
	case ModeClientCredentials:
		return clientCredentials(ctx, cfg)
	case ModeDeviceCode, "":
		return deviceCode(ctx, cfg)
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
}

func endpoint(cfg Config) oauth2.Endpoint {
	ep := microsoft.AzureADEndpoint(cfg.TenantID)
	if cfg.AuthorityURL != "" {
		base := strings.TrimRight(cfg.AuthorityURL, "/") + "/" + cfg.TenantID + "/oauth2/v2.0"
		ep.AuthURL = base + "/authorize"
		ep.TokenURL = base + "/token"
		ep.DeviceAuthURL = base + "/devicecode"
	} else {
		ep.DeviceAuthURL = "https://login.microsoftonline.com/" + cfg.TenantID + "/oauth2/v2.0/devicecode"
	}
	// Public clients must not send a basic auth header.
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

func deviceCode(ctx context.Context, cfg Config) (*http.Client, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultDeviceScopes
	}
	conf := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: endpoint(cfg),
		Scopes:   scopes,
	}

	// The refresh token keeps the client usable beyond ctx.
	bg := context.WithoutCancel(ctx)
	if cfg.Cache != nil {
		if src, ok := cachedSource(bg, conf, cfg.Cache); ok {
			slog.Info("reusing cached sign-in")
			return oauth2.NewClient(bg, src), nil
		}
	}

	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: start device flow: %w", err)
	}

	slog.Info("device code sign-in required",
		"verification_uri", da.VerificationURI,
		"user_code", da.UserCode,
		"expires", da.Expiry,
	)
	if cfg.Prompt != nil {
		fmt.Fprintf(cfg.Prompt, "To sign in, open %s and enter the code %s\n", da.VerificationURI, da.UserCode)
	}

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("auth: device flow: %w", err)
	}

	slog.Info("device code sign-in complete", "expiry", tok.Expiry)
	if cfg.Cache == nil {
		return conf.Client(bg, tok), nil
	}
	if err := cfg.Cache.Save(tok); err != nil {
		slog.Warn("failed to cache token", "error", err)
	}
	src := &cachingSource{src: conf.TokenSource(bg, tok), cache: cfg.Cache, last: tok.AccessToken}
	return oauth2.NewClient(bg, src), nil
}

func clientCredentials(ctx context.Context, cfg Config) (*http.Client, error) {
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("auth: client secret is required for %s", ModeClientCredentials)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultAppScopes
	}
	ep := endpoint(cfg)
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     ep.TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return creds.Client(ctx), nil
}
