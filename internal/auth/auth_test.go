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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newIdentityServer fakes the tenant's token and device code endpoints.
func newIdentityServer(t *testing.T, wantGrant string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/tenant-1/oauth2/v2.0/devicecode", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("client_id") != "client-1" {
			t.Errorf("device code client_id = %q", r.Form.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":      "dev-code",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       60,
			"interval":         1,
		})
	})

	mux.HandleFunc("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.Form.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "graph-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newGraphEcho(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(server.Close)
	return server, &gotAuth
}

// TestHTTPClient_ClientCredentials verifies the token is attached.
func TestHTTPClient_ClientCredentials(t *testing.T) {
	idp := newIdentityServer(t, "client_credentials")
	graph, gotAuth := newGraphEcho(t)

	client, err := HTTPClient(context.Background(), Config{
		Mode:         ModeClientCredentials,
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "secret",
		AuthorityURL: idp.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Get(graph.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if *gotAuth != "Bearer graph-token" {
		t.Errorf("Authorization = %q", *gotAuth)
	}
}

// TestHTTPClient_DeviceCode verifies the device flow announces the code and
// yields an authenticated client.
func TestHTTPClient_DeviceCode(t *testing.T) {
	idp := newIdentityServer(t, "urn:ietf:params:oauth:grant-type:device_code")
	graph, gotAuth := newGraphEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var prompt bytes.Buffer
	client, err := HTTPClient(ctx, Config{
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		AuthorityURL: idp.URL,
		Prompt:       &prompt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(prompt.String(), "ABCD-EFGH") {
		t.Errorf("prompt = %q, want the user code", prompt.String())
	}

	resp, err := client.Get(graph.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if *gotAuth != "Bearer graph-token" {
		t.Errorf("Authorization = %q", *gotAuth)
	}
}

// TestHTTPClient_Validation verifies configuration errors.
func TestHTTPClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing tenant", Config{ClientID: "c"}},
		{"missing client", Config{TenantID: "t"}},
		{"missing secret", Config{Mode: ModeClientCredentials, TenantID: "t", ClientID: "c"}},
		{"unknown mode", Config{Mode: "saml", TenantID: "t", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HTTPClient(context.Background(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
