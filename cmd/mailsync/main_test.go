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

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHealthHandler verifies the first failing dependency is reported.
func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name       string
		checks     []healthCheck
		wantStatus int
		wantBody   string
	}{
		{"all healthy", []healthCheck{{"store", ok}, {"redis", ok}}, http.StatusOK, "healthy"},
		{"store down", []healthCheck{{"store", down}, {"redis", ok}}, http.StatusServiceUnavailable, "store unhealthy"},
		{"redis down", []healthCheck{{"store", ok}, {"redis", down}}, http.StatusServiceUnavailable, "redis unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

// TestParseLevel verifies level names.
func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestSetupLogger verifies both handler kinds respect the level.
func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := setupLogger("warn", format)
		if logger.Enabled(context.Background(), slog.LevelInfo) {
			t.Errorf("%s logger should not enable info at warn level", format)
		}
		if !logger.Enabled(context.Background(), slog.LevelError) {
			t.Errorf("%s logger should enable error", format)
		}
	}
}
