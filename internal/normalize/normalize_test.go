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

package normalize

import (
	"strings"
	"testing"

	"github.com/jobtrail/mailsync/internal/extract"
)

// TestNormalize verifies HTML stripping and text pass-through.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		contentType string
		want        string
	}{
		{
			name:        "text trimmed",
			content:     "  Hello there \n",
			contentType: "text",
			want:        "Hello there",
		},
		{
			name:        "unknown type treated as text",
			content:     " <b>raw</b> ",
			contentType: "",
			want:        "<b>raw</b>",
		},
		{
			name:        "html paragraphs",
			content:     "<html><head><title>x</title><style>p{}</style></head><body><p>Hi Sam,</p><p>We would like to <b>schedule</b> an interview.</p></body></html>",
			contentType: "html",
			want:        "Hi Sam,\nWe would like to schedule an interview.",
		},
		{
			name:        "html case insensitive type",
			content:     "<div>Role: Engineer</div><script>alert(1)</script>",
			contentType: "HTML",
			want:        "Role: Engineer",
		},
		{
			name:        "html line breaks and spacing",
			content:     "<p>Best,<br>Jane   Doe</p>",
			contentType: "html",
			want:        "Best,\nJane Doe",
		},
		{
			name:        "text after closing block",
			content:     "<div>Thanks for your interest</div>with Acme Corp",
			contentType: "html",
			want:        "Thanks for your interest\nwith Acme Corp",
		},
		{
			name:        "text after paragraph and break",
			content:     "<p>Hi</p>Thanks,<br>Jane Doe",
			contentType: "html",
			want:        "Hi\nThanks,\nJane Doe",
		},
		{
			name:        "invisible characters removed",
			content:     "<p>Ac\u200bme</p>",
			contentType: "html",
			want:        "Acme",
		},
		{
			name:        "empty html",
			content:     "   ",
			contentType: "html",
			want:        "",
		},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.content, tt.contentType)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNormalize_FeedsExtractor verifies text after a block element stays a
// separate word for the extractor's word-boundary patterns.
func TestNormalize_FeedsExtractor(t *testing.T) {
	text, err := New().Normalize("<div>Thanks for your interest</div>with Acme Corp", "html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := extract.Default().Extract("Your application", text)
	if got.Company == nil || !strings.HasPrefix(*got.Company, "Acme") {
		t.Errorf("company = %v, want Acme Corp", got.Company)
	}
}

// TestSender verifies sender formatting.
func TestSender(t *testing.T) {
	tests := []struct {
		name, addr, want string
	}{
		{"Jane Recruiter", "jane@acme.com", "Jane Recruiter <jane@acme.com>"},
		{"", "jane@acme.com", "jane@acme.com"},
		{"Jane", "", "Jane"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := Sender(tt.name, tt.addr); got != tt.want {
			t.Errorf("Sender(%q, %q) = %q, want %q", tt.name, tt.addr, got, tt.want)
		}
	}
}
