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

// Package normalize converts provider message bodies to plain text and
// formats sender addresses.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Normalizer turns HTML or text bodies into trimmed plain text.
type Normalizer struct {
	whitespace *regexp.Regexp
	invisible  *regexp.Regexp
}

// New creates a body normalizer.
func New() *Normalizer {
	return &Normalizer{
		whitespace: regexp.MustCompile(`[^\S\n]+`),
		// zero-width and other invisible code points often found in HTML mail
		invisible: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}]+`),
	}
}

// Normalize strips markup when contentType is "html" and trims otherwise.
func (n *Normalizer) Normalize(content, contentType string) (string, error) {
	if !strings.EqualFold(strings.TrimSpace(contentType), "html") {
		return strings.TrimSpace(content), nil
	}
	if strings.TrimSpace(content) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html body: %w", err)
	}

	doc.Find("script, style, head, meta, link, title").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr, td, table").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})

	text := n.invisible.ReplaceAllString(doc.Text(), "")
	text = n.whitespace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// Sender combines a display name and address as "Name <address>", falling
// back to whichever part is present.
func Sender(name, address string) string {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name != "" && address != "" {
		return fmt.Sprintf("%s <%s>", name, address)
	}
	if address != "" {
		return address
	}
	return name
}
