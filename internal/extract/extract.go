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

// Package extract pulls job-application entities (company, title, job id,
// recruiter) out of message text with regular expressions.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Default pattern sources. Capture group 1 holds the value.
const (
	DefaultCompanyPattern   = `(?:\bat|\bwith)[ \t]+([A-Z][A-Za-z0-9&\- \t]{2,})`
	DefaultJobTitlePattern  = `(?i:\b(?:role|position|title))[ \t]*[:\-][ \t]*([A-Za-z0-9\-/ \t]{3,})`
	DefaultJobIDPattern     = `(?:\bJob|\bReq|\bRequisition)[ \t]*#?[ \t]*([A-Z0-9-]{4,})`
	DefaultRecruiterPattern = `(?:Regards|Thanks|Sincerely|Best),\s*([A-Z][A-Za-z \t]+)`
)

// Patterns holds one compiled expression per entity.
type Patterns struct {
	Company   *regexp.Regexp
	JobTitle  *regexp.Regexp
	JobID     *regexp.Regexp
	Recruiter *regexp.Regexp
}

// PatternSources holds uncompiled expressions; empty fields fall back to the
// defaults.
type PatternSources struct {
	Company   string `yaml:"company"`
	JobTitle  string `yaml:"job_title"`
	JobID     string `yaml:"job_id"`
	Recruiter string `yaml:"recruiter"`
}

// Compile compiles the sources into Patterns.
func (s PatternSources) Compile() (Patterns, error) {
	var p Patterns
	for _, f := range []struct {
		name string
		src  string
		def  string
		dst  **regexp.Regexp
	}{
		{"company", s.Company, DefaultCompanyPattern, &p.Company},
		{"job_title", s.JobTitle, DefaultJobTitlePattern, &p.JobTitle},
		{"job_id", s.JobID, DefaultJobIDPattern, &p.JobID},
		{"recruiter", s.Recruiter, DefaultRecruiterPattern, &p.Recruiter},
	} {
		src := f.src
		if src == "" {
			src = f.def
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return Patterns{}, fmt.Errorf("compile %s pattern: %w", f.name, err)
		}
		*f.dst = re
	}
	return p, nil
}

// DefaultPatterns returns the built-in patterns.
func DefaultPatterns() Patterns {
	p, err := PatternSources{}.Compile()
	if err != nil {
		panic(err)
	}
	return p
}

// Entities are the fields found in one message. Absent fields are nil.
type Entities struct {
	Company   *string
	JobTitle  *string
	JobID     *string
	Recruiter *string
}

// Extractor runs the four entity searches. It is immutable after
// construction.
type Extractor struct {
	p Patterns
}

// New validates that every pattern is present and has a capture group.
func New(p Patterns) (*Extractor, error) {
	for name, re := range map[string]*regexp.Regexp{
		"company":   p.Company,
		"job_title": p.JobTitle,
		"job_id":    p.JobID,
		"recruiter": p.Recruiter,
	} {
		if re == nil {
			return nil, fmt.Errorf("%s pattern missing", name)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%s pattern %q has no capture group", name, re.String())
		}
	}
	return &Extractor{p: p}, nil
}

// Default returns an extractor over DefaultPatterns.
func Default() *Extractor {
	e, err := New(DefaultPatterns())
	if err != nil {
		panic(err)
	}
	return e
}

// Extract searches the subject and body. Each field is independent; the
// first match wins and is returned trimmed but otherwise verbatim.
func (e *Extractor) Extract(subject, body string) Entities {
	text := subject + "\n" + body
	return Entities{
		Company:   search(e.p.Company, text),
		JobTitle:  search(e.p.JobTitle, text),
		JobID:     search(e.p.JobID, text),
		Recruiter: search(e.p.Recruiter, text),
	}
}

func search(re *regexp.Regexp, text string) *string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return nil
	}
	return &v
}
