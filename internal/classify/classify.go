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

// Package classify maps message text to a job-application lifecycle label
// using an ordered keyword rule table.
package classify

import (
	"fmt"
	"strings"

	"github.com/jobtrail/mailsync/internal/models"
)

const (
	// MethodRules identifies the keyword rule classifier.
	MethodRules = "rules"

	// MatchConfidence is reported for every rule match. It is a fixed value
	// per method, not a probability estimate.
	MatchConfidence = 0.85

	// UnknownConfidence is reported when no rule matches.
	UnknownConfidence = 0.2
)

// Rule assigns Label to any text containing one of Keywords.
type Rule struct {
	Label    models.Status `yaml:"label"`
	Keywords []string      `yaml:"keywords"`
}

// Result is the outcome of classifying one message.
type Result struct {
	Label      models.Status
	Confidence float64
	Method     string
}

// DefaultRules returns the built-in rule table. Order is the tie-break when
// keywords of several labels are present.
func DefaultRules() []Rule {
	return []Rule{
		{Label: models.StatusRejected, Keywords: []string{
			"we regret", "unfortunately", "not moving forward", "position has been filled",
		}},
		{Label: models.StatusInterview, Keywords: []string{
			"schedule", "interview", "phone screen", "meeting invite",
		}},
		{Label: models.StatusAssessment, Keywords: []string{
			"assessment", "coding challenge", "technical test", "take-home",
		}},
		{Label: models.StatusApplied, Keywords: []string{
			"application received", "thank you for applying", "we received your application",
		}},
		{Label: models.StatusFollowUp, Keywords: []string{
			"following up", "checking in", "any update",
		}},
		{Label: models.StatusRecruiterOutreach, Keywords: []string{
			"your background", "opportunity", "reach out", "open role",
		}},
	}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from an ordered rule table. The table is copied
// and keywords are lowercased, so later changes by the caller have no effect.
func New(rules []Rule) (*Classifier, error) {
	own := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("rule %d: empty label", i)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, r.Label)
		}
		own = append(own, Rule{Label: r.Label, Keywords: kws})
	}
	return &Classifier{rules: own}, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the label of the first rule with a keyword contained in
// the lowercased subject and body, or StatusUnknown.
func (c *Classifier) Classify(subject, body string) Result {
	text := strings.ToLower(subject + " " + body)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return Result{Label: r.Label, Confidence: MatchConfidence, Method: MethodRules}
			}
		}
	}
	return Result{Label: models.StatusUnknown, Confidence: UnknownConfidence, Method: MethodRules}
}
