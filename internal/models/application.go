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

package models

import (
	"strconv"
	"strings"
	"time"
)

// Status is a job-application lifecycle label.
type Status string

const (
	StatusRejected          Status = "rejected"
	StatusInterview         Status = "interview"
	StatusAssessment        Status = "assessment"
	StatusApplied           Status = "applied"
	StatusFollowUp          Status = "follow_up"
	StatusRecruiterOutreach Status = "recruiter_outreach"
	StatusUnknown           Status = "unknown"
)

// MatchKey is the identity triple used to reconcile messages onto an
// existing JobApplication. A nil component only equals another nil.
type MatchKey struct {
	JobID       *string
	CompanyName *string
	JobTitle    *string
}

// Canonical returns an encoding of the key in which nil and every string,
// including the empty string, are distinct values. Components are Go-quoted,
// so bytes that are not valid UTF-8 keep their identity as \x escapes.
func (k MatchKey) Canonical() string {
	parts := make([]string, 0, 3)
	for _, p := range []*string{k.JobID, k.CompanyName, k.JobTitle} {
		if p == nil {
			parts = append(parts, "null")
			continue
		}
		parts = append(parts, strconv.Quote(*p))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Candidate is the job application derived from a single message, before it
// is reconciled against stored records.
type Candidate struct {
	CompanyName   *string
	JobTitle      *string
	JobID         *string
	RecruiterName *string
	AppliedDate   *string // YYYY-MM-DD
	Status        Status
}

// Key returns the candidate's match key.
func (c Candidate) Key() MatchKey {
	return MatchKey{JobID: c.JobID, CompanyName: c.CompanyName, JobTitle: c.JobTitle}
}

// JobApplication is one distinct (job id, company, title) combination.
type JobApplication struct {
	ID            string
	CompanyName   *string
	JobTitle      *string
	JobID         *string
	RecruiterName *string
	AppliedDate   *string
	CurrentStatus Status
	LastEmailID   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusHistoryEntry is one append-only observation of a status.
type StatusHistoryEntry struct {
	ID               string
	JobApplicationID string
	Status           Status
	SourceEmailID    string
	ChangedAt        time.Time
}

// StatusEvent is published when a message creates a job application or
// moves it to a different status.
type StatusEvent struct {
	EventID          string    `json:"event_id"`
	JobApplicationID string    `json:"job_application_id"`
	CompanyName      *string   `json:"company_name"`
	JobTitle         *string   `json:"job_title"`
	JobID            *string   `json:"job_id"`
	PreviousStatus   Status    `json:"previous_status,omitempty"`
	Status           Status    `json:"status"`
	SourceEmailID    string    `json:"source_email_id"`
	Created          bool      `json:"created"`
	OccurredAt       time.Time `json:"occurred_at"`
}
