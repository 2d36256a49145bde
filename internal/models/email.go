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

// Package models defines the data structures shared across the sync pipeline.
package models

import "time"

// EmailAddress represents a sender with an address and optional display name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// EmailBody represents the message body content as delivered by the provider.
type EmailBody struct {
	ContentType string `json:"content_type"` // "text" or "html"
	Content     string `json:"content"`
}

// Message is a single mailbox message as returned by one page of the
// provider's change feed.
type Message struct {
	ID          string
	Subject     string
	ReceivedAt  *time.Time
	ReceivedRaw string // provider value verbatim, stored on the Email row
	From        EmailAddress
	Body        EmailBody
	BodyPreview string

	// Removed marks a delta tombstone (message deleted or moved out of the
	// folder). Tombstones carry only an ID.
	Removed bool
}

// Email is the stored, immutable record of one ingested message.
type Email struct {
	ID                   string
	Subject              string
	Sender               string
	ReceivedAt           string
	BodyText             string
	Classification       Status
	Confidence           float64
	ClassificationMethod string
	JobApplicationID     *string
	CreatedAt            time.Time
}
