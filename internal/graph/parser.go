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

package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jobtrail/mailsync/internal/models"
)

// deltaResponse is one page of the /messages/delta response.
type deltaResponse struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

// graphMessage holds the selected fields of a Graph message.
type graphMessage struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	ReceivedDateTime string `json:"receivedDateTime"`
	From             struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview string `json:"bodyPreview"`
	Removed     *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// parsePage decodes a delta page. Every message must carry an id, and a
// present receivedDateTime must be RFC 3339.
func parsePage(body io.Reader) (*Page, error) {
	var raw deltaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode delta response: %w", ErrMalformedPage, err)
	}

	page := &Page{
		Messages:   make([]models.Message, 0, len(raw.Value)),
		NextToken:  raw.NextLink,
		DeltaToken: raw.DeltaLink,
	}

	for i, m := range raw.Value {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: message %d has no id", ErrMalformedPage, i)
		}
		if m.Removed != nil {
			page.Messages = append(page.Messages, models.Message{ID: m.ID, Removed: true})
			continue
		}

		msg := models.Message{
			ID:          m.ID,
			Subject:     m.Subject,
			ReceivedRaw: m.ReceivedDateTime,
			From: models.EmailAddress{
				Address: m.From.EmailAddress.Address,
				Name:    m.From.EmailAddress.Name,
			},
			Body: models.EmailBody{
				ContentType: m.Body.ContentType,
				Content:     m.Body.Content,
			},
			BodyPreview: m.BodyPreview,
		}
		if m.ReceivedDateTime != "" {
			t, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
			if err != nil {
				return nil, fmt.Errorf("%w: message %s receivedDateTime: %w", ErrMalformedPage, m.ID, err)
			}
			msg.ReceivedAt = &t
		}
		page.Messages = append(page.Messages, msg)
	}

	return page, nil
}
