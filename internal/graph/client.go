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

// Package graph reads pages of a mailbox's inbox change feed from the
// Microsoft Graph /messages/delta endpoint.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jobtrail/mailsync/internal/models"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultPageSize is the odata.maxpagesize requested per page.
	DefaultPageSize = 50

	selectFields = "id,subject,receivedDateTime,from,body,bodyPreview"
)

var (
	// ErrGone means the provider rejected the cursor as expired (HTTP 410).
	ErrGone = errors.New("delta token expired (410 Gone)")

	// ErrTransient covers throttling, server errors and network failures.
	ErrTransient = errors.New("transient fetch error")

	// ErrMalformedPage means the response could not be interpreted as a page.
	ErrMalformedPage = errors.New("malformed page")
)

// StatusError is a non-success HTTP response. It matches ErrTransient or
// ErrGone through errors.Is when the status code calls for it.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph API returned HTTP %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrGone:
		return e.StatusCode == http.StatusGone
	case ErrTransient:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// Page is one page of the change feed. At most one of NextToken and
// DeltaToken is set on a well-formed page.
type Page struct {
	Messages   []models.Message
	NextToken  string
	DeltaToken string
}

// Client fetches delta pages using an already authenticated HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

// NewClient creates a Graph delta client. An empty baseURL selects
// DefaultBaseURL; a non-positive pageSize selects DefaultPageSize.
func NewClient(httpClient *http.Client, baseURL string, pageSize int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   pageSize,
	}
}

// InitialURL returns the full-listing URL for the mailbox's inbox.
func (c *Client) InitialURL(mailbox string) string {
	params := url.Values{}
	params.Set("$select", selectFields)

	owner := "me"
	if mailbox != "" && !strings.EqualFold(mailbox, "me") {
		owner = "users/" + url.PathEscape(mailbox)
	}
	return fmt.Sprintf("%s/%s/mailFolders/inbox/messages/delta?%s", c.baseURL, owner, params.Encode())
}

// FetchPage fetches one page. An empty cursor requests the initial full
// listing; otherwise the cursor (a next or delta link) is requested verbatim.
func (c *Client) FetchPage(ctx context.Context, mailbox, cursor string) (*Page, error) {
	target := cursor
	if target == "" {
		target = c.InitialURL(mailbox)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build delta request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", c.pageSize))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch delta page: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("delta query error", "mailbox", mailbox, "status", resp.StatusCode, "body", string(body))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	page, err := parsePage(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	slog.Debug("fetched delta page",
		"mailbox", mailbox,
		"messages", len(page.Messages),
		"has_next", page.NextToken != "",
		"has_delta", page.DeltaToken != "",
	)
	return page, nil
}
