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

// Package imapfeed serves a mailbox folder over IMAP as a paged change feed
// with the same contract as the Graph delta client. The cursor records the
// folder's UIDVALIDITY and the highest UID already delivered; a changed
// UIDVALIDITY invalidates it the way an expired delta token does.
package imapfeed

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/jobtrail/mailsync/internal/graph"
	"github.com/jobtrail/mailsync/internal/models"
)

const (
	cursorPrefix = "imap:"

	defaultFolder      = "INBOX"
	defaultPageSize    = 50
	defaultDialTimeout = 30 * time.Second
)

// Config describes the IMAP account.
type Config struct {
	Addr     string // host:port
	Username string
	Password string
	Folder   string
	// Insecure disables TLS. Only for local servers.
	Insecure    bool
	PageSize    int
	DialTimeout time.Duration
}

// Source fetches pages of new messages. Each FetchPage call uses its own
// connection.
type Source struct {
	cfg Config
}

// New creates an IMAP source, filling in defaults.
func New(cfg Config) *Source {
	if cfg.Folder == "" {
		cfg.Folder = defaultFolder
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Source{cfg: cfg}
}

// FetchPage returns up to PageSize messages with a UID above the cursor's.
// The mailbox argument is unused; the account is fixed by Config.
func (s *Source) FetchPage(ctx context.Context, _ string, cursor string) (*graph.Page, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer func() {
		stop()
		c.Logout()
	}()

	page, err := s.fetchPage(c, cursor)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return page, err
}

func (s *Source) connect() (*client.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Insecure {
		conn, err = dialer.Dial("tcp", s.cfg.Addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", s.cfg.Addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w: %w", s.cfg.Addr, graph.ErrTransient, err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create IMAP client: %w: %w", graph.ErrTransient, err)
	}
	c.Timeout = s.cfg.DialTimeout

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAP login: %w", err)
	}
	return c, nil
}

func (s *Source) fetchPage(c *client.Client, cursor string) (*graph.Page, error) {
	status, err := c.Select(s.cfg.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w: %w", s.cfg.Folder, graph.ErrTransient, err)
	}

	var after uint32
	if cursor != "" {
		validity, uid, err := ParseCursor(cursor)
		if err != nil || validity != status.UidValidity {
			return nil, fmt.Errorf("%w: cursor %q does not match uidvalidity %d", graph.ErrGone, cursor, status.UidValidity)
		}
		after = uid
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(after+1, 0) // 0 means *
	found, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w: %w", graph.ErrTransient, err)
	}

	// "N:*" always includes the highest UID, even when it is below N.
	uids := make([]uint32, 0, len(found))
	for _, uid := range found {
		if uid > after {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)

	more := len(uids) > s.cfg.PageSize
	if more {
		uids = uids[:s.cfg.PageSize]
	}

	page := &graph.Page{}
	last := after
	if len(uids) > 0 {
		page.Messages, err = s.fetchMessages(c, status.UidValidity, uids)
		if err != nil {
			return nil, err
		}
		last = uids[len(uids)-1]
	}

	token := FormatCursor(status.UidValidity, last)
	if more {
		page.NextToken = token
	} else {
		page.DeltaToken = token
	}

	slog.Debug("fetched IMAP page",
		"folder", s.cfg.Folder,
		"messages", len(page.Messages),
		"has_next", more,
	)
	return page, nil
}

func (s *Source) fetchMessages(c *client.Client, validity uint32, uids []uint32) ([]models.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w: %w", graph.ErrTransient, err)
	}

	slices.SortFunc(fetched, func(a, b *imap.Message) int {
		switch {
		case a.Uid < b.Uid:
			return -1
		case a.Uid > b.Uid:
			return 1
		}
		return 0
	})

	out := make([]models.Message, 0, len(fetched))
	for _, msg := range fetched {
		out = append(out, convert(validity, msg, section))
	}
	return out, nil
}

// convert maps an IMAP message onto the provider message shape. A body that
// cannot be parsed is kept empty rather than failing the page.
func convert(validity uint32, msg *imap.Message, section *imap.BodySectionName) models.Message {
	m := models.Message{ID: MessageID(validity, msg.Uid)}

	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		if !env.Date.IsZero() {
			received := env.Date
			m.ReceivedAt = &received
			m.ReceivedRaw = received.UTC().Format(time.RFC3339)
		}
		if len(env.From) > 0 {
			m.From = models.EmailAddress{
				Name:    env.From[0].PersonalName,
				Address: env.From[0].Address(),
			}
		}
	}

	if literal := msg.GetBody(section); literal != nil {
		body, err := parseBody(literal)
		if err != nil {
			slog.Warn("failed to parse IMAP body", "uid", msg.Uid, "error", err)
		}
		m.Body = body
		m.BodyPreview = preview(body.Content)
	}
	return m
}

func preview(s string) string {
	const limit = 255
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit])
	}
	return s
}

// MessageID is the stored id for an IMAP message. UIDs are only unique
// within one UIDVALIDITY epoch.
func MessageID(validity, uid uint32) string {
	return fmt.Sprintf("imap-%d-%d", validity, uid)
}

// FormatCursor encodes a resume point.
func FormatCursor(validity, uid uint32) string {
	return fmt.Sprintf("%s%d:%d", cursorPrefix, validity, uid)
}

// ParseCursor decodes a cursor produced by FormatCursor.
func ParseCursor(cursor string) (validity, uid uint32, err error) {
	rest, ok := strings.CutPrefix(cursor, cursorPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not an IMAP cursor: %q", cursor)
	}
	v, u, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed IMAP cursor: %q", cursor)
	}
	vv, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed IMAP cursor %q: %w", cursor, err)
	}
	uu, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed IMAP cursor %q: %w", cursor, err)
	}
	return uint32(vv), uint32(uu), nil
}
