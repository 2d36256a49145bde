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

// Package delta runs the mailbox sync loop: it pages through the provider's
// change feed from the last durable cursor, classifies and extracts every
// message, reconciles it into the store, and persists the final delta token
// once the feed is caught up.
package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobtrail/mailsync/internal/classify"
	"github.com/jobtrail/mailsync/internal/extract"
	"github.com/jobtrail/mailsync/internal/graph"
	"github.com/jobtrail/mailsync/internal/lock"
	"github.com/jobtrail/mailsync/internal/models"
	"github.com/jobtrail/mailsync/internal/normalize"
	"github.com/jobtrail/mailsync/internal/store"
)

// PageFetcher is the mail provider. Implemented by graph.Client.
type PageFetcher interface {
	FetchPage(ctx context.Context, mailbox, cursor string) (*graph.Page, error)
}

// Store is the durable state the syncer needs. Implemented by store.Store.
type Store interface {
	GetCursor(ctx context.Context) (string, bool, error)
	SetCursor(ctx context.Context, token string) error
	ApplyMessage(ctx context.Context, rec store.Record) (*store.Applied, error)
}

// BodyNormalizer turns a message body into plain text.
type BodyNormalizer interface {
	Normalize(content, contentType string) (string, error)
}

// Locker serialises runs per mailbox. Implemented by lock.Locker.
type Locker interface {
	Acquire(ctx context.Context, mailbox string) (func(context.Context) error, error)
}

// Publisher receives status events. Implemented by queue.Publisher.
type Publisher interface {
	PublishStatusEvent(ctx context.Context, event *models.StatusEvent) error
}

// SyncerConfig holds the configuration for the syncer. Fetcher and Store
// are required; Normalizer, Classifier and Extractor default to the
// built-in implementations; Locker and Publisher are optional.
type SyncerConfig struct {
	Mailbox      string
	Fetcher      PageFetcher
	Store        Store
	Normalizer   BodyNormalizer
	Classifier   *classify.Classifier
	Extractor    *extract.Extractor
	Locker       Locker
	Publisher    Publisher
	SyncInterval time.Duration
}

// DefaultSyncInterval is used by StartPeriodicSync when none is configured.
const DefaultSyncInterval = 15 * time.Minute

// Syncer runs sync passes for one mailbox.
type Syncer struct {
	mailbox    string
	fetcher    PageFetcher
	store      Store
	normalizer BodyNormalizer
	classifier *classify.Classifier
	extractor  *extract.Extractor
	locker     Locker
	publisher  Publisher

	syncInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewSyncer creates a syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	s := &Syncer{
		mailbox:      cfg.Mailbox,
		fetcher:      cfg.Fetcher,
		store:        cfg.Store,
		normalizer:   cfg.Normalizer,
		classifier:   cfg.Classifier,
		extractor:    cfg.Extractor,
		locker:       cfg.Locker,
		publisher:    cfg.Publisher,
		syncInterval: cfg.SyncInterval,
	}
	if s.mailbox == "" {
		s.mailbox = "me"
	}
	if s.syncInterval <= 0 {
		s.syncInterval = DefaultSyncInterval
	}
	if s.normalizer == nil {
		s.normalizer = normalize.New()
	}
	if s.classifier == nil {
		s.classifier = classify.Default()
	}
	if s.extractor == nil {
		s.extractor = extract.Default()
	}
	return s
}

// Result summarises one sync run.
type Result struct {
	Pages           int
	Messages        int
	Removed         int
	Created         int
	Updated         int
	EmailsInserted  int
	HistoryAppended int
	EventsPublished int

	// Cursor is the delta token persisted by this run, if any.
	Cursor string

	// Resynced is set when an expired cursor forced a full listing.
	Resynced bool
}

// SyncMailbox runs one pass from the durable cursor (or a full listing when
// there is none) until the provider returns a final delta token or an empty
// page. On error the durable cursor is left as it was; messages committed
// before the error stay committed. The partial Result is returned alongside
// the error.
func (s *Syncer) SyncMailbox(ctx context.Context) (*Result, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, s.mailbox)
		if err != nil {
			return nil, fmt.Errorf("acquire sync lease: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to release sync lease", "mailbox", s.mailbox, "error", err)
			}
		}()
	}

	cursor, hasCursor, err := s.store.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	slog.Info("starting mailbox sync",
		"mailbox", s.mailbox,
		"incremental", hasCursor,
	)

	res := &Result{}
	err = s.run(ctx, cursor, res)

	// 410 Gone = delta token expired, need full re-sync
	if errors.Is(err, graph.ErrGone) {
		slog.Warn("delta token expired (410 Gone), performing full re-sync",
			"mailbox", s.mailbox,
		)
		res.Resynced = true
		err = s.run(ctx, "", res)
	}
	if err != nil {
		return res, fmt.Errorf("sync mailbox %s: %w", s.mailbox, err)
	}

	slog.Info("mailbox sync complete",
		"mailbox", s.mailbox,
		"pages", res.Pages,
		"messages", res.Messages,
		"created", res.Created,
		"updated", res.Updated,
		"cursor_advanced", res.Cursor != "",
	)
	return res, nil
}

// run is the FetchingPage loop starting at request ("" = full listing).
func (s *Syncer) run(ctx context.Context, request string, res *Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.fetcher.FetchPage(ctx, s.mailbox, request)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
		}
		res.Pages++

		if err := validatePage(page, request); err != nil {
			return fmt.Errorf("page %d: %w", res.Pages, err)
		}

		for _, msg := range page.Messages {
			if msg.Removed {
				res.Removed++
				continue
			}
			if err := s.processMessage(ctx, msg, res); err != nil {
				return fmt.Errorf("message %s: %w", msg.ID, err)
			}
		}

		switch {
		case page.NextToken != "":
			request = page.NextToken
		case page.DeltaToken != "":
			if err := s.store.SetCursor(ctx, page.DeltaToken); err != nil {
				return fmt.Errorf("persist cursor: %w", err)
			}
			res.Cursor = page.DeltaToken
			slog.Debug("delta link saved", "mailbox", s.mailbox)
			return nil
		default:
			slog.Debug("empty page without continuation", "mailbox", s.mailbox)
			return nil
		}
	}
}

// validatePage enforces the page contract: at most one continuation, some
// continuation when there are messages, forward progress, and ids on every
// message.
func validatePage(page *graph.Page, request string) error {
	if page == nil {
		return fmt.Errorf("%w: no page", graph.ErrMalformedPage)
	}
	if page.NextToken != "" && page.DeltaToken != "" {
		return fmt.Errorf("%w: both next and delta tokens present", graph.ErrMalformedPage)
	}
	if page.NextToken == "" && page.DeltaToken == "" && len(page.Messages) > 0 {
		return fmt.Errorf("%w: %d messages without a continuation token", graph.ErrMalformedPage, len(page.Messages))
	}
	if page.NextToken != "" && page.NextToken == request {
		return fmt.Errorf("%w: next token repeats the request", graph.ErrMalformedPage)
	}
	for i, m := range page.Messages {
		if m.ID == "" {
			return fmt.Errorf("%w: message %d has no id", graph.ErrMalformedPage, i)
		}
	}
	return nil
}

// processMessage runs normalise, classify, extract and the reconciliation
// unit for one message.
func (s *Syncer) processMessage(ctx context.Context, msg models.Message, res *Result) error {
	bodyText, err := s.normalizer.Normalize(msg.Body.Content, msg.Body.ContentType)
	if err != nil {
		return fmt.Errorf("normalize body: %w", err)
	}

	cls := s.classifier.Classify(msg.Subject, bodyText)
	ents := s.extractor.Extract(msg.Subject, bodyText)

	var appliedDate *string
	if msg.ReceivedAt != nil {
		d := msg.ReceivedAt.UTC().Format(time.DateOnly)
		appliedDate = &d
	}

	cand := models.Candidate{
		CompanyName:   ents.Company,
		JobTitle:      ents.JobTitle,
		JobID:         ents.JobID,
		RecruiterName: ents.Recruiter,
		AppliedDate:   appliedDate,
		Status:        cls.Label,
	}

	applied, err := s.store.ApplyMessage(ctx, store.Record{
		Candidate: cand,
		Email: models.Email{
			ID:                   msg.ID,
			Subject:              msg.Subject,
			Sender:               normalize.Sender(msg.From.Name, msg.From.Address),
			ReceivedAt:           msg.ReceivedRaw,
			BodyText:             bodyText,
			Classification:       cls.Label,
			Confidence:           cls.Confidence,
			ClassificationMethod: cls.Method,
		},
	})
	if err != nil {
		return err
	}

	res.Messages++
	if applied.Created {
		res.Created++
	} else {
		res.Updated++
	}
	if applied.EmailInserted {
		res.EmailsInserted++
	}
	if applied.HistoryAppended {
		res.HistoryAppended++
	}

	slog.Debug("message reconciled",
		"mailbox", s.mailbox,
		"message_id", msg.ID,
		"job_application_id", applied.ID,
		"status", cls.Label,
		"created", applied.Created,
	)

	if applied.Created || applied.PreviousStatus != cls.Label {
		s.publish(ctx, &models.StatusEvent{
			JobApplicationID: applied.ID,
			CompanyName:      cand.CompanyName,
			JobTitle:         cand.JobTitle,
			JobID:            cand.JobID,
			PreviousStatus:   applied.PreviousStatus,
			Status:           cls.Label,
			SourceEmailID:    msg.ID,
			Created:          applied.Created,
		}, res)
	}
	return nil
}

// publish sends the event if a publisher is configured. The message is
// already committed, so failures are logged and the run continues.
func (s *Syncer) publish(ctx context.Context, event *models.StatusEvent, res *Result) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatusEvent(ctx, event); err != nil {
		slog.Error("publish status event failed",
			"mailbox", s.mailbox,
			"message_id", event.SourceEmailID,
			"error", err,
		)
		return
	}
	res.EventsPublished++
}

// StartPeriodicSync runs a sync immediately and then at the configured
// interval until Stop is called or ctx ends. Failures are logged and the
// next tick retries from the last durable cursor.
func (s *Syncer) StartPeriodicSync(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			s.syncOnce(loopCtx)

			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	slog.Info("periodic sync started", "mailbox", s.mailbox, "interval", s.syncInterval)
}

func (s *Syncer) syncOnce(ctx context.Context) {
	if _, err := s.SyncMailbox(ctx); err != nil {
		switch {
		case errors.Is(err, lock.ErrHeld):
			slog.Info("sync skipped, another runner holds the lease", "mailbox", s.mailbox)
		case ctx.Err() != nil:
			// shutting down
		default:
			slog.Error("periodic sync failed", "mailbox", s.mailbox, "error", err)
		}
	}
}

// Stop shuts down the periodic sync loop.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
