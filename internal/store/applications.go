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

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobtrail/mailsync/internal/models"
)

// Null-safe three-way equality on the match triple. A NULL parameter only
// matches a NULL column; "=" alone would never match NULL.
const matchQuery = `
	SELECT id, current_status FROM job_applications
	WHERE (job_id = :job_id OR (job_id IS NULL AND CAST(:job_id AS TEXT) IS NULL))
	  AND (company_name = :company_name OR (company_name IS NULL AND CAST(:company_name AS TEXT) IS NULL))
	  AND (job_title = :job_title OR (job_title IS NULL AND CAST(:job_title AS TEXT) IS NULL))
	LIMIT 1`

type matchRow struct {
	ID            string `db:"id"`
	CurrentStatus string `db:"current_status"`
}

func findMatching(ctx context.Context, q queryer, key models.MatchKey) (*matchRow, error) {
	query, args, err := named(q, matchQuery, map[string]any{
		"job_id":       nullable(key.JobID),
		"company_name": nullable(key.CompanyName),
		"job_title":    nullable(key.JobTitle),
	})
	if err != nil {
		return nil, err
	}

	var row matchRow
	err = sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindMatchingJobApplication returns the id of the job application whose
// (job id, company, title) equals key, treating nil as equal only to nil.
func (s *Store) FindMatchingJobApplication(ctx context.Context, key models.MatchKey) (string, bool, error) {
	row, err := findMatching(ctx, s.db, key)
	if err != nil {
		return "", false, opErr("find job application", err)
	}
	if row == nil {
		return "", false, nil
	}
	return row.ID, true, nil
}

// Upserted describes the outcome of UpsertJobApplication.
type Upserted struct {
	ID             string
	Created        bool
	PreviousStatus models.Status // empty when Created
}

// UpsertJobApplication updates the matching job application in place or
// inserts a new one. On update the status is overwritten, the recruiter is
// only replaced by a non-nil value, and the applied date is left alone.
//
// The insert is guarded by the unique match_key, so an insert racing a
// concurrent writer for the same triple turns into the update.
func (t *Tx) UpsertJobApplication(ctx context.Context, c models.Candidate, sourceMessageID string) (Upserted, error) {
	now := formatTime(t.now)

	existing, err := findMatching(ctx, t.tx, c.Key())
	if err != nil {
		return Upserted{}, opErr("find job application", err)
	}
	if existing != nil {
		return t.updateApplication(ctx, existing, c, sourceMessageID, now)
	}

	newID := uuid.NewString()
	key := c.Key().Canonical()
	var id string
	err = t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO job_applications (
			id, match_key, company_name, job_title, job_id, recruiter_name,
			applied_date, current_status, last_email_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_key) DO NOTHING
		RETURNING id`),
		newID, key, nullable(c.CompanyName), nullable(c.JobTitle), nullable(c.JobID),
		nullable(c.RecruiterName), nullable(c.AppliedDate), string(c.Status), sourceMessageID, now, now,
	)
	if err == nil {
		return Upserted{ID: id, Created: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Upserted{}, opErr("insert job application", err)
	}

	// Another writer committed the same key after our match.
	var row matchRow
	err = t.tx.GetContext(ctx, &row, t.tx.Rebind(
		`SELECT id, current_status FROM job_applications WHERE match_key = ?`), key)
	if err != nil {
		return Upserted{}, opErr("find job application", err)
	}
	return t.updateApplication(ctx, &row, c, sourceMessageID, now)
}

func (t *Tx) updateApplication(ctx context.Context, existing *matchRow, c models.Candidate, sourceMessageID, now string) (Upserted, error) {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE job_applications
		SET current_status = ?,
		    recruiter_name = COALESCE(?, recruiter_name),
		    last_email_id  = ?,
		    updated_at     = ?
		WHERE id = ?`),
		string(c.Status), nullable(c.RecruiterName), sourceMessageID, now, existing.ID,
	)
	if err != nil {
		return Upserted{}, opErr("update job application", err)
	}
	return Upserted{
		ID:             existing.ID,
		PreviousStatus: models.Status(existing.CurrentStatus),
	}, nil
}

// InsertEmailIfAbsent stores e unless an email with the same id exists.
// It reports whether a row was written.
func (t *Tx) InsertEmailIfAbsent(ctx context.Context, e models.Email) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO emails (
			id, subject, sender, received_at, body_text, classification,
			confidence, classification_method, job_application_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, e.Subject, e.Sender, e.ReceivedAt, e.BodyText, string(e.Classification),
		e.Confidence, e.ClassificationMethod, nullable(e.JobApplicationID), formatTime(t.now),
	)
	if err != nil {
		return false, opErr("insert email", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opErr("insert email", err)
	}
	return n > 0, nil
}

// AppendStatusHistory records one status observation. It never compares
// with the previous entry; only a replay of the exact same observation
// (same application, message and status) is ignored.
func (t *Tx) AppendStatusHistory(ctx context.Context, jobApplicationID string, status models.Status, sourceMessageID string) (bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return false, opErr("append status history", err)
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO status_history (id, job_application_id, status, source_email_id, changed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_application_id, source_email_id, status) DO NOTHING`),
		id.String(), jobApplicationID, string(status), sourceMessageID, formatTime(t.now),
	)
	if err != nil {
		return false, opErr("append status history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opErr("append status history", err)
	}
	return n > 0, nil
}

// Record is everything derived from one message.
type Record struct {
	Candidate models.Candidate
	Email     models.Email
}

// Applied describes the effects of ApplyMessage.
type Applied struct {
	Upserted
	EmailInserted   bool
	HistoryAppended bool
}

// ApplyMessage upserts the job application, inserts the email and appends
// the status history entry as one transaction. On error nothing is written.
func (s *Store) ApplyMessage(ctx context.Context, rec Record) (*Applied, error) {
	var out Applied
	err := s.WithTx(ctx, func(tx *Tx) error {
		up, err := tx.UpsertJobApplication(ctx, rec.Candidate, rec.Email.ID)
		if err != nil {
			return err
		}
		out.Upserted = up

		email := rec.Email
		email.JobApplicationID = &up.ID
		if out.EmailInserted, err = tx.InsertEmailIfAbsent(ctx, email); err != nil {
			return err
		}

		out.HistoryAppended, err = tx.AppendStatusHistory(ctx, up.ID, rec.Candidate.Status, rec.Email.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
