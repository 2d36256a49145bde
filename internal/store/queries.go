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

	"github.com/jobtrail/mailsync/internal/models"
)

type jobApplicationRow struct {
	ID            string         `db:"id"`
	CompanyName   sql.NullString `db:"company_name"`
	JobTitle      sql.NullString `db:"job_title"`
	JobID         sql.NullString `db:"job_id"`
	RecruiterName sql.NullString `db:"recruiter_name"`
	AppliedDate   sql.NullString `db:"applied_date"`
	CurrentStatus string         `db:"current_status"`
	LastEmailID   sql.NullString `db:"last_email_id"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r jobApplicationRow) model() models.JobApplication {
	return models.JobApplication{
		ID:            r.ID,
		CompanyName:   fromNull(r.CompanyName),
		JobTitle:      fromNull(r.JobTitle),
		JobID:         fromNull(r.JobID),
		RecruiterName: fromNull(r.RecruiterName),
		AppliedDate:   fromNull(r.AppliedDate),
		CurrentStatus: models.Status(r.CurrentStatus),
		LastEmailID:   fromNull(r.LastEmailID),
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

const jobApplicationColumns = `id, company_name, job_title, job_id, recruiter_name,
	applied_date, current_status, last_email_id, created_at, updated_at`

// GetJobApplication returns a job application by id, or nil if absent.
func (s *Store) GetJobApplication(ctx context.Context, id string) (*models.JobApplication, error) {
	var row jobApplicationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+jobApplicationColumns+` FROM job_applications WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get job application", err)
	}
	ja := row.model()
	return &ja, nil
}

// ListJobApplications returns all job applications, oldest first.
func (s *Store) ListJobApplications(ctx context.Context) ([]models.JobApplication, error) {
	var rows []jobApplicationRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobApplicationColumns+` FROM job_applications ORDER BY created_at, id`); err != nil {
		return nil, opErr("list job applications", err)
	}
	out := make([]models.JobApplication, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

type emailRow struct {
	ID                   string          `db:"id"`
	Subject              sql.NullString  `db:"subject"`
	Sender               sql.NullString  `db:"sender"`
	ReceivedAt           sql.NullString  `db:"received_at"`
	BodyText             sql.NullString  `db:"body_text"`
	Classification       sql.NullString  `db:"classification"`
	Confidence           sql.NullFloat64 `db:"confidence"`
	ClassificationMethod sql.NullString  `db:"classification_method"`
	JobApplicationID     sql.NullString  `db:"job_application_id"`
	CreatedAt            string          `db:"created_at"`
}

// GetEmail returns a stored email by message id, or nil if absent.
func (s *Store) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, subject, sender, received_at, body_text, classification,
		       confidence, classification_method, job_application_id, created_at
		FROM emails WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get email", err)
	}
	return &models.Email{
		ID:                   row.ID,
		Subject:              row.Subject.String,
		Sender:               row.Sender.String,
		ReceivedAt:           row.ReceivedAt.String,
		BodyText:             row.BodyText.String,
		Classification:       models.Status(row.Classification.String),
		Confidence:           row.Confidence.Float64,
		ClassificationMethod: row.ClassificationMethod.String,
		JobApplicationID:     fromNull(row.JobApplicationID),
		CreatedAt:            parseTime(row.CreatedAt),
	}, nil
}

// CountEmails returns the number of stored emails.
func (s *Store) CountEmails(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM emails`); err != nil {
		return 0, opErr("count emails", err)
	}
	return n, nil
}

type historyRow struct {
	ID               string `db:"id"`
	JobApplicationID string `db:"job_application_id"`
	Status           string `db:"status"`
	SourceEmailID    string `db:"source_email_id"`
	ChangedAt        string `db:"changed_at"`
}

// ListStatusHistory returns the history of one job application in the order
// it was recorded. An empty jobApplicationID lists every entry.
func (s *Store) ListStatusHistory(ctx context.Context, jobApplicationID string) ([]models.StatusHistoryEntry, error) {
	query := `SELECT id, job_application_id, status, source_email_id, changed_at FROM status_history`
	var args []any
	if jobApplicationID != "" {
		query += ` WHERE job_application_id = ?`
		args = append(args, jobApplicationID)
	}
	query += ` ORDER BY changed_at, id`

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, opErr("list status history", err)
	}
	out := make([]models.StatusHistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.StatusHistoryEntry{
			ID:               r.ID,
			JobApplicationID: r.JobApplicationID,
			Status:           models.Status(r.Status),
			SourceEmailID:    r.SourceEmailID,
			ChangedAt:        parseTime(r.ChangedAt),
		})
	}
	return out, nil
}
