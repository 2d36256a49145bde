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
	"fmt"
	"log/slog"
)

// migration is one schema version. Statements run in order inside a single
// transaction.
type migration struct {
	version    int
	statements []string
}

// migrations must stay in ascending version order. Column types are limited
// to those both SQLite and Postgres accept.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS job_applications (
				id             TEXT PRIMARY KEY,
				match_key      TEXT NOT NULL,
				company_name   TEXT,
				job_title      TEXT,
				job_id         TEXT,
				recruiter_name TEXT,
				applied_date   TEXT,
				current_status TEXT NOT NULL,
				last_email_id  TEXT,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_applications_match_key
				ON job_applications(match_key)`,
			`CREATE TABLE IF NOT EXISTS emails (
				id                    TEXT PRIMARY KEY,
				subject               TEXT,
				sender                TEXT,
				received_at           TEXT,
				body_text             TEXT,
				classification        TEXT,
				confidence            DOUBLE PRECISION,
				classification_method TEXT,
				job_application_id    TEXT REFERENCES job_applications(id),
				created_at            TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_emails_job_application
				ON emails(job_application_id)`,
			`CREATE TABLE IF NOT EXISTS status_history (
				id                 TEXT PRIMARY KEY,
				job_application_id TEXT NOT NULL REFERENCES job_applications(id),
				status             TEXT NOT NULL,
				source_email_id    TEXT NOT NULL,
				changed_at         TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_status_history_observation
				ON status_history(job_application_id, source_email_id, status)`,
			`CREATE TABLE IF NOT EXISTS sync_state (
				id         INTEGER PRIMARY KEY CHECK (id = 1),
				delta_link TEXT,
				updated_at TEXT NOT NULL
			)`,
		},
	},
}

// runMigrations applies every migration newer than the recorded version.
func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return opErr("create schema_version", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return opErr("read schema version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.WithTx(ctx, func(tx *Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.tx.ExecContext(ctx,
				tx.tx.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version)
			return err
		})
		if err != nil {
			return opErr(fmt.Sprintf("apply migration v%d", m.version), err)
		}
		slog.Debug("applied migration", "version", m.version)
	}

	return nil
}
