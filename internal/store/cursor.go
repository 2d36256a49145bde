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
)

// GetCursor returns the persisted delta token. ok is false when no sync has
// completed yet, meaning the next run starts from a full listing.
func (s *Store) GetCursor(ctx context.Context) (token string, ok bool, err error) {
	var link sql.NullString
	err = s.db.GetContext(ctx, &link, `SELECT delta_link FROM sync_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, opErr("get cursor", err)
	}
	if !link.Valid || link.String == "" {
		return "", false, nil
	}
	return link.String, true, nil
}

// SetCursor replaces the persisted delta token.
func (s *Store) SetCursor(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sync_state (id, delta_link, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			delta_link = excluded.delta_link,
			updated_at = excluded.updated_at`),
		token, formatTime(s.now()),
	)
	return opErr("set cursor", err)
}
