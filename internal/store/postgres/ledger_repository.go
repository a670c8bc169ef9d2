// Copyright 2026 The TrustGate Authors
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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trustgate/trustgate/internal/reuse"
)

// LedgerRepository implements reuse.LedgerRepository
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new consumed-token ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Insert records a consumption. The primary key makes the second
// insert of a token id fail atomically, which is exactly the race the
// reuse detector needs decided.
func (r *LedgerRepository) Insert(ctx context.Context, entry *reuse.ConsumedToken) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO consumed_refresh_tokens (token_id, subject_id, client_id, consumed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.TokenID, entry.SubjectID, entry.ClientID, entry.ConsumedAt, entry.ExpiresAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return reuse.ErrAlreadyConsumed
		}
		return fmt.Errorf("failed to record consumed token: %w", err)
	}

	return nil
}

// Get retrieves a ledger entry by token id
func (r *LedgerRepository) Get(ctx context.Context, tokenID string) (*reuse.ConsumedToken, error) {
	var entry reuse.ConsumedToken
	err := r.db.querier(ctx).QueryRow(ctx, `
		SELECT token_id, subject_id, client_id, consumed_at, expires_at
		FROM consumed_refresh_tokens
		WHERE token_id = $1
	`, tokenID).Scan(&entry.TokenID, &entry.SubjectID, &entry.ClientID, &entry.ConsumedAt, &entry.ExpiresAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("consumed token %s not found", tokenID)
		}
		return nil, fmt.Errorf("failed to get consumed token: %w", err)
	}

	return &entry, nil
}

// DeleteExpired removes entries for long-expired tokens
func (r *LedgerRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.querier(ctx).Exec(ctx, `
		DELETE FROM consumed_refresh_tokens WHERE expires_at < $1
	`, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired ledger entries: %w", err)
	}

	return result.RowsAffected(), nil
}
