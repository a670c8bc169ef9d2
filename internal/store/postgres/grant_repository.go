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
	"fmt"
	"time"
)

// GrantRepository implements reuse.GrantRepository over the refresh
// token grant and authorization grant tables.
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// RevokeTokensBySubject revokes outstanding refresh tokens for the
// subject. An empty clientID sweeps all clients.
func (r *GrantRepository) RevokeTokensBySubject(ctx context.Context, subjectID, clientID string) (int64, error) {
	query := `
		UPDATE refresh_token_grants
		SET is_revoked = TRUE, revoked_at = $2
		WHERE subject_id = $1 AND NOT is_revoked
	`
	args := []any{subjectID, time.Now()}
	if clientID != "" {
		query += ` AND client_id = $3`
		args = append(args, clientID)
	}

	result, err := r.db.querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke subject refresh tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// RevokeAuthorizationsBySubject revokes stored authorization grants
func (r *GrantRepository) RevokeAuthorizationsBySubject(ctx context.Context, subjectID, clientID string) (int64, error) {
	query := `
		UPDATE authorization_grants
		SET is_revoked = TRUE, revoked_at = $2
		WHERE subject_id = $1 AND NOT is_revoked
	`
	args := []any{subjectID, time.Now()}
	if clientID != "" {
		query += ` AND client_id = $3`
		args = append(args, clientID)
	}

	result, err := r.db.querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke subject authorizations: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteExpired prunes expired grants of both kinds
func (r *GrantRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()

	tokens, err := r.db.querier(ctx).Exec(ctx, `
		DELETE FROM refresh_token_grants WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh token grants: %w", err)
	}

	return tokens.RowsAffected(), nil
}
