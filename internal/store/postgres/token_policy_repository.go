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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trustgate/trustgate/internal/policy"
)

// TokenPolicyRepository implements policy.TokenPolicyRepository. The
// sparse override is stored as a single JSONB document so absent
// fields survive the round trip as absent, not as zeroes.
type TokenPolicyRepository struct {
	db *DB
}

// NewTokenPolicyRepository creates a new token policy repository
func NewTokenPolicyRepository(db *DB) *TokenPolicyRepository {
	return &TokenPolicyRepository{db: db}
}

// GetOverride reads the stored override
func (r *TokenPolicyRepository) GetOverride(ctx context.Context) (*policy.TokenPolicyOverride, error) {
	var (
		raw       []byte
		updatedAt time.Time
		updatedBy string
		version   int64
	)
	err := r.db.querier(ctx).QueryRow(ctx, `
		SELECT override, updated_at, updated_by, version
		FROM token_policy_overrides
		WHERE id = 1
	`).Scan(&raw, &updatedAt, &updatedBy, &version)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policy.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get token policy override: %w", err)
	}

	var o policy.TokenPolicyOverride
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to decode token policy override: %w", err)
	}
	o.UpdatedAt = updatedAt
	o.UpdatedBy = updatedBy
	o.Version = version

	return &o, nil
}

// SaveOverride upserts the override, bumping its version
func (r *TokenPolicyRepository) SaveOverride(ctx context.Context, o *policy.TokenPolicyOverride) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode token policy override: %w", err)
	}

	result, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO token_policy_overrides (id, override, updated_at, updated_by, version)
		VALUES (1, $1, $2, $3, 1)
		ON CONFLICT (id) DO UPDATE
		SET override = EXCLUDED.override, updated_at = EXCLUDED.updated_at,
		    updated_by = EXCLUDED.updated_by, version = token_policy_overrides.version + 1
		WHERE token_policy_overrides.version = $4
	`, raw, o.UpdatedAt, o.UpdatedBy, o.Version)

	if err != nil {
		return fmt.Errorf("failed to save token policy override: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrVersionConflict
	}

	return nil
}
