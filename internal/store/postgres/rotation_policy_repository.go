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

	"github.com/jackc/pgx/v5"

	"github.com/trustgate/trustgate/internal/policy"
)

// RotationPolicyRepository implements policy.RotationPolicyRepository
type RotationPolicyRepository struct {
	db *DB
}

// NewRotationPolicyRepository creates a new rotation policy repository
func NewRotationPolicyRepository(db *DB) *RotationPolicyRepository {
	return &RotationPolicyRepository{db: db}
}

const rotationPolicyColumns = `
	enabled, rotation_interval_days, grace_period_days, jwks_cache_margin_minutes,
	next_rotation_at, last_rotation_at, updated_at, updated_by, version
`

// Get reads the singleton policy row
func (r *RotationPolicyRepository) Get(ctx context.Context) (*policy.KeyRotationPolicy, error) {
	return r.scanOne(r.db.querier(ctx).QueryRow(ctx,
		`SELECT `+rotationPolicyColumns+` FROM key_rotation_policy WHERE id = 1`,
	))
}

// GetForUpdate reads the policy under an exclusive row lock. Every
// rotation attempt across all instances queues on this lock.
func (r *RotationPolicyRepository) GetForUpdate(ctx context.Context) (*policy.KeyRotationPolicy, error) {
	return r.scanOne(r.db.querier(ctx).QueryRow(ctx,
		`SELECT `+rotationPolicyColumns+` FROM key_rotation_policy WHERE id = 1 FOR UPDATE`,
	))
}

func (r *RotationPolicyRepository) scanOne(row pgx.Row) (*policy.KeyRotationPolicy, error) {
	var p policy.KeyRotationPolicy
	err := row.Scan(
		&p.Enabled, &p.RotationIntervalDays, &p.GracePeriodDays, &p.JWKSCacheMarginMinutes,
		&p.NextRotationAt, &p.LastRotationAt, &p.UpdatedAt, &p.UpdatedBy, &p.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policy.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get rotation policy: %w", err)
	}
	return &p, nil
}

// Update writes the policy, bumping the version. A stale version means
// someone else wrote in between: ErrVersionConflict.
func (r *RotationPolicyRepository) Update(ctx context.Context, p *policy.KeyRotationPolicy) error {
	result, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE key_rotation_policy
		SET enabled = $1, rotation_interval_days = $2, grace_period_days = $3,
		    jwks_cache_margin_minutes = $4, next_rotation_at = $5, last_rotation_at = $6,
		    updated_at = $7, updated_by = $8, version = version + 1
		WHERE id = 1 AND version = $9
	`,
		p.Enabled, p.RotationIntervalDays, p.GracePeriodDays,
		p.JWKSCacheMarginMinutes, p.NextRotationAt, p.LastRotationAt,
		p.UpdatedAt, p.UpdatedBy, p.Version,
	)

	if err != nil {
		return fmt.Errorf("failed to update rotation policy: %w", err)
	}
	if result.RowsAffected() == 0 {
		return policy.ErrVersionConflict
	}

	return nil
}

// Seed inserts the policy if no row exists yet
func (r *RotationPolicyRepository) Seed(ctx context.Context, p *policy.KeyRotationPolicy) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO key_rotation_policy (
			id, enabled, rotation_interval_days, grace_period_days, jwks_cache_margin_minutes,
			next_rotation_at, last_rotation_at, updated_at, updated_by
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		p.Enabled, p.RotationIntervalDays, p.GracePeriodDays, p.JWKSCacheMarginMinutes,
		p.NextRotationAt, p.LastRotationAt, p.UpdatedAt, p.UpdatedBy,
	)

	if err != nil {
		return fmt.Errorf("failed to seed rotation policy: %w", err)
	}

	return nil
}
