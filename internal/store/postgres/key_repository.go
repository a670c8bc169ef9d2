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

	"github.com/trustgate/trustgate/internal/keyring"
)

const uniqueViolation = "23505"

// KeyRepository implements keyring.Repository
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create stores a new key. The partial unique index on Active status
// turns a concurrent second activation into ErrActiveKeyExists.
func (r *KeyRepository) Create(ctx context.Context, key *keyring.SigningKey) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO signing_keys (
			kid, status, algorithm, key_type, public_jwk, private_key_protected,
			created_at, activated_at, retired_at, revoked_at, not_before, not_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		key.Kid, key.Status, key.Algorithm, key.KeyType, key.PublicJWK, key.PrivateKeyProtected,
		key.CreatedAt, key.ActivatedAt, key.RetiredAt, key.RevokedAt, key.NotBefore, key.NotAfter,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return keyring.ErrActiveKeyExists
		}
		return fmt.Errorf("failed to create signing key: %w", err)
	}

	return nil
}

// GetByKid retrieves a key by its identifier
func (r *KeyRepository) GetByKid(ctx context.Context, kid string) (*keyring.SigningKey, error) {
	return r.scanOne(r.db.querier(ctx).QueryRow(ctx, `
		SELECT kid, status, algorithm, key_type, public_jwk, private_key_protected,
		       created_at, activated_at, retired_at, revoked_at, not_before, not_after
		FROM signing_keys
		WHERE kid = $1
	`, kid))
}

// GetByStatus retrieves the single key in the given status
func (r *KeyRepository) GetByStatus(ctx context.Context, status keyring.KeyStatus) (*keyring.SigningKey, error) {
	return r.scanOne(r.db.querier(ctx).QueryRow(ctx, `
		SELECT kid, status, algorithm, key_type, public_jwk, private_key_protected,
		       created_at, activated_at, retired_at, revoked_at, not_before, not_after
		FROM signing_keys
		WHERE status = $1
	`, status))
}

func (r *KeyRepository) scanOne(row pgx.Row) (*keyring.SigningKey, error) {
	var key keyring.SigningKey
	err := row.Scan(
		&key.Kid, &key.Status, &key.Algorithm, &key.KeyType, &key.PublicJWK, &key.PrivateKeyProtected,
		&key.CreatedAt, &key.ActivatedAt, &key.RetiredAt, &key.RevokedAt, &key.NotBefore, &key.NotAfter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, keyring.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}
	return &key, nil
}

// SetStatus transitions a key, stamping the matching timestamp
func (r *KeyRepository) SetStatus(ctx context.Context, kid string, status keyring.KeyStatus, at time.Time) error {
	var column string
	switch status {
	case keyring.StatusRetired:
		column = "retired_at"
	case keyring.StatusRevoked:
		column = "revoked_at"
	case keyring.StatusActive:
		column = "activated_at"
	default:
		column = ""
	}

	query := `UPDATE signing_keys SET status = $2 WHERE kid = $1`
	if column != "" {
		query = fmt.Sprintf(`UPDATE signing_keys SET status = $2, %s = $3 WHERE kid = $1`, column)
	}

	var (
		result pgconn.CommandTag
		err    error
	)
	if column != "" {
		result, err = r.db.querier(ctx).Exec(ctx, query, kid, status, at)
	} else {
		result, err = r.db.querier(ctx).Exec(ctx, query, kid, status)
	}
	if err != nil {
		return fmt.Errorf("failed to set key status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return keyring.ErrKeyNotFound
	}

	return nil
}

// SetNotAfter stamps the verification deadline on a key
func (r *KeyRepository) SetNotAfter(ctx context.Context, kid string, notAfter time.Time) error {
	result, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE signing_keys SET not_after = $2 WHERE kid = $1
	`, kid, notAfter)

	if err != nil {
		return fmt.Errorf("failed to set key deadline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return keyring.ErrKeyNotFound
	}

	return nil
}

// DeleteRetiredBefore permanently removes old retired keys
func (r *KeyRepository) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.querier(ctx).Exec(ctx, `
		DELETE FROM signing_keys
		WHERE status = 'retired' AND retired_at < $1
	`, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to delete retired keys: %w", err)
	}

	return result.RowsAffected(), nil
}
