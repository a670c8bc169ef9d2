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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trustgate/trustgate/internal/session"
)

// SessionRepository implements session.Repository and
// reuse.SessionInvalidator.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO sessions (id, subject_id, ip_address, user_agent, expires_at, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		sess.ID, sess.SubjectID, sess.IPAddress, sess.UserAgent,
		sess.ExpiresAt, sess.CreatedAt, sess.LastSeenAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	var sess session.Session

	err := r.db.querier(ctx).QueryRow(ctx, `
		SELECT id, subject_id, ip_address, user_agent, expires_at, created_at, last_seen_at
		FROM sessions
		WHERE id = $1
	`, sessionID).Scan(
		&sess.ID, &sess.SubjectID, &sess.IPAddress, &sess.UserAgent,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.LastSeenAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &sess, nil
}

// Touch updates session last seen time
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	result, err := r.db.querier(ctx).Exec(ctx, `
		UPDATE sessions SET last_seen_at = $2
		WHERE id = $1
	`, sessionID, at)

	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}

	return nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.querier(ctx).Exec(ctx, `
		DELETE FROM sessions WHERE id = $1
	`, sessionID)

	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// InvalidateSubjectSessions deletes every session the subject holds and
// rotates their security stamp, so access tokens checked online against
// the stamp fail immediately.
func (r *SessionRepository) InvalidateSubjectSessions(ctx context.Context, subjectID string) error {
	q := r.db.querier(ctx)

	if _, err := q.Exec(ctx, `
		DELETE FROM sessions WHERE subject_id = $1
	`, subjectID); err != nil {
		return fmt.Errorf("failed to delete subject sessions: %w", err)
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO security_stamps (subject_id, stamp, rotated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
		SET stamp = EXCLUDED.stamp, rotated_at = EXCLUDED.rotated_at
	`, subjectID, uuid.NewString(), time.Now()); err != nil {
		return fmt.Errorf("failed to rotate security stamp: %w", err)
	}

	return nil
}

// GetSecurityStamp returns the subject's current stamp, or empty when
// none has been issued yet.
func (r *SessionRepository) GetSecurityStamp(ctx context.Context, subjectID string) (string, error) {
	var stamp string
	err := r.db.querier(ctx).QueryRow(ctx, `
		SELECT stamp FROM security_stamps WHERE subject_id = $1
	`, subjectID).Scan(&stamp)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get security stamp: %w", err)
	}

	return stamp, nil
}

// DeleteExpired deletes all expired sessions
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.querier(ctx).Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, time.Now())

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return result.RowsAffected(), nil
}
