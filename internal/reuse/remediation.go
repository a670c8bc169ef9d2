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

package reuse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/observability/metrics"
)

// TxRunner executes a function inside a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// GrantRepository revokes issued grants during remediation.
type GrantRepository interface {
	// RevokeTokensBySubject revokes every outstanding refresh token for
	// the subject. An empty clientID widens the sweep to all clients.
	RevokeTokensBySubject(ctx context.Context, subjectID, clientID string) (int64, error)

	// RevokeAuthorizationsBySubject revokes stored authorization grants
	// for the subject.
	RevokeAuthorizationsBySubject(ctx context.Context, subjectID, clientID string) (int64, error)
}

// SessionInvalidator cuts the subject's sessions and bumps the
// security stamp so outstanding access tokens fail online checks.
type SessionInvalidator interface {
	InvalidateSubjectSessions(ctx context.Context, subjectID string) error
}

// Remediator executes the response to a confirmed refresh token reuse:
// revoke everything the subject holds and invalidate their sessions.
type Remediator struct {
	tx        TxRunner
	grants    GrantRepository
	sessions  SessionInvalidator
	incidents *incident.Service
	meter     *metrics.Meter
}

// NewRemediator creates a remediator. meter may be nil.
func NewRemediator(tx TxRunner, grants GrantRepository, sessions SessionInvalidator, incidents *incident.Service, meter *metrics.Meter) *Remediator {
	return &Remediator{tx: tx, grants: grants, sessions: sessions, incidents: incidents, meter: meter}
}

// Remediation reports what a remediation sweep revoked.
type Remediation struct {
	TokensRevoked         int64
	AuthorizationsRevoked int64
}

// RevokeSubjectTokens runs the full remediation sweep. It is detached
// from the caller's cancellation: once reuse is confirmed the sweep
// runs to completion even if the triggering request is abandoned.
// An empty clientID (reuse where the presenting client could not be
// established) widens revocation to all of the subject's clients.
// The incident is recorded even when nothing remained to revoke.
func (r *Remediator) RevokeSubjectTokens(ctx context.Context, subjectID, clientID, reusedTokenID string) (*Remediation, error) {
	ctx = context.WithoutCancel(ctx)

	result := &Remediation{}
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := r.grants.RevokeTokensBySubject(ctx, subjectID, clientID)
		if err != nil {
			return fmt.Errorf("failed to revoke subject tokens: %w", err)
		}
		result.TokensRevoked = n

		n, err = r.grants.RevokeAuthorizationsBySubject(ctx, subjectID, clientID)
		if err != nil {
			return fmt.Errorf("failed to revoke subject authorizations: %w", err)
		}
		result.AuthorizationsRevoked = n

		if err := r.sessions.InvalidateSubjectSessions(ctx, subjectID); err != nil {
			return fmt.Errorf("failed to invalidate subject sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.incidents.Record(ctx, incident.Incident{
		Type:      incident.TypeSubjectTokensRevoked,
		Severity:  incident.SeverityHigh,
		SubjectID: subjectID,
		ClientID:  clientID,
		Detail: map[string]any{
			"reused_token_id":        reusedTokenID,
			"tokens_revoked":         result.TokensRevoked,
			"authorizations_revoked": result.AuthorizationsRevoked,
			"all_clients":            clientID == "",
		},
	})

	if r.meter != nil {
		r.meter.TokensRevoked.Add(ctx, result.TokensRevoked)
	}
	slog.WarnContext(ctx, "subject tokens revoked after refresh token reuse",
		logger.SubjectID(subjectID),
		logger.ClientID(clientID),
		slog.Int64("tokens_revoked", result.TokensRevoked),
	)

	return result, nil
}
