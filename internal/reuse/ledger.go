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
	"errors"
	"time"
)

// ErrAlreadyConsumed is returned by LedgerRepository.Insert when the
// token id is already present. The insert-or-fail contract is the
// detection primitive: whichever caller loses the race sees this error.
var ErrAlreadyConsumed = errors.New("refresh token already consumed")

// Outcome classifies a redemption attempt.
type Outcome string

const (
	// OutcomeConsumed is the happy path: first redemption.
	OutcomeConsumed Outcome = "consumed"

	// OutcomeWithinLeeway is a repeat redemption inside the configured
	// leeway window, treated as a benign retry, not an attack.
	OutcomeWithinLeeway Outcome = "within_leeway"

	// OutcomeReused is a repeat redemption outside the leeway window:
	// confirmed reuse, remediation fires.
	OutcomeReused Outcome = "reused"

	// OutcomeMissingTokenID marks a refresh token without an id claim.
	// It cannot be tracked, so it must be rejected outright.
	OutcomeMissingTokenID Outcome = "missing_token_id"
)

// ConsumedToken is one ledger entry. Entries outlive the token's own
// expiry only as long as reuse of it could still matter.
type ConsumedToken struct {
	TokenID    string
	SubjectID  string
	ClientID   string
	ConsumedAt time.Time
	ExpiresAt  time.Time
}

// LedgerRepository defines the interface for consumed-token
// persistence.
type LedgerRepository interface {
	// Insert records a consumption. Must fail with ErrAlreadyConsumed
	// when the token id is already present, atomically with respect to
	// concurrent inserts of the same id.
	Insert(ctx context.Context, entry *ConsumedToken) error

	// Get retrieves an entry by token id.
	Get(ctx context.Context, tokenID string) (*ConsumedToken, error)

	// DeleteExpired removes entries whose tracked token expired before
	// the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger classifies redemptions against the consumed-token ledger.
type Ledger struct {
	repo LedgerRepository
	now  func() time.Time
}

// NewLedger creates a new ledger.
func NewLedger(repo LedgerRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// TryConsume attempts to mark the token consumed. The first caller for
// a given id wins OutcomeConsumed; later callers are classified by how
// long after the first consumption they arrive.
func (l *Ledger) TryConsume(ctx context.Context, entry ConsumedToken, leeway time.Duration) (Outcome, error) {
	if entry.TokenID == "" {
		return OutcomeMissingTokenID, nil
	}
	if entry.ConsumedAt.IsZero() {
		entry.ConsumedAt = l.now()
	}

	err := l.repo.Insert(ctx, &entry)
	if err == nil {
		return OutcomeConsumed, nil
	}
	if !errors.Is(err, ErrAlreadyConsumed) {
		return "", err
	}

	prior, err := l.repo.Get(ctx, entry.TokenID)
	if err != nil {
		return "", err
	}

	if l.now().Sub(prior.ConsumedAt) <= leeway {
		return OutcomeWithinLeeway, nil
	}
	return OutcomeReused, nil
}

// Cleanup prunes ledger entries for tokens expired longer than the
// retention window; reuse of an expired token fails on expiry alone.
func (l *Ledger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return l.repo.DeleteExpired(ctx, l.now().Add(-retention))
}
