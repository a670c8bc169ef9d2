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

package rotation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/keyring"
	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/observability/metrics"
	"github.com/trustgate/trustgate/internal/policy"
)

// Trigger identifies what initiated a rotation attempt.
type Trigger string

const (
	TriggerScheduled  Trigger = "scheduled"
	TriggerOperator   Trigger = "operator"
	TriggerCorruption Trigger = "corruption"
)

// TxRunner executes a function inside a single database transaction.
// Repository calls made with the callback's context share that
// transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Outcome reports what a rotation attempt did.
type Outcome struct {
	Rotated     bool
	Initialized bool
	NewKid      string
	PreviousKid string

	NextRotationAt *time.Time
}

// Coordinator decides when the ring rotates. All ring transitions and
// the matching policy schedule update commit in one transaction, taken
// under an exclusive lock on the policy row so concurrent schedulers,
// replicas, and operator triggers serialize: the ring can never
// half-rotate or double-rotate.
type Coordinator struct {
	tx         TxRunner
	policyRepo policy.RotationPolicyRepository
	keys       *keyring.Service
	incidents  *incident.Service
	meter      *metrics.Meter

	invalidations chan struct{}
	now           func() time.Time
}

// NewCoordinator creates a rotation coordinator. meter may be nil.
func NewCoordinator(tx TxRunner, policyRepo policy.RotationPolicyRepository, keys *keyring.Service, incidents *incident.Service, meter *metrics.Meter) *Coordinator {
	return &Coordinator{
		tx:            tx,
		policyRepo:    policyRepo,
		keys:          keys,
		incidents:     incidents,
		meter:         meter,
		invalidations: make(chan struct{}, 1),
		now:           time.Now,
	}
}

// Invalidations signals that cached signing credentials and JWKS
// snapshots must be refreshed. The channel is buffered and coalescing:
// consumers drain it, they never miss the need to refresh.
func (c *Coordinator) Invalidations() <-chan struct{} {
	return c.invalidations
}

func (c *Coordinator) signalInvalidation() {
	select {
	case c.invalidations <- struct{}{}:
	default:
	}
}

// RotateIfDue evaluates the rotation policy and advances the ring when
// warranted. Scheduled triggers respect the policy's enablement and
// schedule; operator triggers rotate unconditionally. The whole
// evaluation runs under the policy row lock, so calling this from any
// number of processes at once performs at most one rotation.
func (c *Coordinator) RotateIfDue(ctx context.Context, trigger Trigger) (*Outcome, error) {
	if c.meter != nil {
		c.meter.RotationChecks.Add(ctx, 1)
	}

	var (
		outcome   Outcome
		incidents []incident.Incident
	)

	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		outcome = Outcome{}
		incidents = incidents[:0]

		pol, err := c.policyRepo.GetForUpdate(ctx)
		if err != nil {
			return err
		}
		now := c.now()

		current, err := c.keys.GetCurrent(ctx)
		if err != nil {
			return err
		}

		// A ring with no Active key is initialized regardless of the
		// schedule; verification is impossible without it.
		if current.Active == nil {
			key, err := c.keys.EnsureInitialized(ctx)
			if err != nil {
				return err
			}
			outcome.Initialized = true
			outcome.NewKid = key.Kid
			incidents = append(incidents, incident.Incident{
				Type:   incident.TypeSigningKeyInitialized,
				Detail: map[string]any{"kid": key.Kid, "algorithm": string(key.Algorithm)},
			})
			return c.reschedule(ctx, pol, now, &outcome)
		}

		if trigger == TriggerScheduled {
			if !pol.Enabled {
				return nil
			}
			if pol.NextRotationAt == nil {
				// Legacy row without a schedule: anchor one now.
				return c.reschedule(ctx, pol, now, &outcome)
			}
			if now.Before(*pol.NextRotationAt) {
				next := *pol.NextRotationAt
				outcome.NextRotationAt = &next
				return nil
			}
		}

		result, err := c.keys.RotateNow(ctx, pol.GracePeriod())
		if err != nil {
			return err
		}

		outcome.Rotated = true
		outcome.NewKid = result.NewActive.Kid
		if result.PreviousActive != nil {
			outcome.PreviousKid = result.PreviousActive.Kid
		}
		incidents = append(incidents, incident.Incident{
			Type: incident.TypeSigningKeyRotated,
			Detail: map[string]any{
				"new_kid":      outcome.NewKid,
				"previous_kid": outcome.PreviousKid,
				"trigger":      string(trigger),
			},
		})

		return c.reschedule(ctx, pol, now, &outcome)
	})
	if err != nil {
		return nil, err
	}

	for _, inc := range incidents {
		c.incidents.Record(ctx, inc)
	}

	if outcome.Rotated || outcome.Initialized {
		c.signalInvalidation()
		if c.meter != nil && outcome.Rotated {
			c.meter.KeyRotations.Add(ctx, 1)
		}
		slog.InfoContext(ctx, "signing key ring advanced",
			logger.Kid(outcome.NewKid),
			logger.PreviousKid(outcome.PreviousKid),
			slog.String("trigger", string(trigger)),
			slog.Bool("initialized", outcome.Initialized),
		)
	}

	return &outcome, nil
}

// reschedule stamps the rotation bookkeeping on the locked policy row.
func (c *Coordinator) reschedule(ctx context.Context, pol *policy.KeyRotationPolicy, now time.Time, outcome *Outcome) error {
	next := now.Add(pol.RotationInterval())
	if outcome.Rotated || outcome.Initialized {
		pol.LastRotationAt = &now
	}
	pol.NextRotationAt = &next
	pol.UpdatedAt = now
	outcome.NextRotationAt = &next
	return c.policyRepo.Update(ctx, pol)
}

// RecoverCorruptKey revokes a key whose sealed material cannot be
// opened and activates a replacement. Used when signing fails with
// keyring.ErrKeyMaterialCorrupt; the corrupt key never returns to the
// ring.
func (c *Coordinator) RecoverCorruptKey(ctx context.Context, kid string) (*keyring.SigningKey, error) {
	var replacement *keyring.SigningKey

	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		// Serialize with scheduled rotations on the same lock.
		if _, err := c.policyRepo.GetForUpdate(ctx); err != nil && !errors.Is(err, policy.ErrPolicyNotFound) {
			return err
		}

		key, err := c.keys.ReplaceCorrupt(ctx, kid)
		if err != nil {
			return err
		}
		replacement = key
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.incidents.Record(ctx, incident.Incident{
		Type:     incident.TypeKeyMaterialCorrupt,
		Severity: incident.SeverityHigh,
		Detail: map[string]any{
			"corrupt_kid":     kid,
			"replacement_kid": replacement.Kid,
		},
	})

	c.signalInvalidation()
	if c.meter != nil {
		c.meter.CorruptKeys.Add(ctx, 1)
	}
	slog.WarnContext(ctx, "corrupt signing key replaced",
		logger.Kid(replacement.Kid),
		logger.PreviousKid(kid),
	)

	return replacement, nil
}
