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
	"log/slog"
	"time"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/observability/metrics"
	"github.com/trustgate/trustgate/internal/policy"
)

// Detector ties redemption classification to remediation. The token
// endpoint calls Redeem exactly once per presented refresh token and
// denies the request for every outcome except OutcomeConsumed and
// OutcomeWithinLeeway.
type Detector struct {
	ledger     *Ledger
	remediator *Remediator
	policies   *policy.TokenPolicyService
	incidents  *incident.Service
	meter      *metrics.Meter
}

// NewDetector creates a detector. meter may be nil.
func NewDetector(ledger *Ledger, remediator *Remediator, policies *policy.TokenPolicyService, incidents *incident.Service, meter *metrics.Meter) *Detector {
	return &Detector{
		ledger:     ledger,
		remediator: remediator,
		policies:   policies,
		incidents:  incidents,
		meter:      meter,
	}
}

// Redemption is the input to a redemption check, extracted from a
// refresh token that already passed signature and expiry validation.
type Redemption struct {
	TokenID   string
	SubjectID string
	ClientID  string
	ExpiresAt time.Time
	TraceID   string
}

// Redeem classifies the redemption and, on confirmed reuse, runs the
// remediation sweep before returning. The caller denies the request
// whenever Allowed is false; detection being disabled by policy makes
// every structurally valid redemption allowed.
func (d *Detector) Redeem(ctx context.Context, red Redemption) (Outcome, error) {
	pol, err := d.policies.Effective(ctx)
	if err != nil {
		return "", err
	}
	if !pol.Refresh.ReuseDetectionEnabled {
		return OutcomeConsumed, nil
	}

	outcome, err := d.ledger.TryConsume(ctx, ConsumedToken{
		TokenID:   red.TokenID,
		SubjectID: red.SubjectID,
		ClientID:  red.ClientID,
		ExpiresAt: red.ExpiresAt,
	}, pol.Refresh.ReuseLeeway())
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeMissingTokenID:
		slog.WarnContext(ctx, "refresh token without id rejected",
			logger.SubjectID(red.SubjectID),
			logger.ClientID(red.ClientID),
		)

	case OutcomeReused:
		if d.meter != nil {
			d.meter.ReuseDetected.Add(ctx, 1)
		}
		d.incidents.Record(ctx, incident.Incident{
			Type:      incident.TypeRefreshTokenReuse,
			Severity:  incident.SeverityHigh,
			SubjectID: red.SubjectID,
			ClientID:  red.ClientID,
			TraceID:   red.TraceID,
			Detail: map[string]any{
				"token_id": red.TokenID,
			},
		})
		if _, rerr := d.remediator.RevokeSubjectTokens(ctx, red.SubjectID, red.ClientID, red.TokenID); rerr != nil {
			// Remediation failure must not mask the detection: the
			// redemption is still denied, the failure is logged.
			slog.ErrorContext(ctx, "reuse remediation failed",
				logger.Error(rerr),
				logger.SubjectID(red.SubjectID),
			)
		}
	}

	return outcome, nil
}

// Allowed reports whether a classified redemption may proceed.
func (o Outcome) Allowed() bool {
	return o == OutcomeConsumed || o == OutcomeWithinLeeway
}
