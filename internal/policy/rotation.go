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

package policy

import (
	"context"
	"errors"
	"time"

	"github.com/trustgate/trustgate/internal/incident"
)

// Domain errors
var (
	ErrPolicyNotFound        = errors.New("policy not found")
	ErrVersionConflict       = errors.New("policy was modified concurrently, retry with the latest version")
	ErrBreakGlassNeedsReason = errors.New("break-glass override requires a reason")
)

// KeyRotationPolicy is the singleton rotation policy record. It is only
// ever mutated through guardrail validation; nextRotationAt is
// recomputed whenever a rotation completes or the interval changes.
type KeyRotationPolicy struct {
	Enabled                bool       `json:"enabled"`
	RotationIntervalDays   int        `json:"rotation_interval_days"`
	GracePeriodDays        int        `json:"grace_period_days"`
	JWKSCacheMarginMinutes int        `json:"jwks_cache_margin_minutes"`
	NextRotationAt         *time.Time `json:"next_rotation_at,omitempty"`
	LastRotationAt         *time.Time `json:"last_rotation_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
	UpdatedBy              string     `json:"updated_by,omitempty"`
	Version                int64      `json:"version"`
}

// RotationInterval returns the interval as a duration.
func (p KeyRotationPolicy) RotationInterval() time.Duration {
	return time.Duration(p.RotationIntervalDays) * 24 * time.Hour
}

// GracePeriod returns the grace period as a duration.
func (p KeyRotationPolicy) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodDays) * 24 * time.Hour
}

// JWKSCacheMargin returns the cache margin as a duration.
func (p KeyRotationPolicy) JWKSCacheMargin() time.Duration {
	return time.Duration(p.JWKSCacheMarginMinutes) * time.Minute
}

// DefaultRotationPolicy returns the system-seeded rotation policy.
func DefaultRotationPolicy() KeyRotationPolicy {
	return KeyRotationPolicy{
		Enabled:                true,
		RotationIntervalDays:   90,
		GracePeriodDays:        7,
		JWKSCacheMarginMinutes: 60,
	}
}

// RotationPolicyRepository defines the interface for rotation policy
// persistence. The policy is a single row.
type RotationPolicyRepository interface {
	// Get reads the committed policy without locking (hot path).
	Get(ctx context.Context) (*KeyRotationPolicy, error)

	// GetForUpdate reads the policy under an exclusive row lock. Must
	// be called inside a transaction; concurrent rotation attempts
	// serialize on this lock.
	GetForUpdate(ctx context.Context) (*KeyRotationPolicy, error)

	// Update writes the policy, bumping its version. Returns
	// ErrVersionConflict when the stored version no longer matches.
	Update(ctx context.Context, p *KeyRotationPolicy) error

	// Seed inserts the policy if no row exists yet.
	Seed(ctx context.Context, p *KeyRotationPolicy) error
}

// RotationPolicyService mediates administrator access to the rotation
// policy, enforcing guardrails on every write.
type RotationPolicyService struct {
	repo       RotationPolicyRepository
	guardrails Guardrails
	incidents  *incident.Service
	production bool
}

// NewRotationPolicyService creates a new rotation policy service.
func NewRotationPolicyService(repo RotationPolicyRepository, g Guardrails, incidents *incident.Service, production bool) *RotationPolicyService {
	return &RotationPolicyService{
		repo:       repo,
		guardrails: g,
		incidents:  incidents,
		production: production,
	}
}

// Guardrails exposes the configured bounds for admin surfaces.
func (s *RotationPolicyService) Guardrails() Guardrails {
	return s.guardrails
}

// Get returns the current rotation policy, seeding the clamped default
// if none exists yet.
func (s *RotationPolicyService) Get(ctx context.Context) (*KeyRotationPolicy, error) {
	p, err := s.repo.Get(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPolicyNotFound) {
		return nil, err
	}

	seeded := s.guardrails.ClampRotationPolicy(DefaultRotationPolicy())
	seeded.UpdatedAt = time.Now()
	if err := s.repo.Seed(ctx, &seeded); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx)
}

// UpdateRequest carries an administrator policy edit.
type UpdateRequest struct {
	Policy     KeyRotationPolicy
	ActorID    string
	BreakGlass bool
	Reason     string
}

// Update validates and persists an administrator policy edit. With
// BreakGlass set and a mandatory reason, guardrail violations are
// bypassed and an override incident is recorded. Version conflicts
// surface as ErrVersionConflict so the caller can retry.
func (s *RotationPolicyService) Update(ctx context.Context, req UpdateRequest) (*KeyRotationPolicy, error) {
	if req.BreakGlass && req.Reason == "" {
		return nil, ErrBreakGlassNeedsReason
	}

	if err := s.guardrails.ValidateRotationPolicy(req.Policy, s.production); err != nil {
		if !req.BreakGlass {
			return nil, err
		}
		s.incidents.Record(ctx, incident.Incident{
			Type:     incident.TypeGuardrailOverride,
			Severity: incident.SeverityWarning,
			ActorID:  req.ActorID,
			Detail: map[string]any{
				"reason":     req.Reason,
				"violations": err.(*ValidationError).Violations,
			},
		})
	}

	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated := req.Policy
	updated.LastRotationAt = current.LastRotationAt
	updated.UpdatedAt = now
	updated.UpdatedBy = req.ActorID

	// Interval changes move the schedule; the anchor is the last
	// completed rotation, or now for a ring that has never rotated.
	if updated.RotationIntervalDays != current.RotationIntervalDays || current.NextRotationAt == nil {
		anchor := now
		if current.LastRotationAt != nil {
			anchor = *current.LastRotationAt
		}
		next := anchor.Add(updated.RotationInterval())
		if next.Before(now) {
			next = now
		}
		updated.NextRotationAt = &next
	} else {
		updated.NextRotationAt = current.NextRotationAt
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, err
	}

	s.incidents.Record(ctx, incident.Incident{
		Type:    incident.TypeRotationPolicyUpdated,
		ActorID: req.ActorID,
		Detail: map[string]any{
			"enabled":                updated.Enabled,
			"rotation_interval_days": updated.RotationIntervalDays,
			"grace_period_days":      updated.GracePeriodDays,
			"break_glass":            req.BreakGlass,
		},
	})

	return s.repo.Get(ctx)
}
