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

// TrustTier distinguishes token presets by client confidentiality.
type TrustTier string

const (
	TierPublic       TrustTier = "public"
	TierConfidential TrustTier = "confidential"
)

// TokenPreset holds the effective lifetimes for one trust tier.
type TokenPreset struct {
	AccessTokenMinutes       int `json:"access_token_minutes"`
	IdentityTokenMinutes     int `json:"identity_token_minutes"`
	RefreshTokenAbsoluteDays int `json:"refresh_token_absolute_days"`
	RefreshTokenSlidingDays  int `json:"refresh_token_sliding_days"`
}

// RefreshTokenPolicy holds the refresh rotation and reuse toggles.
type RefreshTokenPolicy struct {
	RotationEnabled       bool `json:"rotation_enabled"`
	ReuseDetectionEnabled bool `json:"reuse_detection_enabled"`
	ReuseLeewaySeconds    int  `json:"reuse_leeway_seconds"`
}

// ReuseLeeway returns the leeway as a duration.
func (p RefreshTokenPolicy) ReuseLeeway() time.Duration {
	return time.Duration(p.ReuseLeewaySeconds) * time.Second
}

// TokenPolicy is the full effective token policy.
type TokenPolicy struct {
	Public       TokenPreset        `json:"public"`
	Confidential TokenPreset        `json:"confidential"`
	Refresh      RefreshTokenPolicy `json:"refresh"`
}

// Preset selects the preset for a trust tier.
func (p TokenPolicy) Preset(tier TrustTier) TokenPreset {
	if tier == TierConfidential {
		return p.Confidential
	}
	return p.Public
}

// DefaultTokenPolicy returns the compiled default token policy.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		Public: TokenPreset{
			AccessTokenMinutes:       30,
			IdentityTokenMinutes:     30,
			RefreshTokenAbsoluteDays: 30,
			RefreshTokenSlidingDays:  7,
		},
		Confidential: TokenPreset{
			AccessTokenMinutes:       60,
			IdentityTokenMinutes:     60,
			RefreshTokenAbsoluteDays: 90,
			RefreshTokenSlidingDays:  14,
		},
		Refresh: RefreshTokenPolicy{
			RotationEnabled:       true,
			ReuseDetectionEnabled: true,
			ReuseLeewaySeconds:    30,
		},
	}
}

// TokenPresetOverride is a sparse administrator override: nil means
// "unset, use the default", which keeps zero distinguishable from
// absent.
type TokenPresetOverride struct {
	AccessTokenMinutes       *int `json:"access_token_minutes,omitempty"`
	IdentityTokenMinutes     *int `json:"identity_token_minutes,omitempty"`
	RefreshTokenAbsoluteDays *int `json:"refresh_token_absolute_days,omitempty"`
	RefreshTokenSlidingDays  *int `json:"refresh_token_sliding_days,omitempty"`
}

func (o TokenPresetOverride) apply(p TokenPreset) TokenPreset {
	if o.AccessTokenMinutes != nil {
		p.AccessTokenMinutes = *o.AccessTokenMinutes
	}
	if o.IdentityTokenMinutes != nil {
		p.IdentityTokenMinutes = *o.IdentityTokenMinutes
	}
	if o.RefreshTokenAbsoluteDays != nil {
		p.RefreshTokenAbsoluteDays = *o.RefreshTokenAbsoluteDays
	}
	if o.RefreshTokenSlidingDays != nil {
		p.RefreshTokenSlidingDays = *o.RefreshTokenSlidingDays
	}
	return p
}

// TokenPolicyOverride is the persisted sparse override record.
type TokenPolicyOverride struct {
	Public       TokenPresetOverride `json:"public"`
	Confidential TokenPresetOverride `json:"confidential"`

	RotationEnabled       *bool `json:"rotation_enabled,omitempty"`
	ReuseDetectionEnabled *bool `json:"reuse_detection_enabled,omitempty"`
	ReuseLeewaySeconds    *int  `json:"reuse_leeway_seconds,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Version   int64     `json:"version"`
}

func (o TokenPolicyOverride) apply(p TokenPolicy) TokenPolicy {
	p.Public = o.Public.apply(p.Public)
	p.Confidential = o.Confidential.apply(p.Confidential)
	if o.RotationEnabled != nil {
		p.Refresh.RotationEnabled = *o.RotationEnabled
	}
	if o.ReuseDetectionEnabled != nil {
		p.Refresh.ReuseDetectionEnabled = *o.ReuseDetectionEnabled
	}
	if o.ReuseLeewaySeconds != nil {
		p.Refresh.ReuseLeewaySeconds = *o.ReuseLeewaySeconds
	}
	return p
}

// TokenPolicyRepository defines the interface for token policy override
// persistence. The override is a single sparse row.
type TokenPolicyRepository interface {
	// GetOverride reads the stored override, or ErrPolicyNotFound.
	GetOverride(ctx context.Context) (*TokenPolicyOverride, error)

	// SaveOverride upserts the override, bumping its version. Returns
	// ErrVersionConflict when the stored version no longer matches.
	SaveOverride(ctx context.Context, o *TokenPolicyOverride) error
}

// TokenPolicyService serves the effective token policy (compiled
// default merged with the administrator override) and validates
// override edits.
type TokenPolicyService struct {
	repo       TokenPolicyRepository
	guardrails Guardrails
	defaults   TokenPolicy
	incidents  *incident.Service
}

// NewTokenPolicyService creates a new token policy service.
func NewTokenPolicyService(repo TokenPolicyRepository, g Guardrails, incidents *incident.Service) *TokenPolicyService {
	return &TokenPolicyService{
		repo:       repo,
		guardrails: g,
		defaults:   g.ClampTokenPolicy(DefaultTokenPolicy()),
		incidents:  incidents,
	}
}

// Effective returns the merged policy, re-validated against the
// guardrails before being served. Serving clamps rather than fails:
// token issuance must not break because bounds tightened after an
// override was written.
func (s *TokenPolicyService) Effective(ctx context.Context) (TokenPolicy, error) {
	merged := s.defaults

	override, err := s.repo.GetOverride(ctx)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return merged, nil
		}
		return TokenPolicy{}, err
	}

	return s.guardrails.ClampTokenPolicy(override.apply(merged)), nil
}

// Override returns the raw stored override for admin surfaces. A nil
// override means no administrator edit exists.
func (s *TokenPolicyService) Override(ctx context.Context) (*TokenPolicyOverride, error) {
	o, err := s.repo.GetOverride(ctx)
	if errors.Is(err, ErrPolicyNotFound) {
		return nil, nil
	}
	return o, err
}

// UpdateOverride validates the merged result of an administrator
// override and persists it. Violations are reported per-field and
// nothing is applied.
func (s *TokenPolicyService) UpdateOverride(ctx context.Context, o TokenPolicyOverride, actorID string) (TokenPolicy, error) {
	merged := o.apply(s.defaults)
	if err := s.guardrails.ValidateTokenPolicy(merged); err != nil {
		return TokenPolicy{}, err
	}

	o.UpdatedAt = time.Now()
	o.UpdatedBy = actorID
	if err := s.repo.SaveOverride(ctx, &o); err != nil {
		return TokenPolicy{}, err
	}

	s.incidents.Record(ctx, incident.Incident{
		Type:    incident.TypeTokenPolicyUpdated,
		ActorID: actorID,
		Detail: map[string]any{
			"public_access_minutes":       merged.Public.AccessTokenMinutes,
			"confidential_access_minutes": merged.Confidential.AccessTokenMinutes,
			"reuse_detection_enabled":     merged.Refresh.ReuseDetectionEnabled,
		},
	})

	return merged, nil
}
