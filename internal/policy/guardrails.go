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
	"fmt"
	"strings"
)

// Guardrails are the compiled, read-mostly bounds every administrator-
// supplied policy value is validated against. Administrator updates are
// rejected per-field on violation; only system-seeded defaults may be
// silently clamped.
type Guardrails struct {
	MinRotationIntervalDays int
	MaxRotationIntervalDays int

	MinGracePeriodDays int
	MaxGracePeriodDays int

	MinJWKSCacheMarginMinutes int
	MaxJWKSCacheMarginMinutes int

	MinAccessTokenMinutes int
	MaxAccessTokenMinutes int

	MinIdentityTokenMinutes int
	MaxIdentityTokenMinutes int

	MinRefreshTokenDays int
	MaxRefreshTokenDays int

	MinReuseLeewaySeconds int
	MaxReuseLeewaySeconds int

	MaxClockSkewSeconds int

	PreventDisableRotationInProduction bool
}

// DefaultGuardrails returns the compiled defaults.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		MinRotationIntervalDays:            7,
		MaxRotationIntervalDays:            180,
		MinGracePeriodDays:                 1,
		MaxGracePeriodDays:                 30,
		MinJWKSCacheMarginMinutes:          5,
		MaxJWKSCacheMarginMinutes:          1440,
		MinAccessTokenMinutes:              5,
		MaxAccessTokenMinutes:              720,
		MinIdentityTokenMinutes:            5,
		MaxIdentityTokenMinutes:            720,
		MinRefreshTokenDays:                1,
		MaxRefreshTokenDays:                365,
		MinReuseLeewaySeconds:              0,
		MaxReuseLeewaySeconds:              300,
		MaxClockSkewSeconds:                300,
		PreventDisableRotationInProduction: true,
	}
}

// Clamp coerces a value into [min, max]. Used for system-seeded
// defaults only; administrator input is validated, never coerced.
func Clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Violation reports a single out-of-bounds field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field guardrail violations. Nothing is
// partially applied when it is returned.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fmt.Sprintf("policy validation failed: %s", strings.Join(fields, ", "))
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

func checkRange(e *ValidationError, field string, value, min, max int) {
	if value < min || value > max {
		e.add(field, "must be between %d and %d, got %d", min, max, value)
	}
}

// ValidateRotationPolicy enforces the rotation guardrails, including
// the cross-field rule that the grace period must end before the
// rotation interval minus the JWKS cache margin: a retiring key must
// never be purged while relying parties may still be caching it.
func (g Guardrails) ValidateRotationPolicy(p KeyRotationPolicy, production bool) error {
	e := &ValidationError{}

	checkRange(e, "rotationIntervalDays", p.RotationIntervalDays, g.MinRotationIntervalDays, g.MaxRotationIntervalDays)
	checkRange(e, "gracePeriodDays", p.GracePeriodDays, g.MinGracePeriodDays, g.MaxGracePeriodDays)
	checkRange(e, "jwksCacheMarginMinutes", p.JWKSCacheMarginMinutes, g.MinJWKSCacheMarginMinutes, g.MaxJWKSCacheMarginMinutes)

	graceMinutes := p.GracePeriodDays * 24 * 60
	intervalMinutes := p.RotationIntervalDays * 24 * 60
	if graceMinutes >= intervalMinutes-p.JWKSCacheMarginMinutes {
		e.add("gracePeriodDays", "grace period must be shorter than the rotation interval minus the JWKS cache margin")
	}

	if !p.Enabled && production && g.PreventDisableRotationInProduction {
		e.add("enabled", "rotation cannot be disabled in production")
	}

	return e.orNil()
}

// ClampRotationPolicy coerces a system-seeded policy into bounds.
func (g Guardrails) ClampRotationPolicy(p KeyRotationPolicy) KeyRotationPolicy {
	p.RotationIntervalDays = Clamp(p.RotationIntervalDays, g.MinRotationIntervalDays, g.MaxRotationIntervalDays)
	p.GracePeriodDays = Clamp(p.GracePeriodDays, g.MinGracePeriodDays, g.MaxGracePeriodDays)
	p.JWKSCacheMarginMinutes = Clamp(p.JWKSCacheMarginMinutes, g.MinJWKSCacheMarginMinutes, g.MaxJWKSCacheMarginMinutes)
	return p
}

// ValidateTokenPolicy enforces lifetime guardrails on a full effective
// token policy. The tier prefix keeps violations addressable per-field
// ("public.accessTokenMinutes").
func (g Guardrails) ValidateTokenPolicy(p TokenPolicy) error {
	e := &ValidationError{}
	g.validatePreset(e, "public", p.Public)
	g.validatePreset(e, "confidential", p.Confidential)
	checkRange(e, "refresh.reuseLeewaySeconds", p.Refresh.ReuseLeewaySeconds, g.MinReuseLeewaySeconds, g.MaxReuseLeewaySeconds)
	return e.orNil()
}

func (g Guardrails) validatePreset(e *ValidationError, tier string, p TokenPreset) {
	checkRange(e, tier+".accessTokenMinutes", p.AccessTokenMinutes, g.MinAccessTokenMinutes, g.MaxAccessTokenMinutes)
	checkRange(e, tier+".identityTokenMinutes", p.IdentityTokenMinutes, g.MinIdentityTokenMinutes, g.MaxIdentityTokenMinutes)
	checkRange(e, tier+".refreshTokenAbsoluteDays", p.RefreshTokenAbsoluteDays, g.MinRefreshTokenDays, g.MaxRefreshTokenDays)
	if p.RefreshTokenSlidingDays < 0 || p.RefreshTokenSlidingDays > p.RefreshTokenAbsoluteDays {
		e.add(tier+".refreshTokenSlidingDays", "sliding window must be between 0 and the absolute ceiling")
	}
}

// ClampTokenPolicy coerces a system-seeded token policy into bounds.
func (g Guardrails) ClampTokenPolicy(p TokenPolicy) TokenPolicy {
	p.Public = g.clampPreset(p.Public)
	p.Confidential = g.clampPreset(p.Confidential)
	p.Refresh.ReuseLeewaySeconds = Clamp(p.Refresh.ReuseLeewaySeconds, g.MinReuseLeewaySeconds, g.MaxReuseLeewaySeconds)
	return p
}

func (g Guardrails) clampPreset(p TokenPreset) TokenPreset {
	p.AccessTokenMinutes = Clamp(p.AccessTokenMinutes, g.MinAccessTokenMinutes, g.MaxAccessTokenMinutes)
	p.IdentityTokenMinutes = Clamp(p.IdentityTokenMinutes, g.MinIdentityTokenMinutes, g.MaxIdentityTokenMinutes)
	p.RefreshTokenAbsoluteDays = Clamp(p.RefreshTokenAbsoluteDays, g.MinRefreshTokenDays, g.MaxRefreshTokenDays)
	if p.RefreshTokenSlidingDays > p.RefreshTokenAbsoluteDays {
		p.RefreshTokenSlidingDays = p.RefreshTokenAbsoluteDays
	}
	if p.RefreshTokenSlidingDays < 0 {
		p.RefreshTokenSlidingDays = 0
	}
	return p
}
