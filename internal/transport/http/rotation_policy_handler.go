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

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/policy"
)

// RotationPolicyResponse carries the policy and the bounds admin UIs
// render the edit form against.
type RotationPolicyResponse struct {
	Policy     *policy.KeyRotationPolicy `json:"policy"`
	Guardrails GuardrailBounds           `json:"guardrails"`
}

// GuardrailBounds is the admin-visible slice of the compiled bounds.
type GuardrailBounds struct {
	MinRotationIntervalDays   int `json:"min_rotation_interval_days"`
	MaxRotationIntervalDays   int `json:"max_rotation_interval_days"`
	MinGracePeriodDays        int `json:"min_grace_period_days"`
	MaxGracePeriodDays        int `json:"max_grace_period_days"`
	MinJWKSCacheMarginMinutes int `json:"min_jwks_cache_margin_minutes"`
	MaxJWKSCacheMarginMinutes int `json:"max_jwks_cache_margin_minutes"`
}

func guardrailBounds(g policy.Guardrails) GuardrailBounds {
	return GuardrailBounds{
		MinRotationIntervalDays:   g.MinRotationIntervalDays,
		MaxRotationIntervalDays:   g.MaxRotationIntervalDays,
		MinGracePeriodDays:        g.MinGracePeriodDays,
		MaxGracePeriodDays:        g.MaxGracePeriodDays,
		MinJWKSCacheMarginMinutes: g.MinJWKSCacheMarginMinutes,
		MaxJWKSCacheMarginMinutes: g.MaxJWKSCacheMarginMinutes,
	}
}

// GetRotationPolicy returns the current rotation policy
// @Summary Get Rotation Policy
// @Description Current key rotation policy and the guardrail bounds
// @Tags Policies
// @Produce json
// @Security AdminToken
// @Success 200 {object} RotationPolicyResponse
// @Failure 500 {object} map[string]string
// @Router /policies/rotation [get]
func (h *Handler) GetRotationPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := h.rotationPolicies.Get(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load rotation policy", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load rotation policy")
		return
	}

	respondJSON(w, http.StatusOK, RotationPolicyResponse{
		Policy:     pol,
		Guardrails: guardrailBounds(h.rotationPolicies.Guardrails()),
	})
}

// UpdateRotationPolicyRequest carries an administrator policy edit
type UpdateRotationPolicyRequest struct {
	Enabled                bool   `json:"enabled"`
	RotationIntervalDays   int    `json:"rotation_interval_days"`
	GracePeriodDays        int    `json:"grace_period_days"`
	JWKSCacheMarginMinutes int    `json:"jwks_cache_margin_minutes"`
	Version                int64  `json:"version"`
	BreakGlass             bool   `json:"break_glass,omitempty"`
	Reason                 string `json:"reason,omitempty"`
}

// UpdateRotationPolicy updates the rotation policy
// @Summary Update Rotation Policy
// @Description Validate against guardrails and persist; break_glass with a reason bypasses bounds
// @Tags Policies
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body UpdateRotationPolicyRequest true "Policy Edit"
// @Success 200 {object} RotationPolicyResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]any
// @Router /policies/rotation [put]
func (h *Handler) UpdateRotationPolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdateRotationPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.rotationPolicies.Update(r.Context(), policy.UpdateRequest{
		Policy: policy.KeyRotationPolicy{
			Enabled:                req.Enabled,
			RotationIntervalDays:   req.RotationIntervalDays,
			GracePeriodDays:        req.GracePeriodDays,
			JWKSCacheMarginMinutes: req.JWKSCacheMarginMinutes,
			Version:                req.Version,
		},
		ActorID:    GetActorID(r.Context()),
		BreakGlass: req.BreakGlass,
		Reason:     req.Reason,
	})
	if err != nil {
		respondPolicyError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RotationPolicyResponse{
		Policy:     updated,
		Guardrails: guardrailBounds(h.rotationPolicies.Guardrails()),
	})
}
