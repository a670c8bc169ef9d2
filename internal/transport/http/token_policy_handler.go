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

// TokenPolicyResponse carries the effective policy and the raw sparse
// override it was merged from.
type TokenPolicyResponse struct {
	Effective policy.TokenPolicy          `json:"effective"`
	Override  *policy.TokenPolicyOverride `json:"override,omitempty"`
}

// GetTokenPolicy returns the effective token policy
// @Summary Get Token Policy
// @Description Effective token lifetime policy (defaults merged with the override)
// @Tags Policies
// @Produce json
// @Security AdminToken
// @Success 200 {object} TokenPolicyResponse
// @Failure 500 {object} map[string]string
// @Router /policies/token [get]
func (h *Handler) GetTokenPolicy(w http.ResponseWriter, r *http.Request) {
	effective, err := h.tokenPolicies.Effective(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load token policy", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load token policy")
		return
	}

	override, err := h.tokenPolicies.Override(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load token policy override", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load token policy")
		return
	}

	respondJSON(w, http.StatusOK, TokenPolicyResponse{
		Effective: effective,
		Override:  override,
	})
}

// UpdateTokenPolicy replaces the sparse token policy override
// @Summary Update Token Policy
// @Description Replace the sparse override; omitted fields fall back to defaults
// @Tags Policies
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body policy.TokenPolicyOverride true "Sparse Override"
// @Success 200 {object} TokenPolicyResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]any
// @Router /policies/token [put]
func (h *Handler) UpdateTokenPolicy(w http.ResponseWriter, r *http.Request) {
	var override policy.TokenPolicyOverride
	if err := json.NewDecoder(r.Body).Decode(&override); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	effective, err := h.tokenPolicies.UpdateOverride(r.Context(), override, GetActorID(r.Context()))
	if err != nil {
		respondPolicyError(w, err)
		return
	}

	stored, err := h.tokenPolicies.Override(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to reload token policy override", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load token policy")
		return
	}

	respondJSON(w, http.StatusOK, TokenPolicyResponse{
		Effective: effective,
		Override:  stored,
	})
}
