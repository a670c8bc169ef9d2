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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/incident"
)

// MockTokenPolicyRepo is an in-memory TokenPolicyRepository.
type MockTokenPolicyRepo struct {
	mu       sync.Mutex
	override *TokenPolicyOverride
}

func (m *MockTokenPolicyRepo) GetOverride(ctx context.Context) (*TokenPolicyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override == nil {
		return nil, ErrPolicyNotFound
	}
	o := *m.override
	return &o, nil
}

func (m *MockTokenPolicyRepo) SaveOverride(ctx context.Context, o *TokenPolicyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override != nil && o.Version != m.override.Version {
		return ErrVersionConflict
	}
	stored := *o
	stored.Version = o.Version + 1
	m.override = &stored
	return nil
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func newTokenFixture() (*TokenPolicyService, *MockTokenPolicyRepo, *MockIncidentRepo) {
	repo := &MockTokenPolicyRepo{}
	incidents := &MockIncidentRepo{}
	svc := NewTokenPolicyService(repo, DefaultGuardrails(), incident.NewService(incidents))
	return svc, repo, incidents
}

func TestTokenPolicyService_EffectiveWithoutOverride(t *testing.T) {
	svc, _, _ := newTokenFixture()

	p, err := svc.Effective(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenPolicy(), p)
}

func TestTokenPolicyService_SparseOverrideMerge(t *testing.T) {
	svc, _, incidents := newTokenFixture()

	override := TokenPolicyOverride{
		Public: TokenPresetOverride{
			AccessTokenMinutes: intPtr(10),
		},
		ReuseLeewaySeconds: intPtr(60),
	}

	merged, err := svc.UpdateOverride(context.Background(), override, "admin-1")
	require.NoError(t, err)

	defaults := DefaultTokenPolicy()
	assert.Equal(t, 10, merged.Public.AccessTokenMinutes)
	assert.Equal(t, defaults.Public.IdentityTokenMinutes, merged.Public.IdentityTokenMinutes, "unset fields keep the default")
	assert.Equal(t, defaults.Confidential, merged.Confidential)
	assert.Equal(t, 60, merged.Refresh.ReuseLeewaySeconds)
	assert.Contains(t, incidents.typesRecorded(), incident.TypeTokenPolicyUpdated)

	effective, err := svc.Effective(context.Background())
	require.NoError(t, err)
	assert.Equal(t, merged, effective)
}

func TestTokenPolicyService_ZeroIsASetValue(t *testing.T) {
	svc, _, _ := newTokenFixture()

	// Zero sliding days disables the sliding window; it must not be
	// confused with "unset".
	override := TokenPolicyOverride{
		Public: TokenPresetOverride{RefreshTokenSlidingDays: intPtr(0)},
	}

	merged, err := svc.UpdateOverride(context.Background(), override, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, merged.Public.RefreshTokenSlidingDays)
}

func TestTokenPolicyService_UpdateRejectsViolations(t *testing.T) {
	svc, repo, _ := newTokenFixture()

	override := TokenPolicyOverride{
		Public: TokenPresetOverride{AccessTokenMinutes: intPtr(10000)},
	}

	_, err := svc.UpdateOverride(context.Background(), override, "admin-1")
	require.Error(t, err)
	assert.Contains(t, violationFields(t, err), "public.accessTokenMinutes")

	_, err = repo.GetOverride(context.Background())
	assert.ErrorIs(t, err, ErrPolicyNotFound, "rejected override must not be persisted")
}

func TestTokenPolicyService_EffectiveClampsStaleOverride(t *testing.T) {
	svc, repo, _ := newTokenFixture()

	// An override written before guardrails tightened: serving clamps
	// instead of failing issuance.
	repo.override = &TokenPolicyOverride{
		Public:  TokenPresetOverride{AccessTokenMinutes: intPtr(10000)},
		Version: 1,
	}

	p, err := svc.Effective(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultGuardrails().MaxAccessTokenMinutes, p.Public.AccessTokenMinutes)
}

func TestTokenPolicyService_RefreshToggles(t *testing.T) {
	svc, _, _ := newTokenFixture()

	override := TokenPolicyOverride{
		ReuseDetectionEnabled: boolPtr(false),
	}

	merged, err := svc.UpdateOverride(context.Background(), override, "admin-1")
	require.NoError(t, err)
	assert.False(t, merged.Refresh.ReuseDetectionEnabled)
	assert.True(t, merged.Refresh.RotationEnabled, "untouched toggle keeps the default")
}

func TestTokenPolicy_PresetSelection(t *testing.T) {
	p := DefaultTokenPolicy()
	assert.Equal(t, p.Public, p.Preset(TierPublic))
	assert.Equal(t, p.Confidential, p.Preset(TierConfidential))
	assert.Equal(t, p.Public, p.Preset(TrustTier("unknown")), "unknown tiers fall back to the stricter public preset")
}
