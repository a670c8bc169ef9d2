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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_FreshChain(t *testing.T) {
	preset := TokenPreset{
		AccessTokenMinutes:       30,
		IdentityTokenMinutes:     15,
		RefreshTokenAbsoluteDays: 30,
		RefreshTokenSlidingDays:  7,
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lt, err := Apply(preset, now, nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, lt.Access)
	assert.Equal(t, 15*time.Minute, lt.Identity)
	assert.Equal(t, 7*24*time.Hour, lt.Refresh)
	assert.Equal(t, now.Add(30*24*time.Hour), lt.RefreshAbsoluteExpiry)
}

func TestApply_SlidingCappedByAbsoluteCeiling(t *testing.T) {
	preset := TokenPreset{RefreshTokenAbsoluteDays: 30, RefreshTokenSlidingDays: 7}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ceiling := start.Add(30 * 24 * time.Hour)

	// 25 days into the chain only 5 days remain under the ceiling, so
	// the sliding window is cut short.
	now := start.Add(25 * 24 * time.Hour)
	lt, err := Apply(preset, now, &ceiling)
	require.NoError(t, err)

	assert.Equal(t, 5*24*time.Hour, lt.Refresh)
	assert.Equal(t, ceiling, lt.RefreshAbsoluteExpiry, "ceiling must carry over unchanged")
}

func TestApply_ExpiredChain(t *testing.T) {
	preset := TokenPreset{RefreshTokenAbsoluteDays: 30, RefreshTokenSlidingDays: 7}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ceiling := now.Add(-time.Second)

	_, err := Apply(preset, now, &ceiling)
	assert.ErrorIs(t, err, ErrExpiredRefreshToken)
}

func TestApply_NoSlidingWindow(t *testing.T) {
	preset := TokenPreset{RefreshTokenAbsoluteDays: 30, RefreshTokenSlidingDays: 0}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lt, err := Apply(preset, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, lt.Refresh, "without a sliding window the token runs to the ceiling")
}

func TestRefreshTokenClaims_RoundTripCeiling(t *testing.T) {
	preset := TokenPreset{RefreshTokenAbsoluteDays: 30, RefreshTokenSlidingDays: 7}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := Apply(preset, start, nil)
	require.NoError(t, err)

	claims := NewRefreshTokenClaims("https://issuer.example", "sub-1", "client-1", start, first)
	require.NotNil(t, claims.AbsoluteExpiryTime())
	assert.Equal(t, first.RefreshAbsoluteExpiry, *claims.AbsoluteExpiryTime())
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "sub-1", claims.Subject)

	// Redeeming the token three days later must not move the ceiling.
	second, err := Apply(preset, start.Add(3*24*time.Hour), claims.AbsoluteExpiryTime())
	require.NoError(t, err)
	assert.Equal(t, first.RefreshAbsoluteExpiry, second.RefreshAbsoluteExpiry)
}

func TestRefreshTokenClaims_LegacyWithoutCeiling(t *testing.T) {
	claims := RefreshTokenClaims{}
	assert.Nil(t, claims.AbsoluteExpiryTime())
}
