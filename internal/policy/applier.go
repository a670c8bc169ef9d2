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
	"errors"
	"time"
)

// ErrExpiredRefreshToken is returned when the refresh chain's absolute
// ceiling has already passed at issuance time.
var ErrExpiredRefreshToken = errors.New("refresh token chain has passed its absolute expiry")

// TokenLifetimes is the resolved output of applying a preset at a
// point in time.
type TokenLifetimes struct {
	Access   time.Duration
	Identity time.Duration

	// Refresh is the validity of the refresh token issued now. It is
	// the sliding window, capped so the token never outlives the
	// chain's absolute ceiling.
	Refresh time.Duration

	// RefreshAbsoluteExpiry is the chain ceiling, fixed at first
	// issuance and carried unchanged across every rotation.
	RefreshAbsoluteExpiry time.Time
}

// Apply resolves a preset into concrete lifetimes at time now. For a
// fresh chain pass a nil existingAbsoluteExpiry; on rotation pass the
// ceiling recovered from the redeemed token so it is preserved, never
// extended.
func Apply(preset TokenPreset, now time.Time, existingAbsoluteExpiry *time.Time) (TokenLifetimes, error) {
	absolute := now.Add(time.Duration(preset.RefreshTokenAbsoluteDays) * 24 * time.Hour)
	if existingAbsoluteExpiry != nil {
		absolute = *existingAbsoluteExpiry
	}

	remaining := absolute.Sub(now)
	if remaining <= 0 {
		return TokenLifetimes{}, ErrExpiredRefreshToken
	}

	refresh := remaining
	if preset.RefreshTokenSlidingDays > 0 {
		sliding := time.Duration(preset.RefreshTokenSlidingDays) * 24 * time.Hour
		if sliding < refresh {
			refresh = sliding
		}
	}

	return TokenLifetimes{
		Access:                time.Duration(preset.AccessTokenMinutes) * time.Minute,
		Identity:              time.Duration(preset.IdentityTokenMinutes) * time.Minute,
		Refresh:               refresh,
		RefreshAbsoluteExpiry: absolute,
	}, nil
}
