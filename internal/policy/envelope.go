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
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RefreshTokenClaims is the refresh token envelope. Beyond the
// registered claims it carries the chain's absolute ceiling, so a
// rotation can re-derive the ceiling from the redeemed token instead
// of restarting the clock.
type RefreshTokenClaims struct {
	jwt.RegisteredClaims

	ClientID       string           `json:"cid,omitempty"`
	AbsoluteExpiry *jwt.NumericDate `json:"rt_abs,omitempty"`
}

// NewRefreshTokenClaims builds the envelope for a refresh token issued
// at now with the given resolved lifetimes.
func NewRefreshTokenClaims(issuer, subjectID, clientID string, now time.Time, lifetimes TokenLifetimes) RefreshTokenClaims {
	return RefreshTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetimes.Refresh)),
		},
		ClientID:       clientID,
		AbsoluteExpiry: jwt.NewNumericDate(lifetimes.RefreshAbsoluteExpiry),
	}
}

// AbsoluteExpiryTime returns the chain ceiling, or nil when the claim
// is absent (legacy tokens minted before the ceiling was stamped).
func (c RefreshTokenClaims) AbsoluteExpiryTime() *time.Time {
	if c.AbsoluteExpiry == nil {
		return nil
	}
	t := c.AbsoluteExpiry.Time
	return &t
}
