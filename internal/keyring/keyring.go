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

package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrKeyNotFound          = errors.New("signing key not found")
	ErrActiveKeyExists      = errors.New("an active signing key already exists")
	ErrKeyMaterialCorrupt   = errors.New("signing key material corrupt")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// KeyStatus represents the lifecycle state of a signing key.
// Transitions are Active -> Previous -> Retired, driven by rotation.
// Revoked is reachable from Active only when private material fails to
// decrypt; a revoked key never returns to service.
type KeyStatus string

const (
	StatusActive   KeyStatus = "active"
	StatusPrevious KeyStatus = "previous"
	StatusRetired  KeyStatus = "retired"
	StatusRevoked  KeyStatus = "revoked"
)

// KeyAlgorithm is a closed set of supported signing algorithms.
type KeyAlgorithm string

const (
	AlgorithmRS256 KeyAlgorithm = "RS256"
	AlgorithmES256 KeyAlgorithm = "ES256"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(s string) (KeyAlgorithm, error) {
	switch KeyAlgorithm(s) {
	case AlgorithmRS256:
		return AlgorithmRS256, nil
	case AlgorithmES256:
		return AlgorithmES256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// KeyType returns the JWA key type for the algorithm.
func (a KeyAlgorithm) KeyType() string {
	switch a {
	case AlgorithmRS256:
		return "RSA"
	case AlgorithmES256:
		return "EC"
	default:
		return ""
	}
}

// SigningKey is one entry in the ring. PublicJWK holds the serialized
// public key only; the private half lives in PrivateKeyProtected as
// ciphertext that only the key protector can open.
type SigningKey struct {
	Kid                 string
	Status              KeyStatus
	Algorithm           KeyAlgorithm
	KeyType             string
	PublicJWK           []byte
	PrivateKeyProtected []byte
	CreatedAt           time.Time
	ActivatedAt         *time.Time
	RetiredAt           *time.Time
	RevokedAt           *time.Time
	NotBefore           time.Time
	NotAfter            *time.Time
}

// Usable reports whether the key may participate in signing or
// verification. Retired and revoked keys are never usable.
func (k *SigningKey) Usable() bool {
	return k.Status == StatusActive || k.Status == StatusPrevious
}

// Repository defines the interface for signing key persistence.
// The store enforces that at most one key is Active and at most one is
// Previous at any instant; Create of a second Active key must fail with
// ErrActiveKeyExists.
type Repository interface {
	// Create stores a new key.
	Create(ctx context.Context, key *SigningKey) error

	// GetByKid retrieves a key by its identifier.
	GetByKid(ctx context.Context, kid string) (*SigningKey, error)

	// GetByStatus retrieves the single key in the given status, or
	// ErrKeyNotFound. Only meaningful for Active and Previous.
	GetByStatus(ctx context.Context, status KeyStatus) (*SigningKey, error)

	// SetStatus transitions a key to a new status, stamping the
	// matching timestamp (retired_at, revoked_at).
	SetStatus(ctx context.Context, kid string, status KeyStatus, at time.Time) error

	// SetNotAfter stamps the verification deadline on a key.
	SetNotAfter(ctx context.Context, kid string, notAfter time.Time) error

	// DeleteRetiredBefore permanently removes retired keys whose
	// retired_at is older than the cutoff. Active and Previous keys
	// are never touched.
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
