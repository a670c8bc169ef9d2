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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trustgate/trustgate/internal/protector"
)

const rsaKeyBits = 2048

// Service owns the signing key ring lifecycle.
type Service struct {
	repo      Repository
	protector protector.Protector
	algorithm KeyAlgorithm

	now func() time.Time
}

// NewService creates a new key ring service.
func NewService(repo Repository, prot protector.Protector, algorithm KeyAlgorithm) *Service {
	return &Service{
		repo:      repo,
		protector: prot,
		algorithm: algorithm,
		now:       time.Now,
	}
}

// CurrentKeys holds the keys eligible for signing and verification.
// Active is the only key that signs; Previous verifies tokens issued
// before the latest rotation. Previous may be nil.
type CurrentKeys struct {
	Active   *SigningKey
	Previous *SigningKey
}

// GetCurrent returns the Active and Previous keys. Retired and revoked
// keys are never returned.
func (s *Service) GetCurrent(ctx context.Context) (*CurrentKeys, error) {
	cur := &CurrentKeys{}

	active, err := s.repo.GetByStatus(ctx, StatusActive)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	cur.Active = active

	previous, err := s.repo.GetByStatus(ctx, StatusPrevious)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	cur.Previous = previous

	return cur, nil
}

// EnsureInitialized returns the Active key, generating and activating
// one if none exists. Safe to call concurrently: the store's uniqueness
// guarantee means only one caller wins, everyone else reads the winner.
func (s *Service) EnsureInitialized(ctx context.Context) (*SigningKey, error) {
	active, err := s.repo.GetByStatus(ctx, StatusActive)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	key, err := s.generate(s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, key); err != nil {
		if errors.Is(err, ErrActiveKeyExists) {
			// Lost the race; the concurrent winner's key is the one.
			return s.repo.GetByStatus(ctx, StatusActive)
		}
		return nil, err
	}

	return key, nil
}

// RotationResult reports the outcome of a ring rotation.
type RotationResult struct {
	NewActive      *SigningKey
	PreviousActive *SigningKey
}

// RotateNow advances the ring: the prior Previous key retires, the
// Active key demotes to Previous with a verification deadline of
// now+gracePeriod, and a freshly generated key activates. The decision
// of whether to rotate belongs to the rotation coordinator; this is the
// pure state transition.
func (s *Service) RotateNow(ctx context.Context, gracePeriod time.Duration) (*RotationResult, error) {
	now := s.now()

	prior, err := s.repo.GetByStatus(ctx, StatusPrevious)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	if prior != nil {
		if err := s.repo.SetStatus(ctx, prior.Kid, StatusRetired, now); err != nil {
			return nil, fmt.Errorf("failed to retire key %s: %w", prior.Kid, err)
		}
	}

	active, err := s.repo.GetByStatus(ctx, StatusActive)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	if active != nil {
		if err := s.repo.SetStatus(ctx, active.Kid, StatusPrevious, now); err != nil {
			return nil, fmt.Errorf("failed to demote key %s: %w", active.Kid, err)
		}
		if err := s.repo.SetNotAfter(ctx, active.Kid, now.Add(gracePeriod)); err != nil {
			return nil, err
		}
	}

	key, err := s.generate(now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	return &RotationResult{NewActive: key, PreviousActive: active}, nil
}

// ReplaceCorrupt revokes a key whose private material failed to decrypt
// and activates a freshly generated replacement. The corrupt key goes
// straight to Revoked, never to Previous: it cannot verify anything its
// material cannot be opened for.
func (s *Service) ReplaceCorrupt(ctx context.Context, kid string) (*SigningKey, error) {
	now := s.now()

	if err := s.repo.SetStatus(ctx, kid, StatusRevoked, now); err != nil {
		return nil, fmt.Errorf("failed to revoke corrupt key %s: %w", kid, err)
	}

	key, err := s.generate(now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	return key, nil
}

// Cleanup permanently removes retired keys past the retention window.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteRetiredBefore(ctx, s.now().Add(-retention))
}

// SigningCredentials wraps a decrypted private key ready for signing.
type SigningCredentials struct {
	Kid       string
	Algorithm KeyAlgorithm
	Method    jwt.SigningMethod
	Key       crypto.PrivateKey
}

// Sign signs the claims with the credential's key, setting the kid
// header so verifiers can select the right public key.
func (c *SigningCredentials) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(c.Method, claims)
	token.Header["kid"] = c.Kid
	return token.SignedString(c.Key)
}

// CreateSigningCredentials decrypts the key's private material and
// returns a signer. A decryption failure is reported as
// ErrKeyMaterialCorrupt; the caller must treat it as fatal for this key
// and trigger forced rotation, never substitute another key silently.
func (s *Service) CreateSigningCredentials(entry *SigningKey) (*SigningCredentials, error) {
	raw, err := s.protector.Unprotect(entry.PrivateKeyProtected)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %s", ErrKeyMaterialCorrupt, entry.Kid)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %s", ErrKeyMaterialCorrupt, entry.Kid)
	}

	var method jwt.SigningMethod
	switch entry.Algorithm {
	case AlgorithmRS256:
		method = jwt.SigningMethodRS256
		if _, ok := parsed.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: kid %s", ErrKeyMaterialCorrupt, entry.Kid)
		}
	case AlgorithmES256:
		method = jwt.SigningMethodES256
		if _, ok := parsed.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: kid %s", ErrKeyMaterialCorrupt, entry.Kid)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, entry.Algorithm)
	}

	return &SigningCredentials{
		Kid:       entry.Kid,
		Algorithm: entry.Algorithm,
		Method:    method,
		Key:       parsed,
	}, nil
}

// generate mints a new Active key for the configured algorithm.
func (s *Service) generate(now time.Time) (*SigningKey, error) {
	var (
		private crypto.PrivateKey
		public  crypto.PublicKey
	)

	switch s.algorithm {
	case AlgorithmRS256:
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		private, public = key, &key.PublicKey
	case AlgorithmES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate EC key: %w", err)
		}
		private, public = key, &key.PublicKey
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s.algorithm)
	}

	kid, err := computeKid(public)
	if err != nil {
		return nil, err
	}

	jwk, err := exportPublicJWK(s.algorithm, kid, public)
	if err != nil {
		return nil, err
	}
	publicJWK, err := json.Marshal(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize public JWK: %w", err)
	}

	raw, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	sealed, err := s.protector.Protect(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to protect private key: %w", err)
	}

	return &SigningKey{
		Kid:                 kid,
		Status:              StatusActive,
		Algorithm:           s.algorithm,
		KeyType:             s.algorithm.KeyType(),
		PublicJWK:           publicJWK,
		PrivateKeyProtected: sealed,
		CreatedAt:           now,
		ActivatedAt:         &now,
		NotBefore:           now,
	}, nil
}

// computeKid derives a stable, non-secret key identifier from the
// public key material (SHA-256 thumbprint, truncated).
func computeKid(public crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}
