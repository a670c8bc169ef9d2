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
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// JWK represents a JSON Web Key (RFC 7517). Only public parameters are
// ever populated.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`

	// RSA parameters
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC parameters
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS represents a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// exportPublicJWK serializes a public key. The switch over the
// algorithm is exhaustive; an unsupported algorithm is a configuration
// error caught at startup.
func exportPublicJWK(alg KeyAlgorithm, kid string, public crypto.PublicKey) (JWK, error) {
	switch alg {
	case AlgorithmRS256:
		pub, ok := public.(*rsa.PublicKey)
		if !ok {
			return JWK{}, fmt.Errorf("%w: RS256 requires an RSA key", ErrUnsupportedAlgorithm)
		}
		return JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: string(AlgorithmRS256),
			Kid: kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}, nil
	case AlgorithmES256:
		pub, ok := public.(*ecdsa.PublicKey)
		if !ok {
			return JWK{}, fmt.Errorf("%w: ES256 requires an EC key", ErrUnsupportedAlgorithm)
		}
		byteLen := (pub.Curve.Params().BitSize + 7) / 8
		return JWK{
			Kty: "EC",
			Use: "sig",
			Alg: string(AlgorithmES256),
			Kid: kid,
			Crv: pub.Curve.Params().Name,
			X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, byteLen))),
			Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, byteLen))),
		}, nil
	default:
		return JWK{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Publisher renders the publishable key set: the ring's Active and
// Previous public keys, or a single certificate-backed key when
// operating in certificate mode. Private material never appears here.
type Publisher struct {
	ring *Service

	// Certificate mode, mutually exclusive with the ring.
	certJWK *JWK
}

// NewPublisher creates a publisher backed by the key ring.
func NewPublisher(ring *Service) *Publisher {
	return &Publisher{ring: ring}
}

// NewCertificatePublisher creates a publisher that serves the public
// key of a single certificate instead of the ring.
func NewCertificatePublisher(cert *x509.Certificate, alg KeyAlgorithm) (*Publisher, error) {
	kid, err := computeKid(cert.PublicKey)
	if err != nil {
		return nil, err
	}
	jwk, err := exportPublicJWK(alg, kid, cert.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Publisher{certJWK: &jwk}, nil
}

// KeySet returns the current publishable key set. Consumers may cache
// it for the configured JWKS cache margin.
func (p *Publisher) KeySet(ctx context.Context) (JWKS, error) {
	if p.certJWK != nil {
		return JWKS{Keys: []JWK{*p.certJWK}}, nil
	}

	cur, err := p.ring.GetCurrent(ctx)
	if err != nil {
		return JWKS{}, err
	}

	set := JWKS{Keys: []JWK{}}
	for _, key := range []*SigningKey{cur.Active, cur.Previous} {
		if key == nil {
			continue
		}
		var jwk JWK
		if err := json.Unmarshal(key.PublicJWK, &jwk); err != nil {
			return JWKS{}, fmt.Errorf("failed to decode stored JWK for kid %s: %w", key.Kid, err)
		}
		set.Keys = append(set.Keys, jwk)
	}

	return set, nil
}
