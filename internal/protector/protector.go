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

package protector

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Domain errors
var (
	ErrMasterKeyTooShort  = errors.New("master key must be at least 32 bytes")
	ErrPurposeRequired    = errors.New("protection purpose is required")
	ErrCiphertextInvalid  = errors.New("ciphertext invalid or wrong purpose")
)

// Protector encrypts and decrypts sensitive material at rest.
// Material protected under one purpose cannot be opened under another.
type Protector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// AESGCM implements Protector with AES-256-GCM. The encryption key is
// derived from the master key via HKDF, bound to the purpose string, so
// unrelated callers holding the same master key cannot decrypt it.
type AESGCM struct {
	aead    cipher.AEAD
	purpose []byte
}

// NewAESGCM creates a purpose-scoped protector from a master key.
func NewAESGCM(masterKey []byte, purpose string) (*AESGCM, error) {
	if len(masterKey) < 32 {
		return nil, ErrMasterKeyTooShort
	}
	if purpose == "" {
		return nil, ErrPurposeRequired
	}

	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("trustgate/protector/"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive protection key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	return &AESGCM{aead: aead, purpose: []byte(purpose)}, nil
}

// Protect encrypts plaintext. The purpose is bound as additional data,
// so a ciphertext cannot be replayed under a different purpose even if
// the derived keys were to collide.
func (p *AESGCM) Protect(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return p.aead.Seal(nonce, nonce, plaintext, p.purpose), nil
}

// Unprotect decrypts ciphertext produced by Protect. Any tampering or
// purpose mismatch yields ErrCiphertextInvalid.
func (p *AESGCM) Unprotect(ciphertext []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextInvalid
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, sealed, p.purpose)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}

	return plaintext, nil
}
