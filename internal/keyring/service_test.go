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
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/protector"
)

// MockKeyRepo is an in-memory Repository that enforces the same
// uniqueness guarantees as the postgres store (at most one Active, at
// most one Previous).
type MockKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*SigningKey
}

func NewMockKeyRepo() *MockKeyRepo {
	return &MockKeyRepo{keys: make(map[string]*SigningKey)}
}

func (m *MockKeyRepo) Create(ctx context.Context, key *SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.Status == StatusActive {
		for _, k := range m.keys {
			if k.Status == StatusActive {
				return ErrActiveKeyExists
			}
		}
	}
	cp := *key
	m.keys[key.Kid] = &cp
	return nil
}

func (m *MockKeyRepo) GetByKid(ctx context.Context, kid string) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[kid]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, ErrKeyNotFound
}

func (m *MockKeyRepo) GetByStatus(ctx context.Context, status KeyStatus) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Status == status {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (m *MockKeyRepo) SetStatus(ctx context.Context, kid string, status KeyStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return ErrKeyNotFound
	}
	k.Status = status
	switch status {
	case StatusRetired:
		k.RetiredAt = &at
	case StatusRevoked:
		k.RevokedAt = &at
	}
	return nil
}

func (m *MockKeyRepo) SetNotAfter(ctx context.Context, kid string, notAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return ErrKeyNotFound
	}
	k.NotAfter = &notAfter
	return nil
}

func (m *MockKeyRepo) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for kid, k := range m.keys {
		if k.Status == StatusRetired && k.RetiredAt != nil && k.RetiredAt.Before(cutoff) {
			delete(m.keys, kid)
			n++
		}
	}
	return n, nil
}

func (m *MockKeyRepo) countByStatus(status KeyStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.Status == status {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, alg KeyAlgorithm) (*Service, *MockKeyRepo) {
	t.Helper()
	prot, err := protector.NewAESGCM(bytes.Repeat([]byte{0x42}, 32), "signing-keys")
	require.NoError(t, err)
	repo := NewMockKeyRepo()
	return NewService(repo, prot, alg), repo
}

func TestKeyRing_EnsureInitialized(t *testing.T) {
	s, repo := newTestService(t, AlgorithmES256)
	ctx := context.Background()

	key, err := s.EnsureInitialized(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, key.Status)
	assert.NotEmpty(t, key.Kid)
	assert.NotEmpty(t, key.PublicJWK)
	assert.Equal(t, 1, repo.countByStatus(StatusActive))

	// Second call returns the same key, no new generation.
	again, err := s.EnsureInitialized(ctx)
	require.NoError(t, err)
	assert.Equal(t, key.Kid, again.Kid)
	assert.Equal(t, 1, repo.countByStatus(StatusActive))
}

func TestKeyRing_EnsureInitialized_Concurrent(t *testing.T) {
	s, repo := newTestService(t, AlgorithmES256)
	ctx := context.Background()

	var wg sync.WaitGroup
	kids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := s.EnsureInitialized(ctx)
			require.NoError(t, err)
			kids[i] = key.Kid
		}(i)
	}
	wg.Wait()

	// Exactly one Active key, and everyone observed it.
	assert.Equal(t, 1, repo.countByStatus(StatusActive))
	for _, kid := range kids[1:] {
		assert.Equal(t, kids[0], kid)
	}
}

func TestKeyRing_RotateNow_Transitions(t *testing.T) {
	s, repo := newTestService(t, AlgorithmES256)
	ctx := context.Background()

	first, err := s.EnsureInitialized(ctx)
	require.NoError(t, err)

	res, err := s.RotateNow(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Kid, res.NewActive.Kid)
	assert.Equal(t, first.Kid, res.PreviousActive.Kid)

	prev, err := repo.GetByStatus(ctx, StatusPrevious)
	require.NoError(t, err)
	assert.Equal(t, first.Kid, prev.Kid)
	require.NotNil(t, prev.NotAfter)

	// Rotate again: first key must retire, not linger as Previous.
	res2, err := s.RotateNow(ctx, 48*time.Hour)
	require.NoError(t, err)

	retired, err := repo.GetByKid(ctx, first.Kid)
	require.NoError(t, err)
	assert.Equal(t, StatusRetired, retired.Status)
	assert.NotNil(t, retired.RetiredAt)

	assert.Equal(t, 1, repo.countByStatus(StatusActive))
	assert.Equal(t, 1, repo.countByStatus(StatusPrevious))

	cur, err := s.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, res2.NewActive.Kid, cur.Active.Kid)
	assert.Equal(t, res.NewActive.Kid, cur.Previous.Kid)
}

func TestKeyRing_Cleanup_RespectsRetention(t *testing.T) {
	s, repo := newTestService(t, AlgorithmES256)
	ctx := context.Background()

	_, err := s.EnsureInitialized(ctx)
	require.NoError(t, err)
	_, err = s.RotateNow(ctx, time.Hour)
	require.NoError(t, err)
	_, err = s.RotateNow(ctx, time.Hour)
	require.NoError(t, err)

	// Freshly retired key is inside the retention window.
	removed, err := s.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, repo.countByStatus(StatusRetired))

	// Zero retention removes it.
	removed, err = s.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.countByStatus(StatusActive))
	assert.Equal(t, 1, repo.countByStatus(StatusPrevious))
}

func TestKeyRing_CreateSigningCredentials(t *testing.T) {
	for _, alg := range []KeyAlgorithm{AlgorithmRS256, AlgorithmES256} {
		t.Run(string(alg), func(t *testing.T) {
			s, _ := newTestService(t, alg)
			key, err := s.EnsureInitialized(context.Background())
			require.NoError(t, err)

			creds, err := s.CreateSigningCredentials(key)
			require.NoError(t, err)
			assert.Equal(t, key.Kid, creds.Kid)

			signed, err := creds.Sign(testClaims())
			require.NoError(t, err)
			assert.NotEmpty(t, signed)
		})
	}
}

func TestKeyRing_CreateSigningCredentials_Corrupt(t *testing.T) {
	s, _ := newTestService(t, AlgorithmES256)
	key, err := s.EnsureInitialized(context.Background())
	require.NoError(t, err)

	key.PrivateKeyProtected[len(key.PrivateKeyProtected)-1] ^= 0xff

	_, err = s.CreateSigningCredentials(key)
	assert.ErrorIs(t, err, ErrKeyMaterialCorrupt)
}

func TestKeyRing_ReplaceCorrupt(t *testing.T) {
	s, repo := newTestService(t, AlgorithmES256)
	ctx := context.Background()

	key, err := s.EnsureInitialized(ctx)
	require.NoError(t, err)

	replacement, err := s.ReplaceCorrupt(ctx, key.Kid)
	require.NoError(t, err)
	assert.NotEqual(t, key.Kid, replacement.Kid)

	// Corrupt key is Revoked, not Previous: it must never verify again.
	revoked, err := repo.GetByKid(ctx, key.Kid)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)
	assert.NotNil(t, revoked.RevokedAt)

	assert.Equal(t, 1, repo.countByStatus(StatusActive))
	assert.Equal(t, 0, repo.countByStatus(StatusPrevious))
}
