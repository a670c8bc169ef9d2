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

package rotation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/trustgate/trustgate/internal/keyring"
	"github.com/trustgate/trustgate/internal/observability/logger"
)

// CredentialProvider hands out the Active key's signing credentials,
// caching the decrypted key between rotations. It self-heals from
// corrupt key material by forcing a replacement through the
// coordinator and retrying once.
type CredentialProvider struct {
	keys        *keyring.Service
	coordinator *Coordinator

	mu     sync.RWMutex
	cached *keyring.SigningCredentials
}

// NewCredentialProvider creates a credential provider.
func NewCredentialProvider(keys *keyring.Service, coordinator *Coordinator) *CredentialProvider {
	return &CredentialProvider{keys: keys, coordinator: coordinator}
}

// Invalidate drops the cached credentials. Called whenever the
// coordinator signals a ring change.
func (p *CredentialProvider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Credentials returns signing credentials for the current Active key.
func (p *CredentialProvider) Credentials(ctx context.Context) (*keyring.SigningCredentials, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	creds, err := p.load(ctx)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, keyring.ErrKeyMaterialCorrupt) {
		return nil, err
	}

	// The Active key's sealed material cannot be opened. Replace it and
	// retry exactly once; a second corruption means the master key or
	// store is broken and must surface.
	active, aerr := p.keys.EnsureInitialized(ctx)
	if aerr != nil {
		return nil, aerr
	}
	slog.ErrorContext(ctx, "active signing key material is corrupt, forcing replacement",
		logger.Kid(active.Kid),
	)
	if _, rerr := p.coordinator.RecoverCorruptKey(ctx, active.Kid); rerr != nil {
		return nil, rerr
	}
	p.Invalidate()

	return p.load(ctx)
}

func (p *CredentialProvider) load(ctx context.Context) (*keyring.SigningCredentials, error) {
	active, err := p.keys.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}

	creds, err := p.keys.CreateSigningCredentials(active)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cached = creds
	p.mu.Unlock()
	return creds, nil
}

// Forward pumps the coordinator's invalidation signals into the cache
// until ctx is cancelled. Run it as a goroutine next to the scheduler.
func (p *CredentialProvider) Forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.coordinator.Invalidations():
			p.Invalidate()
		}
	}
}
