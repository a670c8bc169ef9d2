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

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/keyring"
	"github.com/trustgate/trustgate/internal/policy"
	"github.com/trustgate/trustgate/internal/protector"
	"github.com/trustgate/trustgate/internal/rotation"
)

const testAdminToken = "test-admin-token"

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*keyring.SigningKey
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]*keyring.SigningKey)}
}

func (m *memKeyRepo) Create(ctx context.Context, key *keyring.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.Status == keyring.StatusActive {
		for _, k := range m.keys {
			if k.Status == keyring.StatusActive {
				return keyring.ErrActiveKeyExists
			}
		}
	}
	cp := *key
	m.keys[key.Kid] = &cp
	return nil
}

func (m *memKeyRepo) GetByKid(ctx context.Context, kid string) (*keyring.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[kid]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, keyring.ErrKeyNotFound
}

func (m *memKeyRepo) GetByStatus(ctx context.Context, status keyring.KeyStatus) (*keyring.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Status == status {
			cp := *k
			return &cp, nil
		}
	}
	return nil, keyring.ErrKeyNotFound
}

func (m *memKeyRepo) SetStatus(ctx context.Context, kid string, status keyring.KeyStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return keyring.ErrKeyNotFound
	}
	k.Status = status
	return nil
}

func (m *memKeyRepo) SetNotAfter(ctx context.Context, kid string, notAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return keyring.ErrKeyNotFound
	}
	k.NotAfter = &notAfter
	return nil
}

func (m *memKeyRepo) DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memPolicyRepo struct {
	mu     sync.Mutex
	policy *policy.KeyRotationPolicy
}

func (m *memPolicyRepo) Get(ctx context.Context) (*policy.KeyRotationPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return nil, policy.ErrPolicyNotFound
	}
	p := *m.policy
	return &p, nil
}

func (m *memPolicyRepo) GetForUpdate(ctx context.Context) (*policy.KeyRotationPolicy, error) {
	return m.Get(ctx)
}

func (m *memPolicyRepo) Update(ctx context.Context, p *policy.KeyRotationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy != nil && p.Version != m.policy.Version {
		return policy.ErrVersionConflict
	}
	stored := *p
	stored.Version = p.Version + 1
	m.policy = &stored
	return nil
}

func (m *memPolicyRepo) Seed(ctx context.Context, p *policy.KeyRotationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		stored := *p
		stored.Version = 1
		m.policy = &stored
	}
	return nil
}

type memTokenPolicyRepo struct {
	mu       sync.Mutex
	override *policy.TokenPolicyOverride
}

func (m *memTokenPolicyRepo) GetOverride(ctx context.Context) (*policy.TokenPolicyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override == nil {
		return nil, policy.ErrPolicyNotFound
	}
	o := *m.override
	return &o, nil
}

func (m *memTokenPolicyRepo) SaveOverride(ctx context.Context, o *policy.TokenPolicyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override != nil && o.Version != m.override.Version {
		return policy.ErrVersionConflict
	}
	stored := *o
	stored.Version = o.Version + 1
	m.override = &stored
	return nil
}

type memIncidentRepo struct {
	mu        sync.Mutex
	incidents []*incident.Incident
}

func (m *memIncidentRepo) Append(ctx context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, inc)
	return nil
}

func (m *memIncidentRepo) Query(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*incident.Incident
	for _, inc := range m.incidents {
		if f.SubjectID != "" && inc.SubjectID != f.SubjectID {
			continue
		}
		if len(f.Types) > 0 {
			match := false
			for _, t := range f.Types {
				if inc.Type == t {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, inc)
	}
	return out, nil
}

func newTestServer(t *testing.T) (http.Handler, *memIncidentRepo) {
	t.Helper()

	prot, err := protector.NewAESGCM(make([]byte, 32), "signing-keys")
	require.NoError(t, err)

	keyRepo := newMemKeyRepo()
	keys := keyring.NewService(keyRepo, prot, keyring.AlgorithmES256)

	policyRepo := &memPolicyRepo{}
	seed := policy.DefaultRotationPolicy()
	seed.UpdatedAt = time.Now()
	require.NoError(t, policyRepo.Seed(context.Background(), &seed))

	incidentRepo := &memIncidentRepo{}
	incidents := incident.NewService(incidentRepo)

	coordinator := rotation.NewCoordinator(passthroughTx{}, policyRepo, keys, incidents, nil)
	_, err = coordinator.RotateIfDue(context.Background(), rotation.TriggerScheduled)
	require.NoError(t, err)

	guardrails := policy.DefaultGuardrails()
	handler := NewHandler(
		keyring.NewPublisher(keys),
		policy.NewRotationPolicyService(policyRepo, guardrails, incidents, false),
		policy.NewTokenPolicyService(&memTokenPolicyRepo{}, guardrails, incidents),
		coordinator,
		incidents,
		testAdminToken,
	)

	return NewRouter(handler, NewRateLimiter(100, 200)), incidentRepo
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("X-Actor-ID", "admin-1")
	return req
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWKS_PublicAndCached(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jwks.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=")

	var set keyring.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "sig", set.Keys[0].Use)
	assert.Empty(t, set.Keys[0].N, "ES256 key must not carry RSA parameters")
}

func TestAdminAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	// No token
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/api/v1/policies/rotation", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/api/v1/policies/rotation", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/api/v1/policies/rotation", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRotationPolicy(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/api/v1/policies/rotation", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RotationPolicyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 90, resp.Policy.RotationIntervalDays)
	assert.Equal(t, 7, resp.Guardrails.MinRotationIntervalDays)
}

func TestUpdateRotationPolicy_GuardrailViolation(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"enabled":true,"rotation_interval_days":3,"grace_period_days":1,"jwks_cache_margin_minutes":60,"version":2}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodPut, "/admin/api/v1/policies/rotation", body))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Violations []policy.Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Violations)
	assert.Equal(t, "rotationIntervalDays", resp.Violations[0].Field)
}

func TestUpdateRotationPolicy_VersionConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"enabled":true,"rotation_interval_days":30,"grace_period_days":2,"jwks_cache_margin_minutes":60,"version":999}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodPut, "/admin/api/v1/policies/rotation", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateTokenPolicy_SparseOverride(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"public":{"access_token_minutes":15},"confidential":{}}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodPut, "/admin/api/v1/policies/token", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenPolicyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 15, resp.Effective.Public.AccessTokenMinutes)
	assert.Equal(t, 60, resp.Effective.Confidential.AccessTokenMinutes, "untouched tier keeps defaults")
	require.NotNil(t, resp.Override)
	assert.Nil(t, resp.Override.Public.IdentityTokenMinutes, "sparse fields stay unset")
}

func TestRotateKeys(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/api/v1/keys/rotate", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RotateKeysResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Rotated)
	assert.NotEmpty(t, resp.NewKid)
	assert.NotEmpty(t, resp.PreviousKid)

	// JWKS now serves both Active and Previous.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jwks.json", nil))
	var set keyring.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Len(t, set.Keys, 2)
}

func TestListIncidents(t *testing.T) {
	srv, incidentRepo := newTestServer(t)

	// The test server's initialization recorded one incident already.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/api/v1/incidents?type="+incident.TypeSigningKeyInitialized, ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Incidents []*incident.Incident `json:"incidents"`
		Count     int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.NotEmpty(t, incidentRepo.incidents)

	// Bad timestamp is rejected.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/api/v1/incidents?from=yesterday", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
