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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRouter_Separation verifies the public/admin split: key discovery
// stays anonymous while every policy and incident endpoint sits behind
// the admin token.
func TestRouter_Separation(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("public surface needs no credentials", func(t *testing.T) {
		for _, path := range []string{"/health", "/jwks.json", "/.well-known/jwks.json"} {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, http.StatusOK, w.Code, "%s should be public", path)
		}
	})

	t.Run("admin surface rejects anonymous requests", func(t *testing.T) {
		for _, tc := range []struct{ method, path string }{
			{"GET", "/admin/api/v1/policies/rotation"},
			{"PUT", "/admin/api/v1/policies/rotation"},
			{"GET", "/admin/api/v1/policies/token"},
			{"PUT", "/admin/api/v1/policies/token"},
			{"POST", "/admin/api/v1/keys/rotate"},
			{"GET", "/admin/api/v1/incidents"},
		} {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s should demand the admin token", tc.method, tc.path)
		}
	})

	t.Run("admin endpoints are not mounted on the public prefix", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("GET", "/policies/rotation", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("POST", "/keys/rotate", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
