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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/observability/logger"
)

// ListIncidents queries the incident log
// @Summary List Incidents
// @Description Query the append-only token security incident log, newest first
// @Tags Incidents
// @Produce json
// @Security AdminToken
// @Param type query []string false "Incident types"
// @Param subject_id query string false "Subject filter"
// @Param from query string false "RFC 3339 lower bound (inclusive)"
// @Param to query string false "RFC 3339 upper bound (exclusive)"
// @Param limit query int false "Maximum results (default 100, cap 500)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /incidents [get]
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := incident.Filter{
		Types:     q["type"],
		SubjectID: q.Get("subject_id"),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'from' timestamp, want RFC 3339")
			return
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'to' timestamp, want RFC 3339")
			return
		}
		f.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid 'limit'")
			return
		}
		f.Limit = n
	}

	incidents, err := h.incidents.Query(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to query incidents", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to query incidents")
		return
	}

	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}
