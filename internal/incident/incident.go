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

package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trustgate/trustgate/internal/observability/logger"
)

// Incident types
const (
	TypeSigningKeyInitialized = "signing_key_initialized"
	TypeSigningKeyRotated     = "signing_key_rotated"
	TypeKeyMaterialCorrupt    = "key_material_corrupt"
	TypeRefreshTokenReuse     = "refresh_token_reuse"
	TypeSubjectTokensRevoked  = "subject_tokens_revoked"
	TypeRotationPolicyUpdated = "rotation_policy_updated"
	TypeTokenPolicyUpdated    = "token_policy_updated"
	TypeGuardrailOverride     = "policy_guardrail_override"
)

// Severity levels
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Incident is one append-only record of a security-relevant event.
// Detail must be redaction-safe: never raw token values or key material.
type Incident struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	SubjectID string         `json:"subject_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Filter narrows an incident query.
type Filter struct {
	Types     []string
	SubjectID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Repository defines the interface for incident persistence. Records
// are append-only; there is no update or delete.
type Repository interface {
	Append(ctx context.Context, inc *Incident) error
	Query(ctx context.Context, f Filter) ([]*Incident, error)
}

// Service records and queries incidents.
type Service struct {
	repo Repository
}

// NewService creates a new incident service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends an incident. A persistence failure is logged and
// swallowed: incident logging must never turn into an issuance or
// authentication failure for the caller.
func (s *Service) Record(ctx context.Context, inc Incident) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now()
	}
	if inc.Severity == "" {
		inc.Severity = SeverityInfo
	}
	inc.Detail = redact(inc.Detail)

	attrs := []any{
		slog.String("incident_type", inc.Type),
		slog.String("severity", string(inc.Severity)),
	}
	if inc.SubjectID != "" {
		attrs = append(attrs, logger.SubjectID(inc.SubjectID))
	}
	if inc.ClientID != "" {
		attrs = append(attrs, logger.ClientID(inc.ClientID))
	}
	if inc.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", inc.ActorID))
	}
	if len(inc.Detail) > 0 {
		group := []any{}
		for k, v := range inc.Detail {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("detail", group...))
	}
	slog.InfoContext(ctx, "TOKEN_INCIDENT", append(attrs, slog.String("component", "incident"))...)

	if err := s.repo.Append(ctx, &inc); err != nil {
		slog.ErrorContext(ctx, "failed to persist incident",
			logger.Error(err),
			slog.String("incident_type", inc.Type),
		)
	}
}

// Query returns incidents matching the filter, newest first.
func (s *Service) Query(ctx context.Context, f Filter) ([]*Incident, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.Query(ctx, f)
}

// redact masks detail values under keys that likely hold secrets.
func redact(detail map[string]any) map[string]any {
	if len(detail) == 0 {
		return detail
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}

func isSecret(key string) bool {
	secrets := []string{"password", "secret", "token", "key", "authorization", "refresh_token"}
	for _, s := range secrets {
		if key == s {
			return true
		}
	}
	return false
}
