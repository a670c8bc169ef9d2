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

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trustgate/trustgate/internal/incident"
)

// IncidentRepository implements incident.Repository
type IncidentRepository struct {
	db *DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Append stores an incident. The table is append-only.
func (r *IncidentRepository) Append(ctx context.Context, inc *incident.Incident) error {
	var detail []byte
	if len(inc.Detail) > 0 {
		var err error
		detail, err = json.Marshal(inc.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode incident detail: %w", err)
		}
	}

	_, err := r.db.querier(ctx).Exec(ctx, `
		INSERT INTO token_incidents (id, type, severity, subject_id, client_id, trace_id, actor_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		inc.ID, inc.Type, inc.Severity, inc.SubjectID, inc.ClientID, inc.TraceID, inc.ActorID, detail, inc.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append incident: %w", err)
	}

	return nil
}

// Query returns incidents matching the filter, newest first
func (r *IncidentRepository) Query(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	query := `
		SELECT id, type, severity, subject_id, client_id, trace_id, actor_id, detail, occurred_at
		FROM token_incidents
		WHERE 1=1
	`
	args := []any{}

	if len(f.Types) > 0 {
		args = append(args, f.Types)
		query += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND occurred_at < $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := r.db.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*incident.Incident
	for rows.Next() {
		var (
			inc    incident.Incident
			detail []byte
		)
		if err := rows.Scan(
			&inc.ID, &inc.Type, &inc.Severity, &inc.SubjectID, &inc.ClientID,
			&inc.TraceID, &inc.ActorID, &detail, &inc.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &inc.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode incident detail: %w", err)
			}
		}
		incidents = append(incidents, &inc)
	}

	return incidents, rows.Err()
}
