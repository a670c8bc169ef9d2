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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps the OpenTelemetry meter with the token-security
// instruments used across the service.
type Meter struct {
	meter metric.Meter

	KeyRotations   metric.Int64Counter
	ReuseDetected  metric.Int64Counter
	TokensRevoked  metric.Int64Counter
	CorruptKeys    metric.Int64Counter
	RotationChecks metric.Int64Counter
}

// New creates a new meter instance and registers the domain instruments.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	var meter metric.Meter
	if cfg.Enabled {
		meter = otel.Meter(serviceName)
	} else {
		meter = otel.Meter("noop")
	}

	m := &Meter{meter: meter}

	var err error
	if m.KeyRotations, err = counter(meter, "signing_key_rotations_total", "Completed signing key rotations"); err != nil {
		return nil, err
	}
	if m.ReuseDetected, err = counter(meter, "refresh_reuse_detected_total", "Refresh token reuse detections"); err != nil {
		return nil, err
	}
	if m.TokensRevoked, err = counter(meter, "subject_tokens_revoked_total", "Tokens revoked by reuse remediation"); err != nil {
		return nil, err
	}
	if m.CorruptKeys, err = counter(meter, "signing_key_corruptions_total", "Signing keys revoked due to corrupt material"); err != nil {
		return nil, err
	}
	if m.RotationChecks, err = counter(meter, "rotation_checks_total", "Scheduler rotation due-checks"); err != nil {
		return nil, err
	}

	return m, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

func counter(meter metric.Meter, name, description string) (metric.Int64Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return c, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}
