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
	"log/slog"
	"time"

	"github.com/trustgate/trustgate/internal/observability/logger"
)

// Scheduler periodically asks the coordinator whether the ring is due.
// Multiple instances may run; the coordinator's row lock makes the
// extra checks harmless.
type Scheduler struct {
	coordinator *Coordinator
	interval    time.Duration
}

// NewScheduler creates a scheduler that checks every interval.
func NewScheduler(coordinator *Coordinator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{coordinator: coordinator, interval: interval}
}

// Run blocks until ctx is cancelled. The first check happens
// immediately so a fresh deployment initializes its ring without
// waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	outcome, err := s.coordinator.RotateIfDue(ctx, TriggerScheduled)
	if err != nil {
		slog.ErrorContext(ctx, "rotation check failed", logger.Error(err))
		return
	}
	if outcome.NextRotationAt != nil && !outcome.Rotated && !outcome.Initialized {
		slog.DebugContext(ctx, "rotation not due",
			slog.Time("next_rotation_at", *outcome.NextRotationAt),
		)
	}
}
