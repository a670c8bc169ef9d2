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

// Command cleanup prunes rows that have aged past their retention
// windows: retired signing keys, consumed-refresh-token ledger entries,
// expired sessions and expired grants. Run it from cron when the
// server's built-in sweep is disabled.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	now := time.Now().UTC()
	keyCutoff := now.AddDate(0, 0, -cfg.Rotation.RetiredKeyRetentionDays)
	ledgerCutoff := now.AddDate(0, 0, -cfg.Rotation.LedgerRetentionDays)

	keys, err := postgres.NewKeyRepository(db).DeleteRetiredBefore(ctx, keyCutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune retired keys: %v\n", err)
		os.Exit(1)
	}
	ledger, err := postgres.NewLedgerRepository(db).DeleteExpired(ctx, ledgerCutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune reuse ledger: %v\n", err)
		os.Exit(1)
	}
	sessions, err := postgres.NewSessionRepository(db).DeleteExpired(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune sessions: %v\n", err)
		os.Exit(1)
	}
	grants, err := postgres.NewGrantRepository(db).DeleteExpired(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune grants: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Pruned %d retired keys, %d ledger entries, %d sessions, %d grants.\n",
		keys, ledger, sessions, grants)
}
