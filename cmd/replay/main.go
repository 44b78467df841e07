// Copyright (c) 2026 John Earle
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

// Event Replay Command
//
// Standalone CLI tool that feeds recorded new-email events through the
// ingestion pipeline against a local SQLite store. Bodies come either from
// a directory of recorded bodies or from the mail API.
//
// Usage:
//
//	go run ./cmd/replay/ --account <id> --email <address> [--bodies dir | --api url --token jwt] [--verify] events.json [dir ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/bcem/mailingest/internal/bodycache"
	"github.com/bcem/mailingest/internal/decrypt"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/remote"
	"github.com/bcem/mailingest/internal/replay"
	"github.com/bcem/mailingest/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	dbFlag := flag.String("db", "replay.db", "SQLite database path")
	accountFlag := flag.String("account", "", "Account id to ingest for (required)")
	emailFlag := flag.String("email", "", "Account email address; creates or updates the account when set")
	nameFlag := flag.String("name", "", "Account display name")
	deviceFlag := flag.Int("device", 1, "Account device id")
	bodiesFlag := flag.String("bodies", "", "Directory of recorded bodies (<metadataKey>.json)")
	apiFlag := flag.String("api", "", "Mail API base URL; used when --bodies is empty")
	apiVersionFlag := flag.String("api-version", "1", "Mail API version header")
	tokenFlag := flag.String("token", "", "Account JWT for the mail API")
	sessionsFlag := flag.String("sessions", "", "Session service URL (optional; without it encrypted content gets the placeholder)")
	cacheFlag := flag.String("cache", "bodies", "Body cache directory")
	domainFlag := flag.String("domain", "", "Default domain for bare usernames")
	delayFlag := flag.Duration("delay", 0, "Pause between events")
	verifyFlag := flag.Bool("verify", false, "Read back each ingested body from the cache and count failures")
	flag.Parse()

	if *accountFlag == "" || flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: --account and at least one event path are required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *bodiesFlag == "" && *apiFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: one of --bodies or --api is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// --- Store ---
	st, err := store.NewSQLite(*dbFlag)
	if err != nil {
		slog.Error("failed to open SQLite store", "path", *dbFlag, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *emailFlag != "" {
		acct := models.Account{
			ID:       *accountFlag,
			Email:    *emailFlag,
			Name:     *nameFlag,
			JWT:      *tokenFlag,
			DeviceID: int32(*deviceFlag),
		}
		if err := st.UpsertAccount(ctx, acct); err != nil {
			slog.Error("failed to upsert account", "error", err)
			os.Exit(1)
		}
	}

	// --- Collaborators ---
	osFs := afero.NewOsFs()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var fetcher ingest.Fetcher
	if *bodiesFlag != "" {
		fetcher = replay.NewDirFetcher(osFs, *bodiesFlag)
	} else {
		fetcher = remote.NewClient(httpClient, *apiFlag, *apiVersionFlag)
	}

	var session decrypt.Session = replay.OfflineSession{}
	if *sessionsFlag != "" {
		session = decrypt.NewSessionClient(httpClient, *sessionsFlag)
	}

	cache := bodycache.NewDisk(osFs, *cacheFlag)
	pipeline := ingest.New(ingest.Deps{
		Store:   st,
		Fetcher: fetcher,
		Cache:   cache,
		Session: session,
	}, ingest.Config{DefaultDomain: *domainFlag})

	// --- Run Replay ---
	rc := replay.RunnerConfig{
		Fs:        osFs,
		Processor: pipeline,
		Delay:     *delayFlag,
	}
	if *verifyFlag {
		rc.Verify = cache
	}
	runner := replay.NewRunner(rc)

	result, err := runner.Run(ctx, replay.Request{
		AccountID: *accountFlag,
		Paths:     flag.Args(),
	})
	if err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	for _, fr := range result.FileResults {
		slog.Info("file result",
			"path", fr.Path,
			"events", fr.Events,
			"ingested", fr.Ingested,
			"skipped", fr.Skipped,
			"errors", fr.Errors,
			"unverified", fr.Unverified,
		)
	}

	fmt.Printf("\nReplay complete: %d ingested, %d skipped, %d errors in %s\n",
		result.TotalIngested, result.TotalSkipped, result.TotalErrors, result.Elapsed.Round(time.Millisecond))

	if *verifyFlag {
		fmt.Printf("Verified cached bodies: %d unreadable\n", result.TotalUnverified)
	}

	if result.TotalErrors > 0 || result.TotalUnverified > 0 {
		os.Exit(2)
	}
}
