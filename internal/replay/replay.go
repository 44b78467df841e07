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

// Package replay feeds recorded new-email events from JSON files through
// the ingestion pipeline. It is used to seed local stores and to reproduce
// ingestion of captured traffic.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/models"
)

// Processor ingests one raw event payload.
type Processor interface {
	Process(ctx context.Context, accountID string, payload []byte) ingest.Outcome
}

// BodyReader reads back a cached body.
type BodyReader interface {
	Load(accountID string, key int64) (string, *string, error)
}

// Request defines the scope of a replay run.
type Request struct {
	AccountID string
	// Paths are event files or directories of *.json event files.
	Paths []string
}

// Result summarises a completed replay run.
type Result struct {
	FileResults     []FileResult
	TotalIngested   int
	TotalSkipped    int
	TotalErrors     int
	TotalUnverified int
	Elapsed         time.Duration
}

// FileResult tracks per-file progress.
type FileResult struct {
	Path     string
	Events   int
	Ingested int
	Skipped  int
	Errors   int
	// Unverified counts ingested emails whose cached body could not be read back.
	Unverified int
}

// Runner replays event files.
type Runner struct {
	fs        afero.Fs
	processor Processor
	verify    BodyReader    // nil skips read-back
	delay     time.Duration // pause between events
}

// RunnerConfig holds dependencies for the replay runner.
type RunnerConfig struct {
	Fs        afero.Fs
	Processor Processor
	// Verify, when set, reads back the cached body of every ingested email
	// that has one.
	Verify BodyReader
	Delay  time.Duration
}

// NewRunner creates a replay runner.
func NewRunner(cfg RunnerConfig) *Runner {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Runner{
		fs:        fs,
		processor: cfg.Processor,
		verify:    cfg.Verify,
		delay:     cfg.Delay,
	}
}

// Run replays every event found under the requested paths, in file name
// order. A file that cannot be read counts one error and the run continues.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	start := time.Now()
	files, err := r.expand(req.Paths)
	if err != nil {
		return nil, err
	}

	slog.Info("starting replay",
		"account", req.AccountID,
		"files", len(files),
	)

	result := &Result{}
	for _, path := range files {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		fr, err := r.replayFile(ctx, req.AccountID, path)
		if err != nil {
			slog.Error("replay failed for file", "path", path, "error", err)
			// Continue with other files
			fr = FileResult{Path: path, Errors: 1}
		}

		result.FileResults = append(result.FileResults, fr)
		result.TotalIngested += fr.Ingested
		result.TotalSkipped += fr.Skipped
		result.TotalErrors += fr.Errors
		result.TotalUnverified += fr.Unverified
	}

	result.Elapsed = time.Since(start)

	slog.Info("replay complete",
		"account", req.AccountID,
		"total_ingested", result.TotalIngested,
		"total_skipped", result.TotalSkipped,
		"total_errors", result.TotalErrors,
		"total_unverified", result.TotalUnverified,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (r *Runner) replayFile(ctx context.Context, accountID, path string) (FileResult, error) {
	fr := FileResult{Path: path}

	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return fr, fmt.Errorf("read %s: %w", path, err)
	}
	payloads, err := splitEvents(data)
	if err != nil {
		return fr, fmt.Errorf("decode %s: %w", path, err)
	}
	fr.Events = len(payloads)

	for i, payload := range payloads {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return fr, ctx.Err()
			case <-time.After(r.delay):
			}
		}

		out := r.processor.Process(ctx, accountID, payload)
		switch out.Status {
		case ingest.StatusSucceededWithEmail:
			fr.Ingested++
			if !r.verified(accountID, out.Email) {
				fr.Unverified++
			}
		case ingest.StatusSucceededNoEntity:
			fr.Skipped++
		default:
			slog.Warn("replay: event failed",
				"path", path,
				"index", i,
				"error", out.Err,
			)
			fr.Errors++
		}
	}

	slog.Info("file replay complete",
		"path", path,
		"events", fr.Events,
		"ingested", fr.Ingested,
		"skipped", fr.Skipped,
		"errors", fr.Errors,
		"unverified", fr.Unverified,
	)
	return fr, nil
}

// verified reads back the cached body of an ingested email. Emails stored
// without a body, and runs without a reader, always pass.
func (r *Runner) verified(accountID string, email *models.Email) bool {
	if r.verify == nil || email == nil || email.UnsentDate != nil {
		return true
	}
	if _, _, err := r.verify.Load(accountID, email.Key); err != nil {
		slog.Warn("replay: cached body unreadable",
			"account", accountID,
			"metadata_key", email.Key,
			"error", err,
		)
		return false
	}
	return true
}

// expand resolves directories to their *.json files.
func (r *Runner) expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := r.fs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := afero.ReadDir(r.fs, p)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				out = append(out, filepath.Join(p, e.Name()))
			}
		}
	}
	return out, nil
}

// splitEvents accepts a single event object or an array of them.
func splitEvents(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("not a JSON document")
	}
	return []json.RawMessage{trimmed}, nil
}
