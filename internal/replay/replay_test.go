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

package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bcem/mailingest/internal/bodycache"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/remote"
	"github.com/bcem/mailingest/internal/store"
)

// --- Mock processor ---

type mockProcessor struct {
	mu       sync.Mutex
	payloads []string
	statuses []ingest.Status
}

func (m *mockProcessor) Process(_ context.Context, _ string, payload []byte) ingest.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, string(payload))
	if len(m.statuses) == 0 {
		return ingest.Outcome{Status: ingest.StatusSucceededWithEmail}
	}
	st := m.statuses[0]
	m.statuses = m.statuses[1:]
	if st == ingest.StatusFailed {
		return ingest.Outcome{Status: st, Err: errors.New("boom")}
	}
	return ingest.Outcome{Status: st}
}

// emailProcessor reports every event as ingested with the next email.
type emailProcessor struct {
	emails []*models.Email
}

func (p *emailProcessor) Process(context.Context, string, []byte) ingest.Outcome {
	e := p.emails[0]
	p.emails = p.emails[1:]
	return ingest.Outcome{Status: ingest.StatusSucceededWithEmail, Email: e}
}

type fakeReader struct {
	cached map[int64]bool
}

func (f fakeReader) Load(_ string, key int64) (string, *string, error) {
	if !f.cached[key] {
		return "", nil, errors.New("read body: file does not exist")
	}
	return "<p>x</p>", nil, nil
}

// --- Test helpers ---

func eventJSON(key int) string {
	return fmt.Sprintf(`{
		"metadataKey": %d,
		"messageId": "<m%d@x.com>",
		"subject": "Subject %d",
		"date": "2024-03-01 10:00:00",
		"from": "Alice <a@x.com>",
		"to": ["b@x.com"],
		"recipientId": "b@x.com"
	}`, key, key, key)
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestReplay_FilesAndDirectories verifies that directories expand to their
// JSON files and that both single-object and array files are replayed.
func TestReplay_FilesAndDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/events/b.json", "["+eventJSON(2)+","+eventJSON(3)+"]")
	writeFile(t, fs, "/events/a.json", eventJSON(1))
	writeFile(t, fs, "/events/notes.txt", "ignored")
	writeFile(t, fs, "/single.json", eventJSON(4))

	proc := &mockProcessor{statuses: []ingest.Status{
		ingest.StatusSucceededWithEmail,
		ingest.StatusSucceededNoEntity,
		ingest.StatusFailed,
		ingest.StatusSucceededWithEmail,
	}}
	runner := NewRunner(RunnerConfig{Fs: fs, Processor: proc})

	result, err := runner.Run(context.Background(), Request{AccountID: "acct-b", Paths: []string{"/events", "/single.json"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(proc.payloads) != 4 {
		t.Fatalf("processed %d events, want 4", len(proc.payloads))
	}
	if len(result.FileResults) != 3 {
		t.Fatalf("file results = %+v, want 3 files", result.FileResults)
	}
	if result.FileResults[0].Path != "/events/a.json" {
		t.Errorf("first file = %s, want /events/a.json", result.FileResults[0].Path)
	}
	if result.TotalIngested != 2 || result.TotalSkipped != 1 || result.TotalErrors != 1 {
		t.Errorf("totals = ingested %d skipped %d errors %d, want 2/1/1",
			result.TotalIngested, result.TotalSkipped, result.TotalErrors)
	}
}

// TestReplay_BadFileContinues verifies that an undecodable file counts an
// error and the run continues.
func TestReplay_BadFileContinues(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/events/a.json", "{not json")
	writeFile(t, fs, "/events/b.json", eventJSON(1))

	proc := &mockProcessor{}
	result, err := NewRunner(RunnerConfig{Fs: fs, Processor: proc}).
		Run(context.Background(), Request{AccountID: "acct-b", Paths: []string{"/events"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalErrors != 1 || result.TotalIngested != 1 {
		t.Errorf("totals = %+v", result)
	}
}

func TestReplay_RequiresAccountAndExistingPaths(t *testing.T) {
	runner := NewRunner(RunnerConfig{Fs: afero.NewMemMapFs(), Processor: &mockProcessor{}})

	if _, err := runner.Run(context.Background(), Request{Paths: []string{"/x"}}); err == nil {
		t.Error("expected error without account")
	}
	if _, err := runner.Run(context.Background(), Request{AccountID: "a", Paths: []string{"/missing"}}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestDirFetcher(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/bodies/1.json", `{"body": "<p>hi</p>", "headers": "X-A: 1"}`)
	writeFile(t, fs, "/bodies/2.json", `{"headers": "X-A: 1"}`)
	f := NewDirFetcher(fs, "/bodies")
	ctx := context.Background()

	res, err := f.GetBody(ctx, 1, "")
	if err != nil || res.Missing || res.Body == nil {
		t.Fatalf("GetBody(1) = %+v, %v", res, err)
	}
	if res.Body.Body != "<p>hi</p>" || res.Body.Headers == nil || *res.Body.Headers != "X-A: 1" {
		t.Errorf("body = %+v", res.Body)
	}

	if res, err := f.GetBody(ctx, 9, ""); err != nil || !res.Missing {
		t.Errorf("GetBody(9) = %+v, %v; want missing", res, err)
	}

	if _, err := f.GetBody(ctx, 2, ""); !errors.Is(err, remote.ErrUnexpectedResponse) {
		t.Errorf("GetBody(2) err = %v, want ErrUnexpectedResponse", err)
	}
}

// TestReplay_EndToEnd runs recorded events through a real pipeline backed
// by an in-memory SQLite store.
func TestReplay_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/events/all.json", "["+eventJSON(1)+","+eventJSON(2)+","+eventJSON(1)+"]")
	writeFile(t, fs, "/bodies/1.json", `{"body": "<p>first</p>"}`)

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer st.Close()
	if err := st.UpsertAccount(ctx, models.Account{ID: "acct-b", Email: "b@x.com", Name: "Bee"}); err != nil {
		t.Fatal(err)
	}

	cache := bodycache.NewDisk(fs, "/cache")
	pipeline := ingest.New(ingest.Deps{
		Store:   st,
		Fetcher: NewDirFetcher(fs, "/bodies"),
		Cache:   cache,
		Session: OfflineSession{},
	}, ingest.Config{})

	result, err := NewRunner(RunnerConfig{Fs: fs, Processor: pipeline, Verify: cache}).
		Run(ctx, Request{AccountID: "acct-b", Paths: []string{"/events"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The replayed key 1 reports the email already stored.
	if result.TotalIngested != 3 || result.TotalSkipped != 0 || result.TotalErrors != 0 {
		t.Errorf("totals = ingested %d skipped %d errors %d, want 3/0/0",
			result.TotalIngested, result.TotalSkipped, result.TotalErrors)
	}

	if result.TotalUnverified != 0 {
		t.Errorf("unverified = %d, want 0", result.TotalUnverified)
	}

	first, err := st.GetEmailByKey(ctx, "acct-b", 1)
	if err != nil || first == nil {
		t.Fatalf("email 1 = %+v, %v", first, err)
	}
	if first.Preview != "first" {
		t.Errorf("preview = %q, want first", first.Preview)
	}

	if n, _ := afero.ReadDir(fs, "/cache/acct-b"); len(n) != 1 {
		t.Errorf("cached bodies = %d, want 1", len(n))
	}

	// Key 2 had no recorded body and is stored as unsent.
	second, err := st.GetEmailByKey(ctx, "acct-b", 2)
	if err != nil || second == nil {
		t.Fatalf("email 2 = %+v, %v", second, err)
	}
	if second.UnsentDate == nil {
		t.Error("email without recorded body should carry an unsent date")
	}
}

// TestReplay_VerifyCachedBodies verifies that ingested emails whose body
// cannot be read back are counted, and that unsent emails are not checked.
func TestReplay_VerifyCachedBodies(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/events.json", "["+eventJSON(1)+","+eventJSON(2)+","+eventJSON(3)+"]")

	unsent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	proc := &emailProcessor{emails: []*models.Email{
		{Key: 1},
		{Key: 2},
		{Key: 3, UnsentDate: &unsent},
	}}
	runner := NewRunner(RunnerConfig{
		Fs:        fs,
		Processor: proc,
		Verify:    fakeReader{cached: map[int64]bool{1: true}},
	})

	result, err := runner.Run(context.Background(), Request{AccountID: "acct-b", Paths: []string{"/events.json"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalIngested != 3 || result.TotalUnverified != 1 {
		t.Errorf("totals = ingested %d unverified %d, want 3/1", result.TotalIngested, result.TotalUnverified)
	}
	if result.FileResults[0].Unverified != 1 {
		t.Errorf("file unverified = %d, want 1", result.FileResults[0].Unverified)
	}
}
