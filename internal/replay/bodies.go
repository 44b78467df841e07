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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/remote"
)

// ErrNoSession is returned by OfflineSession for every decryption.
var ErrNoSession = errors.New("no session service configured")

// DirFetcher serves recorded bodies from <dir>/<metadataKey>.json, each
// holding {"body": "...", "headers": "..."}. A missing file is reported as
// a missing body, the same as a 404 from the mail API.
type DirFetcher struct {
	fs  afero.Fs
	dir string
}

// NewDirFetcher creates a fetcher reading from dir.
func NewDirFetcher(fs afero.Fs, dir string) *DirFetcher {
	return &DirFetcher{fs: fs, dir: dir}
}

// GetBody implements ingest.Fetcher. The token is ignored.
func (f *DirFetcher) GetBody(_ context.Context, key int64, _ string) (remote.BodyResult, error) {
	path := filepath.Join(f.dir, strconv.FormatInt(key, 10)+".json")
	data, err := afero.ReadFile(f.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return remote.BodyResult{Missing: true}, nil
	}
	if err != nil {
		return remote.BodyResult{}, fmt.Errorf("read body %s: %w", path, err)
	}

	var recorded struct {
		Body    *string `json:"body"`
		Headers *string `json:"headers"`
	}
	if err := json.Unmarshal(data, &recorded); err != nil || recorded.Body == nil {
		return remote.BodyResult{}, fmt.Errorf("%w: recorded body %s", remote.ErrUnexpectedResponse, path)
	}
	return remote.BodyResult{Body: &remote.Body{Body: *recorded.Body, Headers: recorded.Headers}}, nil
}

// OfflineSession stands in for the session service when none is reachable.
// Encrypted units fall back to the pipeline's placeholder.
type OfflineSession struct{}

// Decrypt implements decrypt.Session.
func (OfflineSession) Decrypt(context.Context, string, models.MessageType, string, string, int32) (string, error) {
	return "", ErrNoSession
}
