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

// Package bodycache stores decrypted message bodies on disk, one directory
// per (account, metadata key). A saved body doubles as the marker that the
// message has already been ingested.
package bodycache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	bodyFile    = "body"
	headersFile = "headers"
)

// Disk is an afero-backed body cache laid out as <root>/<account>/<key>/{body,headers}.
type Disk struct {
	fs   afero.Fs
	root string
}

// NewDisk creates a cache rooted at dir on fs. Pass afero.NewOsFs() in
// production and afero.NewMemMapFs() in tests.
func NewDisk(fs afero.Fs, dir string) *Disk {
	return &Disk{fs: fs, root: filepath.Clean(dir)}
}

// Exists reports whether a body has been saved for the message.
func (d *Disk) Exists(accountID string, key int64) (bool, error) {
	dir, err := d.dir(accountID, key)
	if err != nil {
		return false, err
	}
	return afero.Exists(d.fs, filepath.Join(dir, bodyFile))
}

// Save writes the body and, when present, the headers. The body is written
// last through a temp file and rename so Exists never sees a partial body.
func (d *Disk) Save(accountID string, key int64, body string, headers *string) error {
	dir, err := d.dir(accountID, key)
	if err != nil {
		return err
	}
	if err := d.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create body dir: %w", err)
	}

	if headers != nil {
		if err := afero.WriteFile(d.fs, filepath.Join(dir, headersFile), []byte(*headers), 0o600); err != nil {
			return fmt.Errorf("write headers: %w", err)
		}
	}

	f, err := afero.TempFile(d.fs, dir, bodyFile+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create body temp file: %w", err)
	}
	tmp := f.Name()
	_, werr := f.WriteString(body)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("write body: %w", werr)
	}
	if err := d.fs.Rename(tmp, filepath.Join(dir, bodyFile)); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("commit body: %w", err)
	}
	return nil
}

// Remove deletes everything saved for the message. Removing an absent entry
// is not an error.
func (d *Disk) Remove(accountID string, key int64) error {
	dir, err := d.dir(accountID, key)
	if err != nil {
		return err
	}
	if err := d.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove body dir: %w", err)
	}
	return nil
}

// Load returns the saved body and headers. Missing headers come back nil.
func (d *Disk) Load(accountID string, key int64) (string, *string, error) {
	dir, err := d.dir(accountID, key)
	if err != nil {
		return "", nil, err
	}

	body, err := afero.ReadFile(d.fs, filepath.Join(dir, bodyFile))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	raw, err := afero.ReadFile(d.fs, filepath.Join(dir, headersFile))
	if os.IsNotExist(err) {
		return string(body), nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("read headers: %w", err)
	}
	headers := string(raw)
	return string(body), &headers, nil
}

// dir builds the message directory, refusing account ids that would escape
// the cache root.
func (d *Disk) dir(accountID string, key int64) (string, error) {
	if accountID == "" || accountID == "." || accountID == ".." ||
		strings.ContainsAny(accountID, `/\`) {
		return "", fmt.Errorf("invalid account id %q for body cache", accountID)
	}
	return filepath.Join(d.root, accountID, strconv.FormatInt(key, 10)), nil
}
