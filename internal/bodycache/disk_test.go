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

package bodycache

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestDisk_SaveAndExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDisk(fs, "/var/cache/mail")

	ok, err := d.Exists("acct-1", 42)
	if err != nil || ok {
		t.Fatalf("Exists before save = %v, %v", ok, err)
	}

	headers := "X-Test: 1"
	if err := d.Save("acct-1", 42, "<p>hi</p>", &headers); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err = d.Exists("acct-1", 42)
	if err != nil || !ok {
		t.Fatalf("Exists after save = %v, %v", ok, err)
	}
	if ok, _ := d.Exists("acct-2", 42); ok {
		t.Error("body leaked across accounts")
	}

	entries, err := afero.ReadDir(fs, "/var/cache/mail/acct-1/42")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	body, gotHeaders, err := d.Load("acct-1", 42)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if body != "<p>hi</p>" {
		t.Errorf("body = %q", body)
	}
	if gotHeaders == nil || *gotHeaders != headers {
		t.Errorf("headers = %v, want %q", gotHeaders, headers)
	}
}

func TestDisk_SaveWithoutHeaders(t *testing.T) {
	d := NewDisk(afero.NewMemMapFs(), "cache")

	if err := d.Save("acct-1", 7, "body", nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, headers, err := d.Load("acct-1", 7)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if headers != nil {
		t.Errorf("headers = %q, want nil", *headers)
	}
}

func TestDisk_Remove(t *testing.T) {
	d := NewDisk(afero.NewMemMapFs(), "cache")

	if err := d.Remove("acct-1", 9); err != nil {
		t.Fatalf("Remove of absent entry: %v", err)
	}
	if err := d.Save("acct-1", 9, "body", nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("acct-1", 9); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := d.Exists("acct-1", 9); ok {
		t.Error("body still exists after Remove")
	}
}

func TestDisk_RejectsTraversal(t *testing.T) {
	d := NewDisk(afero.NewMemMapFs(), "cache")

	for _, id := range []string{"", "..", "../other", `a\b`} {
		if err := d.Save(id, 1, "x", nil); err == nil {
			t.Errorf("Save(%q) should fail", id)
		}
		if _, err := d.Exists(id, 1); err == nil {
			t.Errorf("Exists(%q) should fail", id)
		}
	}
}
