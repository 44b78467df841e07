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

package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize_Preview(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "paragraph", raw: "<p>hi</p>", want: "hi"},
		{name: "blocks separated", raw: "<p>hello</p><p>world</p>", want: "hello world"},
		{name: "inline joined", raw: "<b>he</b>llo", want: "hello"},
		{name: "style skipped", raw: "<style>p{color:red}</style><p>body</p>", want: "body"},
		{name: "script skipped", raw: "<script>alert(1)</script>text", want: "text"},
		{name: "whitespace collapsed", raw: "  a \n\n   b\t", want: "a b"},
		{name: "plain text", raw: "just text", want: "just text"},
		{name: "malformed", raw: "<div><p>open <b>tags", want: "open tags"},
		{name: "empty", raw: "", want: ""},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preview, _ := s.Sanitize(tt.raw)
			if preview != tt.want {
				t.Errorf("preview = %q, want %q", preview, tt.want)
			}
		})
	}
}

func TestSanitize_PreviewBounded(t *testing.T) {
	s := New()
	raw := "<p>" + strings.Repeat("ñ", 1000) + "</p>"

	preview, _ := s.Sanitize(raw)
	if n := utf8.RuneCountInString(preview); n != PreviewSize {
		t.Errorf("preview length = %d, want %d", n, PreviewSize)
	}
}

func TestSanitize_StripsScript(t *testing.T) {
	s := New()
	_, cleaned := s.Sanitize(`<p onclick="steal()">hi</p><script>alert(1)</script>`)

	if strings.Contains(cleaned, "script") {
		t.Errorf("cleaned body still contains script: %q", cleaned)
	}
	if strings.Contains(cleaned, "onclick") {
		t.Errorf("cleaned body still contains event handler: %q", cleaned)
	}
	if !strings.Contains(cleaned, "hi") {
		t.Errorf("cleaned body lost text: %q", cleaned)
	}
}

func TestSanitize_KeepsInlineImageSources(t *testing.T) {
	s := New()
	_, cleaned := s.Sanitize(`<img src="cid:logo123">`)

	if !strings.Contains(cleaned, "cid:logo123") {
		t.Errorf("cid source removed: %q", cleaned)
	}
}

func TestSanitize_KeepsClassAndStyle(t *testing.T) {
	s := New()
	_, cleaned := s.Sanitize(`<div class="quote" style="color: red">q</div>`)

	if !strings.Contains(cleaned, `class="quote"`) {
		t.Errorf("class attribute removed: %q", cleaned)
	}
	if !strings.Contains(cleaned, "style=") {
		t.Errorf("style attribute removed: %q", cleaned)
	}
}

// TestSanitize_Idempotent verifies that cleaning allow-listed HTML does not
// change its visible text.
func TestSanitize_Idempotent(t *testing.T) {
	s := New()
	inputs := []string{
		"<p>hello <b>bold</b> and <i>italic</i></p>",
		"<ul><li>one</li><li>two</li></ul>",
		`<table><tr><td>cell</td></tr></table>`,
	}

	for _, in := range inputs {
		before, cleaned := s.Sanitize(in)
		after, _ := s.Sanitize(cleaned)
		if before != after {
			t.Errorf("visible text changed: %q -> %q", before, after)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 3, "hel"},
		{"hello", 10, "hello"},
		{"héllo", 2, "hé"},
		{"abc", 0, ""},
	}

	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
