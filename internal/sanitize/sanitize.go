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

// Package sanitize cleans untrusted HTML bodies and extracts the short
// plain-text preview shown in mailbox lists.
package sanitize

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// PreviewSize is the maximum preview length in characters.
const PreviewSize = 300

// Sanitizer applies the mail body allow-list. It is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New builds the allow-list: the UGC element set plus style, title and
// header, class/style/src on every element, and cid:/data: image sources.
func New() *Sanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowElements("style", "title", "header")
	p.AllowAttrs("class", "style", "src").Globally()
	p.AllowDataURIImages()
	p.AllowURLSchemeWithCustomPolicy("cid", func(u *url.URL) bool {
		return u.Opaque != ""
	})
	// style elements are treated as unsafe content by default.
	p.AllowUnsafe(true)

	return &Sanitizer{policy: p}
}

// Sanitize returns the preview and the cleaned body. It never fails: when the
// content cannot be processed the raw content is returned with a naive
// truncated preview.
func (s *Sanitizer) Sanitize(raw string) (preview, cleaned string) {
	preview, cleaned, err := s.sanitize(raw)
	if err != nil {
		return Truncate(raw, PreviewSize), raw
	}
	return preview, cleaned
}

func (s *Sanitizer) sanitize(raw string) (preview, cleaned string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sanitize panic: %v", r)
		}
	}()

	text, err := PlainText(raw)
	if err != nil {
		return "", "", err
	}

	return Truncate(text, PreviewSize), s.policy.Sanitize(raw), nil
}

// skipText lists elements whose text never reaches the preview.
var skipText = map[string]bool{
	"head":     true,
	"title":    true,
	"style":    true,
	"script":   true,
	"noscript": true,
	"template": true,
}

// blockElements separate words in the rendered text.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

// PlainText renders the visible text of an HTML document with whitespace
// collapsed. Malformed markup is parsed permissively.
func PlainText(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipText[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}

		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " "), nil
}

// Truncate returns at most n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
