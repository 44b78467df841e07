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

// Package attachment resolves the files declared by a new-email event:
// per-file key material, mime types and inline content-id detection.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bcem/mailingest/internal/decrypt"
	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/metrics"
	"github.com/bcem/mailingest/internal/models"
)

// Error records a descriptor that could not be resolved.
type Error struct {
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("attachment %d: %v", e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver turns attachment descriptors into Files.
type Resolver struct {
	router *decrypt.Router
}

// NewResolver creates a resolver that decrypts key material through router.
func NewResolver(router *decrypt.Router) *Resolver {
	return &Resolver{router: router}
}

// Resolve builds a File for every valid descriptor of ev. body is the cleaned
// message body used for content-id detection. Invalid descriptors are
// reported in the returned errors and do not affect their siblings.
func (r *Resolver) Resolve(ctx context.Context, ev *event.Event, route decrypt.Route, email *models.Email, body string) ([]models.File, []error) {
	if !ev.HasFiles() {
		return nil, nil
	}

	keys := r.keyMaterial(ctx, ev, route)

	files := make([]models.File, 0, len(ev.Files))
	var errs []error

	for i, raw := range ev.Files {
		desc, err := Decode(raw)
		if err != nil {
			metrics.RecordAttachmentFailure()
			slog.Warn("skipping malformed attachment",
				"metadata_key", ev.MetadataKey,
				"index", i,
				"error", err,
			)
			errs = append(errs, &Error{Index: i, Err: err})
			continue
		}

		files = append(files, build(desc, email, keys(i), body))
	}

	return files, errs
}

// keyMaterial returns the message-level key for the attachment at an index.
// A fileKeys array supplies one independently decrypted key per position;
// otherwise the shared fileKey is decrypted once for all attachments. A key
// that cannot be decrypted is kept as received.
func (r *Resolver) keyMaterial(ctx context.Context, ev *event.Event, route decrypt.Route) func(int) string {
	shared := ""
	sharedDone := false
	sharedKey := func() string {
		if !sharedDone {
			shared = r.decryptKey(ctx, ev.FileKey, route)
			sharedDone = true
		}
		return shared
	}

	if len(ev.FileKeys) == 0 {
		return func(int) string { return sharedKey() }
	}

	return func(i int) string {
		if i >= len(ev.FileKeys) {
			slog.Warn("fileKeys shorter than files, using shared key",
				"metadata_key", ev.MetadataKey,
				"index", i,
				"file_keys", len(ev.FileKeys),
			)
			return sharedKey()
		}
		return r.decryptKey(ctx, ev.FileKeys[i], route)
	}
}

func (r *Resolver) decryptKey(ctx context.Context, key string, route decrypt.Route) string {
	if key == "" {
		return ""
	}
	if plain := r.router.Decrypt(ctx, decrypt.UnitFileKey, &key, route); plain != nil {
		return *plain
	}
	return key
}

func build(desc *Descriptor, email *models.Email, messageKey, body string) models.File {
	file := models.File{
		Token:    desc.Token,
		EmailKey: email.Key,
		Name:     desc.Name,
		Size:     *desc.Size,
		MimeType: desc.MimeType,
		FileKey:  messageKey,
		Date:     email.Date,
		ReadOnly: bool(desc.ReadOnly),
	}

	if own, ok := desc.OwnKey(); ok {
		file.FileKey = own
	}
	if file.MimeType == "" {
		file.MimeType = MimeTypeForName(desc.Name)
	}
	if desc.CID != "" && strings.Contains(body, "cid:"+desc.CID) && IsInlineImage(file.MimeType) {
		file.CID = desc.CID
	}

	return file
}
