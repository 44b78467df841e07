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

// Package thread links replies into the conversation of their parent.
package thread

import (
	"context"
	"log/slog"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/models"
)

// ParentLookup finds a previously stored email by RFC message id.
type ParentLookup interface {
	GetEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error)
}

// Linker resolves the thread id of incoming messages.
type Linker struct {
	store ParentLookup
}

// NewLinker creates a linker backed by the given store.
func NewLinker(store ParentLookup) *Linker {
	return &Linker{store: store}
}

// Resolve returns the thread the event belongs to. A reply whose parent is
// already stored joins the parent's thread; otherwise the event's own thread
// id is used, falling back to its message id when none was sent. Lookup
// errors are logged and treated as "no parent".
func (l *Linker) Resolve(ctx context.Context, ev *event.Event, account *models.Account) string {
	threadID := ev.ThreadID
	if threadID == "" {
		threadID = ev.MessageID
	}

	if ev.InReplyTo == "" {
		return threadID
	}

	parent, err := l.store.GetEmailByMessageID(ctx, account.ID, ev.InReplyTo)
	if err != nil {
		slog.Warn("parent lookup failed, keeping event thread",
			"account", account.ID,
			"metadata_key", ev.MetadataKey,
			"in_reply_to", ev.InReplyTo,
			"error", err,
		)
		return threadID
	}
	if parent == nil || parent.ThreadID == "" {
		return threadID
	}

	return parent.ThreadID
}
