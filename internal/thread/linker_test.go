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

package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/models"
)

type mockLookup struct {
	emails map[string]*models.Email
	err    error
}

func (m *mockLookup) GetEmailByMessageID(_ context.Context, accountID, messageID string) (*models.Email, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.emails[accountID+"|"+messageID], nil
}

func TestResolve(t *testing.T) {
	lookup := &mockLookup{emails: map[string]*models.Email{
		"acct-1|<parent@x.com>": {MessageID: "<parent@x.com>", ThreadID: "thread-parent"},
	}}
	account := &models.Account{ID: "acct-1"}

	tests := []struct {
		name string
		ev   event.Event
		want string
	}{
		{"no reply", event.Event{MessageID: "<m@x.com>", ThreadID: "own"}, "own"},
		{"parent found", event.Event{MessageID: "<m@x.com>", ThreadID: "own", InReplyTo: "<parent@x.com>"}, "thread-parent"},
		{"parent missing", event.Event{MessageID: "<m@x.com>", ThreadID: "own", InReplyTo: "<gone@x.com>"}, "own"},
		{"no thread id", event.Event{MessageID: "<m@x.com>"}, "<m@x.com>"},
	}

	l := NewLinker(lookup)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Resolve(context.Background(), &tt.ev, account); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_ScopedToAccount(t *testing.T) {
	lookup := &mockLookup{emails: map[string]*models.Email{
		"acct-2|<parent@x.com>": {ThreadID: "other-account"},
	}}
	ev := &event.Event{MessageID: "<m@x.com>", ThreadID: "own", InReplyTo: "<parent@x.com>"}

	got := NewLinker(lookup).Resolve(context.Background(), ev, &models.Account{ID: "acct-1"})
	if got != "own" {
		t.Errorf("Resolve = %q, want own thread", got)
	}
}

func TestResolve_LookupErrorKeepsOwnThread(t *testing.T) {
	lookup := &mockLookup{err: errors.New("db down")}
	ev := &event.Event{MessageID: "<m@x.com>", ThreadID: "own", InReplyTo: "<parent@x.com>"}

	got := NewLinker(lookup).Resolve(context.Background(), ev, &models.Account{ID: "acct-1"})
	if got != "own" {
		t.Errorf("Resolve = %q, want own", got)
	}
}
