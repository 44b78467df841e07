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

package label

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/bcem/mailingest/internal/contact"
	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/models"
)

type mockStore struct {
	custom   map[string]models.Label
	contacts map[string]models.Contact
	labelErr error
}

func (m *mockStore) GetLabel(_ context.Context, id int) (*models.Label, error) {
	if m.labelErr != nil {
		return nil, m.labelErr
	}
	return SystemLabel(id), nil
}

func (m *mockStore) GetLabelByText(_ context.Context, _ string, text string) (*models.Label, error) {
	for _, l := range models.SystemLabels {
		if strings.EqualFold(l.Text, text) {
			return &l, nil
		}
	}
	if l, ok := m.custom[strings.ToLower(text)]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *mockStore) GetContact(_ context.Context, email string) (*models.Contact, error) {
	c, ok := m.contacts[email]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func labelIDs(labels []models.Label) []int {
	ids := make([]int, 0, len(labels))
	for _, l := range labels {
		ids = append(ids, l.ID)
	}
	sort.Ints(ids)
	return ids
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassify(t *testing.T) {
	store := &mockStore{
		custom: map[string]models.Label{"receipts": {ID: 100, Text: "Receipts"}},
		contacts: map[string]models.Contact{
			"spammer@x.com": {Email: "spammer@x.com", SpamScore: 2},
			"almost@x.com":  {Email: "almost@x.com", SpamScore: 1},
		},
	}
	account := &models.Account{ID: "acct-b", Email: "b@x.com"}

	tests := []struct {
		name       string
		ev         event.Event
		delivery   models.DeliveryStatus
		wantLabels []int
		wantUnread bool
		wantStatus models.DeliveryStatus
	}{
		{
			name:       "received",
			ev:         event.Event{From: "a@x.com", To: []string{"b@x.com"}},
			wantLabels: []int{models.LabelInbox},
			wantUnread: true,
		},
		{
			name:       "sent",
			ev:         event.Event{From: "b@x.com", To: []string{"c@x.com"}},
			wantLabels: []int{models.LabelSent},
			wantUnread: false,
			wantStatus: models.DeliverySent,
		},
		{
			name:       "sent to self",
			ev:         event.Event{From: "B <B@x.com>", To: []string{"b@x.com"}},
			wantLabels: []int{models.LabelInbox, models.LabelSent},
			wantUnread: true,
			wantStatus: models.DeliverySent,
		},
		{
			name:       "self via bcc",
			ev:         event.Event{From: "b@x.com", To: []string{"c@x.com"}, Bcc: []string{"b@x.com"}},
			wantLabels: []int{models.LabelInbox, models.LabelSent},
			wantUnread: true,
			wantStatus: models.DeliverySent,
		},
		{
			name:       "unsent stays unsent",
			ev:         event.Event{From: "b@x.com", To: []string{"c@x.com"}},
			delivery:   models.DeliveryUnsent,
			wantLabels: []int{models.LabelSent},
			wantStatus: models.DeliveryUnsent,
		},
		{
			name:       "event labels",
			ev:         event.Event{From: "a@x.com", Labels: []string{"Starred", "receipts", "Nope"}},
			wantLabels: []int{models.LabelInbox, models.LabelStarred, 100},
			wantUnread: true,
		},
		{
			name:       "spam is additive",
			ev:         event.Event{From: "spammer@x.com", To: []string{"b@x.com"}},
			wantLabels: []int{models.LabelInbox, models.LabelSpam},
			wantUnread: true,
		},
		{
			name:       "below threshold",
			ev:         event.Event{From: "almost@x.com"},
			wantLabels: []int{models.LabelInbox},
			wantUnread: true,
		},
	}

	c := NewClassifier(store, contact.NewParser(""), Policy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &models.Email{Unread: true, Delivery: tt.delivery}
			labels := c.Classify(context.Background(), email, &tt.ev, account)

			if got := labelIDs(labels); !equalIDs(got, tt.wantLabels) {
				t.Errorf("labels = %v, want %v", got, tt.wantLabels)
			}
			if email.Unread != tt.wantUnread {
				t.Errorf("unread = %v, want %v", email.Unread, tt.wantUnread)
			}
			if email.Delivery != tt.wantStatus {
				t.Errorf("delivery = %v, want %v", email.Delivery, tt.wantStatus)
			}
		})
	}
}

func TestClassify_InjectedThreshold(t *testing.T) {
	store := &mockStore{contacts: map[string]models.Contact{
		"a@x.com": {Email: "a@x.com", SpamScore: 4},
	}}
	account := &models.Account{ID: "acct-b", Email: "b@x.com"}
	ev := &event.Event{From: "a@x.com"}

	strict := NewClassifier(store, contact.NewParser(""), Policy{SpamThreshold: 5})
	email := &models.Email{Unread: true}
	strict.Classify(context.Background(), email, ev, account)
	if email.HasLabel(models.LabelSpam) {
		t.Error("score 4 should not reach threshold 5")
	}
}

func TestClassify_FallsBackToBuiltInLabels(t *testing.T) {
	store := &mockStore{labelErr: errors.New("db down")}
	c := NewClassifier(store, contact.NewParser(""), Policy{})

	email := &models.Email{Unread: true}
	c.Classify(context.Background(), email, &event.Event{From: "a@x.com"}, &models.Account{Email: "b@x.com"})
	if !email.HasLabel(models.LabelInbox) {
		t.Errorf("labels = %v, want inbox", email.Labels)
	}
}
