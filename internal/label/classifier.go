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

// Package label decides which mailbox labels an ingested email carries.
package label

import (
	"context"
	"log/slog"

	"github.com/bcem/mailingest/internal/contact"
	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/models"
)

// DefaultSpamThreshold is the sender spam score at which mail is tagged spam.
const DefaultSpamThreshold = 2

// Policy holds the tunable classification inputs.
type Policy struct {
	SpamThreshold int
}

// Store is the lookup surface the classifier needs.
type Store interface {
	GetLabel(ctx context.Context, id int) (*models.Label, error)
	GetLabelByText(ctx context.Context, accountID, text string) (*models.Label, error)
	GetContact(ctx context.Context, email string) (*models.Contact, error)
}

// Classifier applies the sent/inbox/custom/spam rules.
type Classifier struct {
	store  Store
	parser *contact.Parser
	policy Policy
}

// NewClassifier creates a classifier. A non-positive threshold selects
// DefaultSpamThreshold.
func NewClassifier(store Store, parser *contact.Parser, policy Policy) *Classifier {
	if policy.SpamThreshold <= 0 {
		policy.SpamThreshold = DefaultSpamThreshold
	}
	return &Classifier{store: store, parser: parser, policy: policy}
}

// Classify sets delivery and unread state on email and attaches its labels.
// Outgoing mail is marked sent and read unless it is also addressed to the
// account. Event label names are resolved by lookup and unknown names are
// dropped. Spam is added on top of the other labels when the sender's score
// reaches the threshold.
func (c *Classifier) Classify(ctx context.Context, email *models.Email, ev *event.Event, account *models.Account) []models.Label {
	own := c.parser.Address(account)
	from := c.parser.Parse(ev.From)

	if from.Email == own {
		if email.Delivery != models.DeliveryUnsent {
			email.Delivery = models.DeliverySent
		}
		email.Unread = false
		c.attach(ctx, email, models.LabelSent)

		if contact.Contains(c.parser.Recipients(ev), own) {
			c.attach(ctx, email, models.LabelInbox)
			email.Unread = true
		}
	} else {
		c.attach(ctx, email, models.LabelInbox)
	}

	for _, name := range ev.Labels {
		l, err := c.store.GetLabelByText(ctx, account.ID, name)
		if err != nil {
			slog.Warn("label lookup failed",
				"account", account.ID,
				"metadata_key", ev.MetadataKey,
				"label", name,
				"error", err,
			)
			continue
		}
		if l == nil {
			slog.Debug("dropping unknown label", "account", account.ID, "label", name)
			continue
		}
		email.AddLabel(*l)
	}

	if c.isSpam(ctx, from.Email) {
		c.attach(ctx, email, models.LabelSpam)
	}

	return email.Labels
}

func (c *Classifier) isSpam(ctx context.Context, address string) bool {
	if address == "" {
		return false
	}
	sender, err := c.store.GetContact(ctx, address)
	if err != nil {
		slog.Warn("sender lookup failed, skipping spam check", "contact", address, "error", err)
		return false
	}
	return sender != nil && sender.SpamScore >= c.policy.SpamThreshold
}

// attach adds a system label, falling back to the built-in definition when
// the store cannot supply it.
func (c *Classifier) attach(ctx context.Context, email *models.Email, id int) {
	l, err := c.store.GetLabel(ctx, id)
	if err != nil {
		slog.Warn("system label lookup failed, using built-in", "label_id", id, "error", err)
	}
	if l == nil {
		l = SystemLabel(id)
	}
	if l != nil {
		email.AddLabel(*l)
	}
}

// SystemLabel returns the built-in definition of a system label id.
func SystemLabel(id int) *models.Label {
	for _, l := range models.SystemLabels {
		if l.ID == id {
			l := l
			return &l
		}
	}
	return nil
}
