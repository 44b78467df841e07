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

package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcem/mailingest/internal/contact"
	"github.com/bcem/mailingest/internal/models"
)

// Verdict is the outcome of an existence check.
type Verdict int

const (
	// VerdictNew means nothing is known about the message yet.
	VerdictNew Verdict = iota
	// VerdictExisting means the email is stored and addressed to the account.
	VerdictExisting
	// VerdictIgnored means the message was already handled and yields no entity.
	VerdictIgnored
)

func (v Verdict) String() string {
	switch v {
	case VerdictExisting:
		return "existing"
	case VerdictIgnored:
		return "ignored"
	default:
		return "new"
	}
}

// Result carries the verdict and, for VerdictExisting, the stored email.
type Result struct {
	Verdict Verdict
	Email   *models.Email
}

// Cache reports whether a body was already saved for a message.
type Cache interface {
	Exists(accountID string, key int64) (bool, error)
}

// Store is the storage surface the guard reads and repairs.
type Store interface {
	GetEmailByKey(ctx context.Context, accountID string, key int64) (*models.Email, error)
	EmailContacts(ctx context.Context, accountID string, key int64, types ...models.ContactType) ([]string, error)
	AddLabels(ctx context.Context, accountID string, key int64, labelIDs []int) error
	GetLabel(ctx context.Context, id int) (*models.Label, error)
}

// Guard answers "was this message already ingested?" for an account.
type Guard struct {
	cache  Cache
	store  Store
	parser *contact.Parser
}

// NewGuard creates a guard over the body cache and the store.
func NewGuard(cache Cache, store Store, parser *contact.Parser) *Guard {
	return &Guard{cache: cache, store: store, parser: parser}
}

// Check looks for a saved body or a stored email. A stored email still
// addressed to the account gets its inbox label re-applied and is returned;
// any other prior trace of the message yields VerdictIgnored.
func (g *Guard) Check(ctx context.Context, account *models.Account, key int64) (Result, error) {
	bodySaved, err := g.cache.Exists(account.ID, key)
	if err != nil {
		return Result{}, fmt.Errorf("check body cache: %w", err)
	}

	email, err := g.store.GetEmailByKey(ctx, account.ID, key)
	if err != nil {
		return Result{}, fmt.Errorf("check stored email: %w", err)
	}

	if email == nil {
		if bodySaved {
			return Result{Verdict: VerdictIgnored}, nil
		}
		return Result{Verdict: VerdictNew}, nil
	}

	recipients, err := g.store.EmailContacts(ctx, account.ID, key,
		models.ContactTo, models.ContactCc, models.ContactBcc)
	if err != nil {
		return Result{}, fmt.Errorf("load recipients: %w", err)
	}

	own := g.parser.Address(account)
	isRecipient := false
	for _, r := range recipients {
		if r == own {
			isRecipient = true
			break
		}
	}
	if !isRecipient {
		return Result{Verdict: VerdictIgnored}, nil
	}

	if !email.HasLabel(models.LabelInbox) {
		if err := g.repairInbox(ctx, email); err != nil {
			return Result{}, err
		}
	}
	return Result{Verdict: VerdictExisting, Email: email}, nil
}

func (g *Guard) repairInbox(ctx context.Context, email *models.Email) error {
	if err := g.store.AddLabels(ctx, email.AccountID, email.Key, []int{models.LabelInbox}); err != nil {
		return fmt.Errorf("re-apply inbox label: %w", err)
	}

	inbox, err := g.store.GetLabel(ctx, models.LabelInbox)
	if err != nil || inbox == nil {
		inbox = &models.Label{ID: models.LabelInbox, Text: "Inbox", System: true, Visible: true}
	}
	email.AddLabel(*inbox)

	slog.Info("inbox label re-applied to existing email",
		"account", email.AccountID,
		"metadata_key", email.Key,
	)
	return nil
}
