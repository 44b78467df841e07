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

// Package store persists accounts, emails, attachments, labels and contacts.
// Two implementations share the Store contract: Postgres for the service
// and SQLite for local tooling and tests. Lookups return nil, nil when no
// row matches. Inserts of emails and files are insert-if-absent and report
// whether a row was written; the database unique keys are the only
// authority on duplicates.
package store

import (
	"context"
	"fmt"

	"github.com/bcem/mailingest/internal/models"
)

// Store is the storage contract used by the ingestion pipeline.
type Store interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpsertAccount(ctx context.Context, a models.Account) error
	ListAccounts(ctx context.Context) ([]models.Account, error)

	GetEmailByKey(ctx context.Context, accountID string, key int64) (*models.Email, error)
	GetEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error)
	// StoreEmail inserts the email and its label links in one transaction.
	StoreEmail(ctx context.Context, e *models.Email) (bool, error)
	StoreFile(ctx context.Context, accountID string, f *models.File) (bool, error)
	AddLabels(ctx context.Context, accountID string, key int64, labelIDs []int) error

	GetLabel(ctx context.Context, id int) (*models.Label, error)
	GetLabelByText(ctx context.Context, accountID, text string) (*models.Label, error)
	CreateLabel(ctx context.Context, accountID, text, color string) (*models.Label, error)

	GetContact(ctx context.Context, email string) (*models.Contact, error)
	// UpsertContact creates the contact or fills in a display name the
	// stored record lacks. Spam scores are never overwritten.
	UpsertContact(ctx context.Context, c models.Contact) error
	UpdateContactName(ctx context.Context, email, name string) error
	LinkContact(ctx context.Context, accountID string, key int64, email string, t models.ContactType) error
	EmailContacts(ctx context.Context, accountID string, key int64, types ...models.ContactType) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// firstCustomLabelID is where user-defined label ids start, clear of the
// system range.
const firstCustomLabelID = 100

// EnsureLabels creates the account's custom labels that are not already
// known by text. A system label with the same text counts as present.
// It returns the number of labels created.
func EnsureLabels(ctx context.Context, s Store, accountID string, labels []models.Label) (int, error) {
	created := 0
	for _, l := range labels {
		existing, err := s.GetLabelByText(ctx, accountID, l.Text)
		if err != nil {
			return created, fmt.Errorf("look up label %s: %w", l.Text, err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.CreateLabel(ctx, accountID, l.Text, l.Color); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func contactTypeStrings(types []models.ContactType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
