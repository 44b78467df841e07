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

// Package contact parses the address descriptors of an event and keeps the
// contact book in step with ingested mail.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/models"
)

// Parser turns "Name <addr>" descriptors into contacts.
type Parser struct {
	defaultDomain string
}

// NewParser creates a parser that qualifies bare user names with defaultDomain.
func NewParser(defaultDomain string) *Parser {
	return &Parser{defaultDomain: strings.TrimPrefix(strings.TrimSpace(defaultDomain), "@")}
}

// Parse reads one address descriptor. RFC 5322 forms (including encoded
// words) go through the mail parser; anything it rejects is split by hand
// so a sloppy descriptor still yields a usable contact.
func (p *Parser) Parse(raw string) models.Contact {
	raw = strings.TrimSpace(raw)

	if addr, err := mail.ParseAddress(raw); err == nil {
		return models.Contact{
			Email:       p.qualify(addr.Address),
			DisplayName: strings.TrimSpace(addr.Name),
		}
	}

	name, address := "", raw
	if open := strings.LastIndex(raw, "<"); open >= 0 && strings.HasSuffix(raw, ">") {
		name = strings.Trim(strings.TrimSpace(raw[:open]), `"`)
		address = raw[open+1 : len(raw)-1]
	}
	return models.Contact{Email: p.qualify(address), DisplayName: name}
}

// ParseList parses every descriptor, dropping empty ones.
func (p *Parser) ParseList(raws []string) []models.Contact {
	out := make([]models.Contact, 0, len(raws))
	for _, raw := range raws {
		if c := p.Parse(raw); c.Email != "" {
			out = append(out, c)
		}
	}
	return out
}

// Address returns the normalised address of an account's own mailbox.
func (p *Parser) Address(account *models.Account) string {
	return p.qualify(account.Email)
}

func (p *Parser) qualify(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || strings.Contains(address, "@") || p.defaultDomain == "" {
		return address
	}
	return address + "@" + strings.ToLower(p.defaultDomain)
}

// Recipients returns the parsed to, cc and bcc contacts of an event.
func (p *Parser) Recipients(ev *event.Event) []models.Contact {
	var out []models.Contact
	out = append(out, p.ParseList(ev.To)...)
	out = append(out, p.ParseList(ev.Cc)...)
	out = append(out, p.ParseList(ev.Bcc)...)
	return out
}

// Contains reports whether address appears among contacts.
func Contains(contacts []models.Contact, address string) bool {
	for _, c := range contacts {
		if strings.EqualFold(c.Email, address) {
			return true
		}
	}
	return false
}

// Store is the subset of storage the updater writes to.
type Store interface {
	GetContact(ctx context.Context, email string) (*models.Contact, error)
	UpsertContact(ctx context.Context, c models.Contact) error
	UpdateContactName(ctx context.Context, email, name string) error
	LinkContact(ctx context.Context, accountID string, key int64, email string, t models.ContactType) error
}

// Updater records the correspondents of ingested mail.
type Updater struct {
	store  Store
	parser *Parser
}

// NewUpdater creates an updater.
func NewUpdater(store Store, parser *Parser) *Updater {
	return &Updater{store: store, parser: parser}
}

// Update upserts and links every from/to/cc/bcc contact of a stored email,
// then refreshes the account's own display name if it has drifted. It keeps
// going past individual failures and returns them joined.
func (u *Updater) Update(ctx context.Context, ev *event.Event, email *models.Email, account *models.Account) error {
	var errs []error

	roles := []struct {
		t    models.ContactType
		raws []string
	}{
		{models.ContactFrom, []string{ev.From}},
		{models.ContactTo, ev.To},
		{models.ContactCc, ev.Cc},
		{models.ContactBcc, ev.Bcc},
	}

	for _, role := range roles {
		for _, c := range u.parser.ParseList(role.raws) {
			if err := u.store.UpsertContact(ctx, c); err != nil {
				errs = append(errs, fmt.Errorf("upsert %s contact %s: %w", role.t, c.Email, err))
				continue
			}
			if err := u.store.LinkContact(ctx, email.AccountID, email.Key, c.Email, role.t); err != nil {
				errs = append(errs, fmt.Errorf("link %s contact %s: %w", role.t, c.Email, err))
			}
		}
	}

	if err := u.refreshOwnName(ctx, account); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (u *Updater) refreshOwnName(ctx context.Context, account *models.Account) error {
	name := strings.TrimSpace(account.Name)
	if name == "" {
		return nil
	}

	own := u.parser.Address(account)
	c, err := u.store.GetContact(ctx, own)
	if err != nil {
		return fmt.Errorf("get own contact %s: %w", own, err)
	}
	if c == nil || c.DisplayName == name {
		return nil
	}

	if err := u.store.UpdateContactName(ctx, own, name); err != nil {
		return fmt.Errorf("update own contact name: %w", err)
	}
	slog.Debug("own contact name refreshed", "account", account.ID, "contact", own)
	return nil
}
