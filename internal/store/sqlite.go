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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bcem/mailingest/internal/models"
)

// SQLite is the Store used by the replay tool and tests.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (or creates) a database at path, enables WAL and foreign
// keys, applies pending migrations and seeds the system labels. Use
// ":memory:" for a throwaway store.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.seedLabels(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding system labels: %w", err)
	}
	return s, nil
}

func (s *SQLite) runMigrations() error {
	current := 0

	var tables int
	if err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLite) seedLabels() error {
	for _, l := range models.SystemLabels {
		if _, err := s.db.Exec(`
			INSERT INTO labels (id, account_id, text, color, visible, system)
			VALUES (?, '', ?, ?, ?, 1)
			ON CONFLICT (id) DO NOTHING`,
			l.ID, l.Text, l.Color, l.Visible); err != nil {
			return fmt.Errorf("seeding label %s: %w", l.Text, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type accountRow struct {
	ID       string `db:"id"`
	Email    string `db:"email"`
	Name     string `db:"name"`
	JWT      string `db:"jwt"`
	DeviceID int32  `db:"device_id"`
}

// GetAccount returns the account with the given id.
func (s *SQLite) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var r accountRow
	err := s.db.GetContext(ctx, &r, "SELECT id, email, name, jwt, device_id FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &models.Account{ID: r.ID, Email: r.Email, Name: r.Name, JWT: r.JWT, DeviceID: r.DeviceID}, nil
}

// ListAccounts returns every account ordered by id.
func (s *SQLite) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, email, name, jwt, device_id FROM accounts ORDER BY id"); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Account{ID: r.ID, Email: r.Email, Name: r.Name, JWT: r.JWT, DeviceID: r.DeviceID})
	}
	return out, nil
}

// UpsertAccount inserts or updates an account keyed on id.
func (s *SQLite) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, jwt, device_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email      = excluded.email,
			name       = excluded.name,
			jwt        = excluded.jwt,
			device_id  = excluded.device_id,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Email, a.Name, a.JWT, a.DeviceID)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.ID, err)
	}
	return nil
}

type emailRow struct {
	AccountID   string     `db:"account_id"`
	Key         int64      `db:"key"`
	CompoundKey string     `db:"compound_key"`
	MessageID   string     `db:"message_id"`
	ThreadID    string     `db:"thread_id"`
	Subject     string     `db:"subject"`
	Date        time.Time  `db:"date"`
	Boundary    string     `db:"boundary"`
	ReplyTo     string     `db:"reply_to"`
	Unread      bool       `db:"unread"`
	Secure      bool       `db:"secure"`
	Delivery    int        `db:"delivery"`
	UnsentDate  *time.Time `db:"unsent_date"`
	Preview     string     `db:"preview"`
	FromAddress string     `db:"from_address"`
}

func (r emailRow) toModel() *models.Email {
	return &models.Email{
		AccountID:   r.AccountID,
		Key:         r.Key,
		CompoundKey: r.CompoundKey,
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID,
		Subject:     r.Subject,
		Date:        r.Date.UTC(),
		Boundary:    r.Boundary,
		ReplyTo:     r.ReplyTo,
		Unread:      r.Unread,
		Secure:      r.Secure,
		Delivery:    models.DeliveryStatus(r.Delivery),
		UnsentDate:  utcPtr(r.UnsentDate),
		Preview:     r.Preview,
		FromAddress: r.FromAddress,
	}
}

type labelRow struct {
	ID      int    `db:"id"`
	Text    string `db:"text"`
	Color   string `db:"color"`
	Visible bool   `db:"visible"`
	System  bool   `db:"system"`
}

func (r labelRow) toModel() *models.Label {
	return &models.Label{ID: r.ID, Text: r.Text, Color: r.Color, Visible: r.Visible, System: r.System}
}

// GetEmailByKey returns the email with its labels, or nil.
func (s *SQLite) GetEmailByKey(ctx context.Context, accountID string, key int64) (*models.Email, error) {
	return s.getEmail(ctx, "SELECT"+emailColumns+" FROM emails WHERE account_id = ? AND key = ?", accountID, key)
}

// GetEmailByMessageID returns the oldest email of the account carrying the
// RFC message id, or nil.
func (s *SQLite) GetEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error) {
	return s.getEmail(ctx,
		"SELECT"+emailColumns+" FROM emails WHERE account_id = ? AND message_id = ? ORDER BY key LIMIT 1",
		accountID, messageID)
}

func (s *SQLite) getEmail(ctx context.Context, query string, args ...interface{}) (*models.Email, error) {
	var r emailRow
	err := s.db.GetContext(ctx, &r, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting email: %w", err)
	}
	e := r.toModel()

	var labels []labelRow
	if err := s.db.SelectContext(ctx, &labels, `
		SELECT l.id, l.text, l.color, l.visible, l.system
		FROM email_labels el JOIN labels l ON l.id = el.label_id
		WHERE el.account_id = ? AND el.email_key = ?
		ORDER BY l.id`, e.AccountID, e.Key); err != nil {
		return nil, fmt.Errorf("loading labels for %s: %w", e.CompoundKey, err)
	}
	for _, l := range labels {
		e.Labels = append(e.Labels, *l.toModel())
	}
	return e, nil
}

// StoreEmail inserts the email unless its compound key already exists.
func (s *SQLite) StoreEmail(ctx context.Context, e *models.Email) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		e.AccountID, e.Key, e.CompoundKey, e.MessageID, e.ThreadID, e.Subject, e.Date.UTC(),
		e.Boundary, e.ReplyTo, e.Unread, e.Secure, int(e.Delivery), utcPtr(e.UnsentDate),
		e.Preview, e.FromAddress)
	if err != nil {
		return false, fmt.Errorf("inserting email %s: %w", e.CompoundKey, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	for _, l := range e.Labels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO email_labels (account_id, email_key, label_id)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			e.AccountID, e.Key, l.ID); err != nil {
			return false, fmt.Errorf("linking label %d to %s: %w", l.ID, e.CompoundKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing email %s: %w", e.CompoundKey, err)
	}
	return true, nil
}

// StoreFile inserts an attachment unless its token is already stored for the email.
func (s *SQLite) StoreFile(ctx context.Context, accountID string, f *models.File) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO files
			(account_id, email_key, token, name, size, mime_type, file_key, date, read_only, cid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		accountID, f.EmailKey, f.Token, f.Name, f.Size, f.MimeType, f.FileKey, f.Date.UTC(), f.ReadOnly, f.CID)
	if err != nil {
		return false, fmt.Errorf("inserting file %s: %w", f.Token, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AddLabels attaches labels to an existing email.
func (s *SQLite) AddLabels(ctx context.Context, accountID string, key int64, labelIDs []int) error {
	for _, id := range labelIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO email_labels (account_id, email_key, label_id)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			accountID, key, id); err != nil {
			return fmt.Errorf("adding label %d: %w", id, err)
		}
	}
	return nil
}

// GetLabel returns a label by id, or nil.
func (s *SQLite) GetLabel(ctx context.Context, id int) (*models.Label, error) {
	return s.getLabel(ctx, "SELECT id, text, color, visible, system FROM labels WHERE id = ?", id)
}

// GetLabelByText resolves a label name for an account. System labels match
// regardless of account and win over a custom label with the same text.
func (s *SQLite) GetLabelByText(ctx context.Context, accountID, text string) (*models.Label, error) {
	return s.getLabel(ctx, `
		SELECT id, text, color, visible, system FROM labels
		WHERE lower(text) = lower(?) AND (system = 1 OR account_id = ?)
		ORDER BY system DESC LIMIT 1`,
		strings.TrimSpace(text), accountID)
}

func (s *SQLite) getLabel(ctx context.Context, query string, args ...interface{}) (*models.Label, error) {
	var r labelRow
	err := s.db.GetContext(ctx, &r, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting label: %w", err)
	}
	return r.toModel(), nil
}

// CreateLabel adds a custom label for an account, returning the existing
// one when the name is taken.
func (s *SQLite) CreateLabel(ctx context.Context, accountID, text, color string) (*models.Label, error) {
	existing, err := s.getLabel(ctx,
		"SELECT id, text, color, visible, system FROM labels WHERE account_id = ? AND text = ?",
		accountID, text)
	if err != nil || existing != nil {
		return existing, err
	}

	var next int
	if err := s.db.GetContext(ctx, &next, "SELECT COALESCE(MAX(id), 0) + 1 FROM labels"); err != nil {
		return nil, fmt.Errorf("allocating label id: %w", err)
	}
	if next < firstCustomLabelID {
		next = firstCustomLabelID
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, account_id, text, color, visible, system)
		VALUES (?, ?, ?, ?, 1, 0)`,
		next, accountID, text, color); err != nil {
		return nil, fmt.Errorf("creating label %s: %w", text, err)
	}
	return &models.Label{ID: next, Text: text, Color: color, Visible: true}, nil
}

type contactRow struct {
	Email       string `db:"email"`
	DisplayName string `db:"display_name"`
	SpamScore   int    `db:"spam_score"`
}

// GetContact returns a contact by address, or nil.
func (s *SQLite) GetContact(ctx context.Context, email string) (*models.Contact, error) {
	var r contactRow
	err := s.db.GetContext(ctx, &r, "SELECT email, display_name, spam_score FROM contacts WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact %s: %w", email, err)
	}
	return &models.Contact{Email: r.Email, DisplayName: r.DisplayName, SpamScore: r.SpamScore}, nil
}

// UpsertContact creates a contact or fills a missing display name.
func (s *SQLite) UpsertContact(ctx context.Context, c models.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (email, display_name, spam_score)
		VALUES (?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			display_name = CASE WHEN contacts.display_name = '' THEN excluded.display_name
			                    ELSE contacts.display_name END`,
		c.Email, c.DisplayName, c.SpamScore)
	if err != nil {
		return fmt.Errorf("upserting contact %s: %w", c.Email, err)
	}
	return nil
}

// UpdateContactName overwrites a contact's display name.
func (s *SQLite) UpdateContactName(ctx context.Context, email, name string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE contacts SET display_name = ? WHERE email = ?", name, email)
	return err
}

// LinkContact records the role a contact plays on an email.
func (s *SQLite) LinkContact(ctx context.Context, accountID string, key int64, email string, t models.ContactType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_contacts (account_id, email_key, contact_email, type)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		accountID, key, email, string(t))
	if err != nil {
		return fmt.Errorf("linking contact %s: %w", email, err)
	}
	return nil
}

// EmailContacts lists the addresses linked to an email in the given roles.
func (s *SQLite) EmailContacts(ctx context.Context, accountID string, key int64, types ...models.ContactType) ([]string, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT contact_email FROM email_contacts
		WHERE account_id = ? AND email_key = ? AND type IN (?)
		ORDER BY contact_email`,
		accountID, key, contactTypeStrings(types))
	if err != nil {
		return nil, fmt.Errorf("building contacts query: %w", err)
	}

	var out []string
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing contacts for %s: %w", models.CompoundKey(accountID, key), err)
	}
	return out, nil
}
