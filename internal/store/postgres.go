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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailingest/internal/models"
)

// Postgres is the pgx-backed Store used by the service.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store backed by the given pool. It ensures the
// schema exists and seeds the system labels.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure mail schema: %w", err)
	}
	if err := s.seedLabels(ctx); err != nil {
		return nil, fmt.Errorf("seed system labels: %w", err)
	}
	slog.Info("postgres mail store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS accounts (
			id          TEXT PRIMARY KEY,
			email       TEXT NOT NULL,
			name        TEXT DEFAULT '',
			jwt         TEXT DEFAULT '',
			device_id   INTEGER NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			updated_at  TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE SEQUENCE IF NOT EXISTS custom_label_id START WITH %d;

		CREATE TABLE IF NOT EXISTS labels (
			id          INTEGER PRIMARY KEY,
			account_id  TEXT NOT NULL DEFAULT '',
			text        TEXT NOT NULL,
			color       TEXT DEFAULT '',
			visible     BOOLEAN DEFAULT TRUE,
			system      BOOLEAN DEFAULT FALSE,
			UNIQUE(account_id, text)
		);

		CREATE TABLE IF NOT EXISTS emails (
			account_id    TEXT NOT NULL,
			key           BIGINT NOT NULL,
			compound_key  TEXT NOT NULL UNIQUE,
			message_id    TEXT NOT NULL,
			thread_id     TEXT NOT NULL,
			subject       TEXT DEFAULT '',
			date          TIMESTAMPTZ NOT NULL,
			boundary      TEXT DEFAULT '',
			reply_to      TEXT DEFAULT '',
			unread        BOOLEAN DEFAULT TRUE,
			secure        BOOLEAN DEFAULT FALSE,
			delivery      INTEGER DEFAULT 0,
			unsent_date   TIMESTAMPTZ,
			preview       TEXT DEFAULT '',
			from_address  TEXT DEFAULT '',
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY(account_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(account_id, message_id);
		CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(account_id, thread_id);

		CREATE TABLE IF NOT EXISTS email_labels (
			account_id  TEXT NOT NULL,
			email_key   BIGINT NOT NULL,
			label_id    INTEGER NOT NULL REFERENCES labels(id),
			PRIMARY KEY(account_id, email_key, label_id),
			FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS files (
			account_id  TEXT NOT NULL,
			email_key   BIGINT NOT NULL,
			token       TEXT NOT NULL,
			name        TEXT NOT NULL,
			size        BIGINT DEFAULT 0,
			mime_type   TEXT DEFAULT '',
			file_key    TEXT DEFAULT '',
			date        TIMESTAMPTZ NOT NULL,
			read_only   BOOLEAN DEFAULT FALSE,
			cid         TEXT DEFAULT '',
			PRIMARY KEY(account_id, email_key, token),
			FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS contacts (
			email         TEXT PRIMARY KEY,
			display_name  TEXT DEFAULT '',
			spam_score    INTEGER DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS email_contacts (
			account_id     TEXT NOT NULL,
			email_key      BIGINT NOT NULL,
			contact_email  TEXT NOT NULL REFERENCES contacts(email),
			type           TEXT NOT NULL,
			PRIMARY KEY(account_id, email_key, contact_email, type),
			FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
		);
	`, firstCustomLabelID))
	return err
}

func (s *Postgres) seedLabels(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, l := range models.SystemLabels {
		batch.Queue(`
			INSERT INTO labels (id, account_id, text, color, visible, system)
			VALUES ($1, '', $2, $3, $4, TRUE)
			ON CONFLICT (id) DO NOTHING
		`, l.ID, l.Text, l.Color, l.Visible)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// GetAccount returns the account with the given id.
func (s *Postgres) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, jwt, device_id FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Name, &a.JWT, &a.DeviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Postgres) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, name, jwt, device_id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.JWT, &a.DeviceID); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount inserts or updates an account keyed on id.
func (s *Postgres) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, name, jwt, device_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email      = EXCLUDED.email,
			name       = EXCLUDED.name,
			jwt        = EXCLUDED.jwt,
			device_id  = EXCLUDED.device_id,
			updated_at = NOW()
	`, a.ID, a.Email, a.Name, a.JWT, a.DeviceID)
	return err
}

const emailColumns = `
	account_id, key, compound_key, message_id, thread_id, subject, date,
	boundary, reply_to, unread, secure, delivery, unsent_date, preview, from_address`

// GetEmailByKey returns the email with its labels, or nil.
func (s *Postgres) GetEmailByKey(ctx context.Context, accountID string, key int64) (*models.Email, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+emailColumns+`
		FROM emails WHERE account_id = $1 AND key = $2
	`, accountID, key)
	return s.withLabels(ctx, row)
}

// GetEmailByMessageID returns the oldest email of the account carrying the
// RFC message id, or nil.
func (s *Postgres) GetEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+emailColumns+`
		FROM emails WHERE account_id = $1 AND message_id = $2
		ORDER BY key LIMIT 1
	`, accountID, messageID)
	return s.withLabels(ctx, row)
}

func (s *Postgres) withLabels(ctx context.Context, row pgx.Row) (*models.Email, error) {
	e, err := scanEmail(row)
	if err != nil || e == nil {
		return e, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.text, l.color, l.visible, l.system
		FROM email_labels el JOIN labels l ON l.id = el.label_id
		WHERE el.account_id = $1 AND el.email_key = $2
		ORDER BY l.id
	`, e.AccountID, e.Key)
	if err != nil {
		return nil, fmt.Errorf("load labels for %s: %w", e.CompoundKey, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.Label
		if err := rows.Scan(&l.ID, &l.Text, &l.Color, &l.Visible, &l.System); err != nil {
			return nil, err
		}
		e.Labels = append(e.Labels, l)
	}
	return e, rows.Err()
}

// StoreEmail inserts the email unless its compound key already exists.
func (s *Postgres) StoreEmail(ctx context.Context, e *models.Email) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin email tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
	`, e.AccountID, e.Key, e.CompoundKey, e.MessageID, e.ThreadID, e.Subject, e.Date.UTC(),
		e.Boundary, e.ReplyTo, e.Unread, e.Secure, int(e.Delivery), utcPtr(e.UnsentDate),
		e.Preview, e.FromAddress)
	if err != nil {
		return false, fmt.Errorf("insert email %s: %w", e.CompoundKey, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, l := range e.Labels {
		if _, err := tx.Exec(ctx, `
			INSERT INTO email_labels (account_id, email_key, label_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
		`, e.AccountID, e.Key, l.ID); err != nil {
			return false, fmt.Errorf("link label %d to %s: %w", l.ID, e.CompoundKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit email %s: %w", e.CompoundKey, err)
	}
	return true, nil
}

// StoreFile inserts an attachment unless its token is already stored for the email.
func (s *Postgres) StoreFile(ctx context.Context, accountID string, f *models.File) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO files
			(account_id, email_key, token, name, size, mime_type, file_key, date, read_only, cid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`, accountID, f.EmailKey, f.Token, f.Name, f.Size, f.MimeType, f.FileKey, f.Date.UTC(), f.ReadOnly, f.CID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddLabels attaches labels to an existing email.
func (s *Postgres) AddLabels(ctx context.Context, accountID string, key int64, labelIDs []int) error {
	for _, id := range labelIDs {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO email_labels (account_id, email_key, label_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
		`, accountID, key, id); err != nil {
			return fmt.Errorf("add label %d: %w", id, err)
		}
	}
	return nil
}

// GetLabel returns a label by id, or nil.
func (s *Postgres) GetLabel(ctx context.Context, id int) (*models.Label, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, text, color, visible, system FROM labels WHERE id = $1
	`, id)
	return scanLabel(row)
}

// GetLabelByText resolves a label name for an account. System labels match
// regardless of account and win over a custom label with the same text.
func (s *Postgres) GetLabelByText(ctx context.Context, accountID, text string) (*models.Label, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, text, color, visible, system FROM labels
		WHERE lower(text) = lower($2) AND (system OR account_id = $1)
		ORDER BY system DESC LIMIT 1
	`, accountID, strings.TrimSpace(text))
	return scanLabel(row)
}

// CreateLabel adds a custom label for an account, returning the existing
// one when the name is taken.
func (s *Postgres) CreateLabel(ctx context.Context, accountID, text, color string) (*models.Label, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO labels (id, account_id, text, color, visible, system)
		VALUES (nextval('custom_label_id'), $1, $2, $3, TRUE, FALSE)
		ON CONFLICT (account_id, text) DO UPDATE SET text = EXCLUDED.text
		RETURNING id, text, color, visible, system
	`, accountID, text, color)
	return scanLabel(row)
}

// GetContact returns a contact by address, or nil.
func (s *Postgres) GetContact(ctx context.Context, email string) (*models.Contact, error) {
	var c models.Contact
	err := s.pool.QueryRow(ctx, `
		SELECT email, display_name, spam_score FROM contacts WHERE email = $1
	`, email).Scan(&c.Email, &c.DisplayName, &c.SpamScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact creates a contact or fills a missing display name.
func (s *Postgres) UpsertContact(ctx context.Context, c models.Contact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (email, display_name, spam_score)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			display_name = CASE WHEN contacts.display_name = '' THEN EXCLUDED.display_name
			                    ELSE contacts.display_name END
	`, c.Email, c.DisplayName, c.SpamScore)
	return err
}

// UpdateContactName overwrites a contact's display name.
func (s *Postgres) UpdateContactName(ctx context.Context, email, name string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE contacts SET display_name = $1 WHERE email = $2
	`, name, email)
	return err
}

// LinkContact records the role a contact plays on an email.
func (s *Postgres) LinkContact(ctx context.Context, accountID string, key int64, email string, t models.ContactType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_contacts (account_id, email_key, contact_email, type)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING
	`, accountID, key, email, string(t))
	return err
}

// EmailContacts lists the addresses linked to an email in the given roles.
func (s *Postgres) EmailContacts(ctx context.Context, accountID string, key int64, types ...models.ContactType) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT contact_email FROM email_contacts
		WHERE account_id = $1 AND email_key = $2 AND type = ANY($3)
		ORDER BY contact_email
	`, accountID, key, contactTypeStrings(types))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func scanEmail(row pgx.Row) (*models.Email, error) {
	var (
		e        models.Email
		delivery int
	)
	err := row.Scan(
		&e.AccountID, &e.Key, &e.CompoundKey, &e.MessageID, &e.ThreadID, &e.Subject, &e.Date,
		&e.Boundary, &e.ReplyTo, &e.Unread, &e.Secure, &delivery, &e.UnsentDate,
		&e.Preview, &e.FromAddress,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Delivery = models.DeliveryStatus(delivery)
	return &e, nil
}

func scanLabel(row pgx.Row) (*models.Label, error) {
	var l models.Label
	err := row.Scan(&l.ID, &l.Text, &l.Color, &l.Visible, &l.System)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
