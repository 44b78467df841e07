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

// migration is a single versioned SQLite schema change.
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with sequential versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	jwt        TEXT NOT NULL DEFAULT '',
	device_id  INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS labels (
	id         INTEGER PRIMARY KEY,
	account_id TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	visible    INTEGER NOT NULL DEFAULT 1,
	system     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(account_id, text)
);

CREATE TABLE IF NOT EXISTS emails (
	account_id   TEXT NOT NULL,
	key          INTEGER NOT NULL,
	compound_key TEXT NOT NULL UNIQUE,
	message_id   TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	date         DATETIME NOT NULL,
	boundary     TEXT NOT NULL DEFAULT '',
	reply_to     TEXT NOT NULL DEFAULT '',
	unread       INTEGER NOT NULL DEFAULT 1,
	secure       INTEGER NOT NULL DEFAULT 0,
	delivery     INTEGER NOT NULL DEFAULT 0,
	unsent_date  DATETIME,
	preview      TEXT NOT NULL DEFAULT '',
	from_address TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(account_id, key)
);

CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(account_id, message_id);
CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(account_id, thread_id);

CREATE TABLE IF NOT EXISTS email_labels (
	account_id TEXT NOT NULL,
	email_key  INTEGER NOT NULL,
	label_id   INTEGER NOT NULL REFERENCES labels(id),
	PRIMARY KEY(account_id, email_key, label_id),
	FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS files (
	account_id TEXT NOT NULL,
	email_key  INTEGER NOT NULL,
	token      TEXT NOT NULL,
	name       TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	mime_type  TEXT NOT NULL DEFAULT '',
	file_key   TEXT NOT NULL DEFAULT '',
	date       DATETIME NOT NULL,
	read_only  INTEGER NOT NULL DEFAULT 0,
	cid        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY(account_id, email_key, token),
	FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contacts (
	email        TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	spam_score   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS email_contacts (
	account_id    TEXT NOT NULL,
	email_key     INTEGER NOT NULL,
	contact_email TEXT NOT NULL REFERENCES contacts(email),
	type          TEXT NOT NULL,
	PRIMARY KEY(account_id, email_key, contact_email, type),
	FOREIGN KEY(account_id, email_key) REFERENCES emails(account_id, key) ON DELETE CASCADE
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
