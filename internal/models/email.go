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

// Package models defines the data structures shared across the ingestion service.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus tracks whether an outgoing message reached the server.
type DeliveryStatus int

const (
	DeliveryNone   DeliveryStatus = 0
	DeliveryUnsent DeliveryStatus = 1
	DeliverySent   DeliveryStatus = 3
)

func (d DeliveryStatus) String() string {
	switch d {
	case DeliveryUnsent:
		return "unsent"
	case DeliverySent:
		return "sent"
	default:
		return "none"
	}
}

// Account is the local mailbox owner an event is ingested for.
type Account struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	JWT      string `json:"-"`
	DeviceID int32  `json:"device_id"`
}

// Email is a persisted message. It is created once per (account, key) and
// never deleted by the ingestion pipeline.
type Email struct {
	AccountID   string         `json:"account_id"`
	Key         int64          `json:"key"`
	CompoundKey string         `json:"compound_key"`
	MessageID   string         `json:"message_id"`
	ThreadID    string         `json:"thread_id"`
	Subject     string         `json:"subject"`
	Date        time.Time      `json:"date"`
	Boundary    string         `json:"boundary,omitempty"`
	ReplyTo     string         `json:"reply_to,omitempty"`
	Unread      bool           `json:"unread"`
	Secure      bool           `json:"secure"`
	Delivery    DeliveryStatus `json:"delivery"`
	UnsentDate  *time.Time     `json:"unsent_date,omitempty"`
	Preview     string         `json:"preview"`
	FromAddress string         `json:"from_address"`
	Files       []File         `json:"files,omitempty"`
	Labels      []Label        `json:"labels,omitempty"`
}

// BuildCompoundKey derives the account-scoped uniqueness token.
func (e *Email) BuildCompoundKey() {
	e.CompoundKey = CompoundKey(e.AccountID, e.Key)
}

// CompoundKey formats the account-scoped key for a metadata key.
func CompoundKey(accountID string, key int64) string {
	return fmt.Sprintf("%s:%d", accountID, key)
}

// HasLabel reports whether the email carries the label with the given id.
func (e *Email) HasLabel(id int) bool {
	for _, l := range e.Labels {
		if l.ID == id {
			return true
		}
	}
	return false
}

// AddLabel appends a label unless it is already attached.
func (e *Email) AddLabel(l Label) {
	if e.HasLabel(l.ID) {
		return
	}
	e.Labels = append(e.Labels, l)
}

// File is an attachment owned by exactly one Email.
type File struct {
	Token    string    `json:"token"`
	EmailKey int64     `json:"email_key"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type"`
	FileKey  string    `json:"file_key,omitempty"`
	Date     time.Time `json:"date"`
	ReadOnly bool      `json:"read_only"`
	CID      string    `json:"cid,omitempty"`
}

// Inline reports whether the attachment is rendered inside the body.
func (f *File) Inline() bool { return f.CID != "" }

// Contact is a known correspondent, keyed by lower-cased address.
type Contact struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	SpamScore   int    `json:"spam_score"`
}

// String renders the contact the way fromAddress is stored.
func (c Contact) String() string {
	if strings.TrimSpace(c.DisplayName) == "" {
		return c.Email
	}
	return fmt.Sprintf("%s <%s>", c.DisplayName, c.Email)
}

// ContactType is the role a contact plays on an email.
type ContactType string

const (
	ContactFrom ContactType = "from"
	ContactTo   ContactType = "to"
	ContactCc   ContactType = "cc"
	ContactBcc  ContactType = "bcc"
)
