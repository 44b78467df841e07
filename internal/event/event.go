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

// Package event turns a new-email notification payload into a validated,
// immutable Event. Parsing performs no I/O.
package event

import (
	"encoding/json"
	"time"

	"github.com/bcem/mailingest/internal/models"
)

// Event is a parsed new-email notification. Optional string fields are empty
// when absent.
type Event struct {
	MetadataKey     int64
	MessageID       string
	ThreadID        string
	InReplyTo       string
	Subject         string
	Date            time.Time
	Boundary        string
	ReplyTo         string
	GuestEncryption int
	MessageType     models.MessageType
	SenderDeviceID  *int32
	External        bool
	From            string
	To              []string
	Cc              []string
	Bcc             []string
	Labels          []string
	// Files holds the raw attachment descriptors. They are decoded one by one
	// during attachment resolution so a malformed entry only affects itself.
	Files       []json.RawMessage
	FileKey     string
	FileKeys    []string
	RecipientID string
}

// Secure reports whether the sender used guest encryption.
func (e *Event) Secure() bool {
	return e.GuestEncryption == 1 || e.GuestEncryption == 3
}

// HasFiles reports whether the event declares any attachments.
func (e *Event) HasFiles() bool { return len(e.Files) > 0 }
