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

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcem/mailingest/internal/models"
)

// ParseError reports a malformed or incomplete payload. It is never retryable.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return "parse event: " + e.Reason
	}
	return fmt.Sprintf("parse event: %s: %s", e.Field, e.Reason)
}

// dateLayouts are tried in order. The first is what the mail API emits.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// rawEvent mirrors the notification payload for unmarshalling. Pointers
// distinguish absent fields from zero values.
type rawEvent struct {
	MetadataKey     *int64            `json:"metadataKey"`
	MessageID       *string           `json:"messageId"`
	ThreadID        *string           `json:"threadId"`
	InReplyTo       *string           `json:"inReplyTo"`
	Subject         *string           `json:"subject"`
	Date            *string           `json:"date"`
	Boundary        *string           `json:"boundary"`
	ReplyTo         *string           `json:"replyTo"`
	GuestEncryption *int              `json:"guestEncryption"`
	MessageType     *int              `json:"messageType"`
	SenderDeviceID  *int32            `json:"senderDeviceId"`
	External        *bool             `json:"external"`
	From            *string           `json:"from"`
	To              addressList       `json:"to"`
	Cc              addressList       `json:"cc"`
	Bcc             addressList       `json:"bcc"`
	Labels          []string          `json:"labels"`
	Files           []json.RawMessage `json:"files"`
	FileKey         *string           `json:"fileKey"`
	FileKeys        []string          `json:"fileKeys"`
	RecipientID     *string           `json:"recipientId"`
}

// addressList accepts either a JSON array of strings or a single
// comma-separated string, which older clients still send.
type addressList []string

func (a *addressList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = nil
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = compact(list)
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("expected array or string of addresses")
	}
	*a = compact(strings.Split(joined, ","))
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Parse validates a raw notification payload and returns the typed event.
func Parse(data []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, toParseError(err)
	}

	if raw.RecipientID == nil || strings.TrimSpace(*raw.RecipientID) == "" {
		return nil, &ParseError{Field: "recipientId", Reason: "missing"}
	}
	if raw.MetadataKey == nil {
		return nil, &ParseError{Field: "metadataKey", Reason: "missing"}
	}
	if raw.MessageID == nil || *raw.MessageID == "" {
		return nil, &ParseError{Field: "messageId", Reason: "missing"}
	}
	if raw.Subject == nil {
		return nil, &ParseError{Field: "subject", Reason: "missing"}
	}
	if raw.Date == nil {
		return nil, &ParseError{Field: "date", Reason: "missing"}
	}
	if raw.From == nil || strings.TrimSpace(*raw.From) == "" {
		return nil, &ParseError{Field: "from", Reason: "missing"}
	}

	date, err := parseDate(*raw.Date)
	if err != nil {
		return nil, &ParseError{Field: "date", Reason: err.Error()}
	}

	ev := &Event{
		MetadataKey:    *raw.MetadataKey,
		MessageID:      *raw.MessageID,
		ThreadID:       deref(raw.ThreadID),
		InReplyTo:      deref(raw.InReplyTo),
		Subject:        *raw.Subject,
		Date:           date,
		Boundary:       deref(raw.Boundary),
		ReplyTo:        deref(raw.ReplyTo),
		SenderDeviceID: raw.SenderDeviceID,
		From:           strings.TrimSpace(*raw.From),
		To:             raw.To,
		Cc:             raw.Cc,
		Bcc:            raw.Bcc,
		Labels:         raw.Labels,
		Files:          raw.Files,
		FileKey:        deref(raw.FileKey),
		FileKeys:       raw.FileKeys,
		RecipientID:    strings.TrimSpace(*raw.RecipientID),
	}

	if raw.External != nil {
		ev.External = *raw.External
	}

	if raw.GuestEncryption != nil {
		if *raw.GuestEncryption < 0 || *raw.GuestEncryption > 3 {
			return nil, &ParseError{Field: "guestEncryption", Reason: fmt.Sprintf("out of range: %d", *raw.GuestEncryption)}
		}
		ev.GuestEncryption = *raw.GuestEncryption
	}

	if raw.MessageType != nil {
		mt, err := models.ParseMessageType(*raw.MessageType)
		if err != nil {
			return nil, &ParseError{Field: "messageType", Reason: err.Error()}
		}
		ev.MessageType = mt
	}

	return ev, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func toParseError(err error) *ParseError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ParseError{
			Field:  typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	return &ParseError{Reason: err.Error()}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
