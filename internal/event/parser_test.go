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
	"testing"
	"time"

	"github.com/bcem/mailingest/internal/models"
)

func basePayload() map[string]any {
	return map[string]any{
		"metadataKey": 42,
		"messageId":   "<m1@example.com>",
		"subject":     "Hello",
		"date":        "2024-03-01 10:00:00",
		"from":        "Alice <alice@x.com>",
		"to":          []string{"me@example.com"},
		"recipientId": "me",
		"messageType": 1,
	}
}

func encode(t *testing.T, m map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestParse_Valid(t *testing.T) {
	p := basePayload()
	p["guestEncryption"] = 1
	p["senderDeviceId"] = 3
	p["labels"] = []string{"Starred"}
	p["fileKeys"] = []string{"k1"}

	ev, err := Parse(encode(t, p))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if ev.MetadataKey != 42 || ev.MessageID != "<m1@example.com>" || ev.RecipientID != "me" {
		t.Errorf("identity fields = %+v", ev)
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !ev.Date.Equal(want) {
		t.Errorf("date = %v, want %v", ev.Date, want)
	}
	if ev.MessageType != models.MessageTypeCipher {
		t.Errorf("message type = %v, want cipher", ev.MessageType)
	}
	if ev.SenderDeviceID == nil || *ev.SenderDeviceID != 3 {
		t.Errorf("sender device = %v, want 3", ev.SenderDeviceID)
	}
	if !ev.Secure() {
		t.Error("guest encryption 1 should be secure")
	}
	if len(ev.To) != 1 || ev.To[0] != "me@example.com" {
		t.Errorf("to = %v", ev.To)
	}
}

func TestParse_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		drop  string
		field string
	}{
		{"no recipient", "recipientId", "recipientId"},
		{"no metadata key", "metadataKey", "metadataKey"},
		{"no message id", "messageId", "messageId"},
		{"no subject", "subject", "subject"},
		{"no date", "date", "date"},
		{"no from", "from", "from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePayload()
			delete(p, tt.drop)

			_, err := Parse(encode(t, p))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if perr.Field != tt.field {
				t.Errorf("field = %q, want %q", perr.Field, tt.field)
			}
		})
	}
}

func TestParse_EmptySubjectIsAllowed(t *testing.T) {
	p := basePayload()
	p["subject"] = ""
	ev, err := Parse(encode(t, p))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Subject != "" {
		t.Errorf("subject = %q", ev.Subject)
	}
}

func TestParse_WrongShape(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"metadataKey":`},
		{"string key", `{"metadataKey":"forty-two","recipientId":"me"}`},
		{"numeric to", `{"metadataKey":1,"recipientId":"me","to":5}`},
		{"bad date", `{"metadataKey":1,"recipientId":"me","messageId":"m","subject":"s","date":"yesterday","from":"a@x.com"}`},
		{"guest encryption out of range", `{"metadataKey":1,"recipientId":"me","messageId":"m","subject":"s","date":"2024-03-01 10:00:00","from":"a@x.com","guestEncryption":9}`},
		{"unknown message type", `{"metadataKey":1,"recipientId":"me","messageId":"m","subject":"s","date":"2024-03-01 10:00:00","from":"a@x.com","messageType":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
		})
	}
}

func TestParse_LegacyRecipientString(t *testing.T) {
	p := basePayload()
	p["to"] = "a@x.com, b@x.com,,"
	p["cc"] = nil

	ev, err := Parse(encode(t, p))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ev.To) != 2 || ev.To[0] != "a@x.com" || ev.To[1] != "b@x.com" {
		t.Errorf("to = %v, want [a@x.com b@x.com]", ev.To)
	}
	if len(ev.Cc) != 0 {
		t.Errorf("cc = %v, want empty", ev.Cc)
	}
}

func TestParse_DateFormats(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-03-01 10:00:00",
		"2024-03-01T10:00:00Z",
		"2024-03-01T12:00:00+02:00",
		"2024-03-01T10:00:00.000Z",
	} {
		p := basePayload()
		p["date"] = s
		ev, err := Parse(encode(t, p))
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if !ev.Date.Equal(want) {
			t.Errorf("date %q = %v, want %v", s, ev.Date, want)
		}
	}
}

// TestParse_LargeMetadataKey verifies keys above 2^53 survive parsing
// exactly, as they arrive in raw pending-event params.
func TestParse_LargeMetadataKey(t *testing.T) {
	data := []byte(`{
		"metadataKey": 9007199254740993,
		"messageId": "<m1@example.com>",
		"subject": "Hello",
		"date": "2024-03-01 10:00:00",
		"from": "a@x.com",
		"recipientId": "b@x.com"
	}`)
	ev, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.MetadataKey != 9007199254740993 {
		t.Errorf("metadata key = %d, want 9007199254740993", ev.MetadataKey)
	}
}

func TestParse_NonObjectParams(t *testing.T) {
	for _, data := range []string{"", "not json", "[1, 2]", `"text"`} {
		_, err := Parse([]byte(data))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%q) err = %v, want *ParseError", data, err)
		}
	}
}
