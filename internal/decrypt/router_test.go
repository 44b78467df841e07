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

package decrypt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bcem/mailingest/internal/models"
)

// mockSession records calls and returns a canned result.
type mockSession struct {
	calls    int
	identity string
	deviceID int32
	plain    string
	err      error
	panicMsg string
}

func (m *mockSession) Decrypt(_ context.Context, ciphertext string, _ models.MessageType, _, identity string, deviceID int32) (string, error) {
	m.calls++
	m.identity = identity
	m.deviceID = deviceID
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return "", m.err
	}
	if m.plain != "" {
		return m.plain, nil
	}
	return "plain(" + ciphertext + ")", nil
}

func strPtr(s string) *string { return &s }
func devPtr(d int32) *int32   { return &d }

func TestRouter_Decrypt(t *testing.T) {
	tests := []struct {
		name      string
		content   *string
		route     Route
		session   *mockSession
		want      *string
		wantCalls int
		wantIdent string
	}{
		{
			name:    "absent content",
			content: nil,
			route:   Route{MessageType: models.MessageTypeCipher, SenderDeviceID: devPtr(1)},
			session: &mockSession{},
			want:    nil,
		},
		{
			name:    "plaintext type passes through",
			content: strPtr("hello"),
			route:   Route{MessageType: models.MessageTypeNone, SenderDeviceID: devPtr(1)},
			session: &mockSession{},
			want:    strPtr("hello"),
		},
		{
			name:    "missing device passes through",
			content: strPtr("cipher"),
			route:   Route{MessageType: models.MessageTypePreKey},
			session: &mockSession{},
			want:    strPtr("cipher"),
		},
		{
			name:      "internal sender uses recipient id",
			content:   strPtr("cipher"),
			route:     Route{MessageType: models.MessageTypeCipher, RecipientID: "alice", SenderDeviceID: devPtr(2)},
			session:   &mockSession{},
			want:      strPtr("plain(cipher)"),
			wantCalls: 1,
			wantIdent: "alice",
		},
		{
			name:      "external sender uses pseudo identity",
			content:   strPtr("cipher"),
			route:     Route{MessageType: models.MessageTypePreKey, RecipientID: "alice", SenderDeviceID: devPtr(2), External: true},
			session:   &mockSession{},
			want:      strPtr("plain(cipher)"),
			wantCalls: 1,
			wantIdent: DefaultExternalIdentity,
		},
		{
			name:      "session error yields nil",
			content:   strPtr("cipher"),
			route:     Route{MessageType: models.MessageTypeCipher, RecipientID: "alice", SenderDeviceID: devPtr(2)},
			session:   &mockSession{err: errors.New("bad mac")},
			want:      nil,
			wantCalls: 1,
			wantIdent: "alice",
		},
		{
			name:      "session panic yields nil",
			content:   strPtr("cipher"),
			route:     Route{MessageType: models.MessageTypeCipher, RecipientID: "alice", SenderDeviceID: devPtr(2)},
			session:   &mockSession{panicMsg: "corrupted record"},
			want:      nil,
			wantCalls: 1,
			wantIdent: "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(tt.session, "")
			got := r.Decrypt(context.Background(), UnitBody, tt.content, tt.route)

			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %q, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("got nil, want %q", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("got %q, want %q", *got, *tt.want)
			}

			if tt.session.calls != tt.wantCalls {
				t.Errorf("session calls = %d, want %d", tt.session.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && tt.session.identity != tt.wantIdent {
				t.Errorf("identity = %q, want %q", tt.session.identity, tt.wantIdent)
			}
		})
	}
}

func TestRouter_CustomExternalIdentity(t *testing.T) {
	r := NewRouter(&mockSession{}, "guest")
	if got := r.Identity(Route{External: true, RecipientID: "alice"}); got != "guest" {
		t.Errorf("identity = %q, want guest", got)
	}
}

func TestSessionClient_Decrypt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decrypt" {
			http.NotFound(w, r)
			return
		}

		var req decryptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.RecipientID != "alice" || req.DeviceID != 3 || req.MessageType != 3 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		json.NewEncoder(w).Encode(decryptResponse{Plaintext: "secret"})
	}))
	defer server.Close()

	c := NewSessionClient(server.Client(), server.URL)

	got, err := c.Decrypt(context.Background(), "cipher", models.MessageTypePreKey, "acct-1", "alice", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secret" {
		t.Errorf("plaintext = %q, want secret", got)
	}
}

func TestSessionClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no session", http.StatusConflict)
	}))
	defer server.Close()

	c := NewSessionClient(server.Client(), server.URL)

	if _, err := c.Decrypt(context.Background(), "cipher", models.MessageTypeCipher, "acct-1", "alice", 1); err == nil {
		t.Fatal("expected error for HTTP 409")
	}
}
