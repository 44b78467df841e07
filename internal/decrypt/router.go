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

// Package decrypt routes ciphertext units to the session decryption service.
// Every unit (body, headers, each attachment key) is decrypted independently
// and failures are absorbed: callers receive nil and substitute their own
// fallback.
package decrypt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcem/mailingest/internal/metrics"
	"github.com/bcem/mailingest/internal/models"
)

// DefaultExternalIdentity is the pseudo-identity used to address senders
// outside the encrypted network.
const DefaultExternalIdentity = "bob"

// Unit names the piece of content being decrypted, for logs and metrics.
type Unit string

const (
	UnitBody    Unit = "body"
	UnitHeaders Unit = "headers"
	UnitFileKey Unit = "file_key"
)

// Session is the cryptographic session capability.
type Session interface {
	Decrypt(ctx context.Context, ciphertext string, messageType models.MessageType, accountID, identity string, deviceID int32) (string, error)
}

// Route carries the addressing information shared by all units of one message.
type Route struct {
	MessageType    models.MessageType
	AccountID      string
	RecipientID    string
	SenderDeviceID *int32
	External       bool
}

// Router maps a message type and sender identity to plaintext.
type Router struct {
	session          Session
	externalIdentity string
}

// NewRouter creates a router. An empty externalIdentity selects the default.
func NewRouter(session Session, externalIdentity string) *Router {
	if externalIdentity == "" {
		externalIdentity = DefaultExternalIdentity
	}
	return &Router{
		session:          session,
		externalIdentity: externalIdentity,
	}
}

// Identity returns the address the session is keyed by for this route.
func (r *Router) Identity(route Route) string {
	if route.External {
		return r.externalIdentity
	}
	return route.RecipientID
}

// Decrypt returns the plaintext of content, or nil when content is nil or
// could not be decrypted. Plaintext message types and routes without a
// sender device pass the content through unchanged.
func (r *Router) Decrypt(ctx context.Context, unit Unit, content *string, route Route) *string {
	if content == nil {
		return nil
	}
	if !route.MessageType.Encrypted() || route.SenderDeviceID == nil {
		return content
	}

	identity := r.Identity(route)
	plain, err := r.call(ctx, *content, route, identity)
	if err != nil {
		slog.Warn("content could not be decrypted",
			"unit", string(unit),
			"account", route.AccountID,
			"identity", identity,
			"device_id", *route.SenderDeviceID,
			"message_type", route.MessageType.String(),
			"error", err,
		)
		metrics.RecordDecryptFailure(string(unit))
		return nil
	}

	return &plain
}

// call invokes the session and converts a panic from a corrupted session
// state into an error.
func (r *Router) call(ctx context.Context, ciphertext string, route Route, identity string) (plain string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("session panic: %v", rec)
		}
	}()
	return r.session.Decrypt(ctx, ciphertext, route.MessageType, route.AccountID, identity, *route.SenderDeviceID)
}
