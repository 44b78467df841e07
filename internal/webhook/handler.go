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

// Package webhook accepts new-email events pushed over HTTP. Each request
// is authenticated with a bearer JWT whose subject is the account id,
// acknowledged with 202 and ingested in the background.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/ingest"
)

// maxPayloadBytes caps a single event body.
const maxPayloadBytes = 1 << 20

// Ingester runs the pipeline without blocking the request.
type Ingester interface {
	ProcessAsync(ctx context.Context, accountID string, payload []byte, done func(ingest.Outcome))
}

// Handler serves POST /events/{accountID}.
type Handler struct {
	ingester Ingester
	secret   []byte
}

// NewHandler creates an event handler verifying HS256 tokens with secret.
func NewHandler(ingester Ingester, secret string) *Handler {
	return &Handler{ingester: ingester, secret: []byte(secret)}
}

// ServeEvent handles one pushed event.
//
//   - 401 when the bearer token is missing or invalid
//   - 403 when the token subject is not the path account
//   - 400 when the payload does not parse as an event
//   - 202 otherwise; ingestion continues after the response
func (h *Handler) ServeEvent(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	subject, err := h.authenticate(r)
	if err != nil {
		slog.Warn("rejecting unauthenticated event", "account", accountID, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if subject != accountID {
		slog.Warn("token subject does not match account", "account", accountID, "subject", subject)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		slog.Error("failed to read event body", "account", accountID, "error", err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if _, err := event.Parse(body); err != nil {
		slog.Info("rejecting malformed event", "account", accountID, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Respond before ingesting; the sender does not wait on decryption.
	w.WriteHeader(http.StatusAccepted)

	h.ingester.ProcessAsync(context.Background(), accountID, body, func(out ingest.Outcome) {
		if !out.Succeeded() {
			slog.Error("pushed event failed", "account", accountID, "error", out.Err)
		}
	})
}

func (h *Handler) authenticate(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", errors.New("missing bearer token")
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IssueToken signs a token that authorises pushes for accountID.
func IssueToken(accountID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Routes mounts the handler on mux.
func Routes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("POST /events/{accountID}", handler.ServeEvent)
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	Routes(mux, handler)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
