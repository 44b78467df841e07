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

// Package remote talks to the mail API: body downloads and the pending
// event queue of an account.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ErrUnexpectedResponse marks any reply that is neither a body nor "missing".
var ErrUnexpectedResponse = errors.New("unexpected mail API response")

// maxBodyBytes caps a single body download.
const maxBodyBytes = 32 << 20

// Body is a successful body download.
type Body struct {
	Body    string
	Headers *string
}

// BodyResult is either Missing (the sender unsent the message before it
// was fetched) or a downloaded Body.
type BodyResult struct {
	Missing bool
	Body    *Body
}

// Client is an HTTP client for the mail API. Every call is authorised with
// the account's bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
}

// NewClient creates a mail API client. httpClient supplies the transport
// and timeouts; the bearer token is layered on per call.
func NewClient(httpClient *http.Client, baseURL, apiVersion string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
	}
}

func (c *Client) authed(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiVersion != "" {
		req.Header.Set("API-Version", c.apiVersion)
	}
	return req, nil
}

// GetBody downloads the encrypted body of a message.
func (c *Client) GetBody(ctx context.Context, key int64, token string) (BodyResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/email/body/%d", key), nil)
	if err != nil {
		return BodyResult{}, err
	}

	resp, err := c.authed(ctx, token).Do(req)
	if err != nil {
		return BodyResult{}, fmt.Errorf("fetch body %d: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Info("message body missing (unsent by sender)", "metadata_key", key)
		return BodyResult{Missing: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return BodyResult{}, fmt.Errorf("%w: HTTP %d for body %d", ErrUnexpectedResponse, resp.StatusCode, key)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return BodyResult{}, fmt.Errorf("%w: decode body %d: %v", ErrUnexpectedResponse, key, err)
	}

	var out Body
	rawBody, ok := payload["body"]
	if !ok {
		return BodyResult{}, fmt.Errorf("%w: body %d has no body field", ErrUnexpectedResponse, key)
	}
	if err := json.Unmarshal(rawBody, &out.Body); err != nil {
		return BodyResult{}, fmt.Errorf("%w: body %d is not a string", ErrUnexpectedResponse, key)
	}

	if rawHeaders, ok := payload["headers"]; ok && string(rawHeaders) != "null" {
		var headers string
		if err := json.Unmarshal(rawHeaders, &headers); err == nil {
			out.Headers = &headers
		} else {
			slog.Warn("ignoring non-string headers", "metadata_key", key)
		}
	}

	return BodyResult{Body: &out}, nil
}

// PendingEvent is one entry of an account's server-side event queue.
// Params are kept raw; parsing happens per event so that one bad entry
// cannot take the rest of the batch down with it.
type PendingEvent struct {
	RowID  int64           `json:"rowid"`
	Cmd    int             `json:"cmd"`
	Params json.RawMessage `json:"-"`
}

// UnmarshalJSON accepts params either as an object or as a JSON-encoded
// string. Params are never validated here.
func (e *PendingEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		RowID  int64           `json:"rowid"`
		Cmd    int             `json:"cmd"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.RowID, e.Cmd = raw.RowID, raw.Cmd
	e.Params = nil

	params := raw.Params
	var encoded string
	if err := json.Unmarshal(params, &encoded); err == nil {
		params = json.RawMessage(encoded)
	}
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	e.Params = append(json.RawMessage(nil), params...)
	return nil
}

// PendingEvents lists the events queued for the account. Entries whose
// envelope cannot be read are logged and left out.
func (c *Client) PendingEvents(ctx context.Context, token string) ([]PendingEvent, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/event", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.authed(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d listing events", ErrUnexpectedResponse, resp.StatusCode)
	}

	var entries []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]PendingEvent, 0, len(entries))
	for i, entry := range entries {
		var ev PendingEvent
		if err := json.Unmarshal(entry, &ev); err != nil {
			slog.Warn("skipping unreadable pending event", "index", i, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// AckEvents removes processed events from the account's queue.
func (c *Client) AckEvents(ctx context.Context, token string, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]int64{"ids": rowIDs})
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/event/ack", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	resp, err := c.authed(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("ack events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: HTTP %d acknowledging events", ErrUnexpectedResponse, resp.StatusCode)
	}
	return nil
}
