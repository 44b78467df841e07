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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bcem/mailingest/internal/models"
)

// SessionClient talks to the local session service that owns the
// per-account key stores.
type SessionClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewSessionClient creates a session service client.
func NewSessionClient(httpClient *http.Client, baseURL string) *SessionClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SessionClient{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

type decryptRequest struct {
	AccountID   string `json:"accountId"`
	RecipientID string `json:"recipientId"`
	DeviceID    int32  `json:"deviceId"`
	MessageType int    `json:"messageType"`
	Content     string `json:"content"`
}

type decryptResponse struct {
	Plaintext string `json:"plaintext"`
}

// Decrypt implements Session.
func (c *SessionClient) Decrypt(ctx context.Context, ciphertext string, messageType models.MessageType, accountID, identity string, deviceID int32) (string, error) {
	payload, err := json.Marshal(decryptRequest{
		AccountID:   accountID,
		RecipientID: identity,
		DeviceID:    deviceID,
		MessageType: int(messageType),
		Content:     ciphertext,
	})
	if err != nil {
		return "", fmt.Errorf("marshal decrypt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decrypt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call session service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("session service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out decryptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode decrypt response: %w", err)
	}

	return out.Plaintext, nil
}
