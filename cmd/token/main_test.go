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


package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func noConfig() (string, error) { return "", errors.New("no config") }

func TestRun_IssuesVerifiableToken(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		config func() (string, error)
		key    string
	}{
		{
			name:   "secret flag",
			args:   []string{"--account", "acct-b", "--secret", "flag-key", "--ttl", "1h"},
			config: noConfig,
			key:    "flag-key",
		},
		{
			name:   "secret from config",
			args:   []string{"--account", "acct-b", "--ttl", "1h"},
			config: func() (string, error) { return "cfg-key", nil },
			key:    "cfg-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(tt.args, &out, tt.config); err != nil {
				t.Fatalf("run: %v", err)
			}

			var claims jwt.RegisteredClaims
			_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims,
				func(*jwt.Token) (any, error) { return []byte(tt.key), nil },
				jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				t.Fatalf("parse token: %v", err)
			}
			if claims.Subject != "acct-b" {
				t.Errorf("subject = %q, want acct-b", claims.Subject)
			}
			if left := time.Until(claims.ExpiresAt.Time); left <= 0 || left > time.Hour {
				t.Errorf("expires in %s, want within 1h", left)
			}
		})
	}
}

func TestRun_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing account", []string{"--secret", "k"}},
		{"non-positive ttl", []string{"--account", "a", "--secret", "k", "--ttl", "0s"}},
		{"no secret anywhere", []string{"--account", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(tt.args, &out, noConfig); err == nil {
				t.Errorf("run(%v) succeeded, want error", tt.args)
			}
			if out.Len() != 0 {
				t.Errorf("output = %q, want none", out.String())
			}
		})
	}
}
