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


// Webhook Token Command
//
// Mints a bearer token that authorises event pushes for one account on the
// webhook. The signing secret comes from --secret or, when that is empty,
// from webhook.jwt_secret in the service configuration.
//
// Usage:
//
//	go run ./cmd/token/ --account <id> [--ttl 720h] [--secret s]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(os.Args[1:], os.Stdout, loadSecret); err != nil {
		slog.Error("token not issued", "error", err)
		os.Exit(1)
	}
}

// loadSecret reads the webhook secret from the service configuration.
func loadSecret() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load configuration: %w", err)
	}
	return cfg.JWTSecret, nil
}

func run(args []string, out io.Writer, secretFromConfig func() (string, error)) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	account := fs.String("account", "", "Account id the token authorises (required)")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime")
	secret := fs.String("secret", "", "HS256 signing secret; defaults to webhook.jwt_secret from the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *account == "" {
		return errors.New("--account is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", *ttl)
	}

	key := *secret
	if key == "" {
		var err error
		if key, err = secretFromConfig(); err != nil {
			return err
		}
	}
	if key == "" {
		return errors.New("no signing secret: set --secret or webhook.jwt_secret")
	}

	tok, err := webhook.IssueToken(*account, key, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}
