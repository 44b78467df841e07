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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AccountConfig seeds a mailbox owner at startup.
type AccountConfig struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	JWT      string `yaml:"jwt"`
	DeviceID int32  `yaml:"device_id"`

	// Labels are custom labels created for the account at startup.
	Labels []LabelConfig `yaml:"labels"`
}

// LabelConfig names a custom label.
type LabelConfig struct {
	Text  string `yaml:"text"`
	Color string `yaml:"color"`
}

// PipelineConfig holds ingestion policy.
type PipelineConfig struct {
	SpamThreshold    int
	ExternalIdentity string
	Placeholder      string
	DefaultDomain    string
}

// Config holds all configuration for the ingestion service.
type Config struct {
	Accounts []AccountConfig

	// Storage
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	BodyCacheDir   string

	// Redis
	RedisURL      string
	EventsQueue   string
	IngestedQueue string
	ClaimTTL      time.Duration

	// Mail API and session service
	APIBaseURL  string
	APIVersion  string
	SessionsURL string

	// Webhook
	WebhookPort int
	JWTSecret   string

	Pipeline PipelineConfig

	ConsumerWorkers int
	PollInterval    time.Duration

	// Server (health check and metrics)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events   string `yaml:"events"`
			Ingested string `yaml:"ingested"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Version string `yaml:"version"`
	} `yaml:"api"`
	Sessions struct {
		URL string `yaml:"url"`
	} `yaml:"sessions"`
	BodyCache struct {
		Dir string `yaml:"dir"`
	} `yaml:"body_cache"`
	Webhook struct {
		Port      int    `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"webhook"`
	Pipeline struct {
		SpamThreshold            int    `yaml:"spam_threshold"`
		ExternalIdentity         string `yaml:"external_identity"`
		UndecryptablePlaceholder string `yaml:"undecryptable_placeholder"`
		DefaultDomain            string `yaml:"default_domain"`
	} `yaml:"pipeline"`
	Consumer struct {
		Workers int `yaml:"workers"`
	} `yaml:"consumer"`
	Poller struct {
		Interval string `yaml:"interval"`
	} `yaml:"poller"`
	ClaimTTL string `yaml:"claim_ttl"`
}

// Load reads configuration from the file named by CONFIG_PATH.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	pollInterval, err := durationOr(raw.Poller.Interval, envOrDefaultDuration("POLL_INTERVAL", 30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("poller.interval: %w", err)
	}
	claimTTL, err := durationOr(raw.ClaimTTL, envOrDefaultDuration("CLAIM_TTL", 5*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("claim_ttl: %w", err)
	}

	cfg := &Config{
		DatabaseDriver: firstNonEmpty(raw.Database.Driver, envOrDefault("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		BodyCacheDir:   firstNonEmpty(raw.BodyCache.Dir, envOrDefault("BODY_CACHE_DIR", "/var/lib/mailingest/bodies")),
		RedisURL:       firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:    firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "events")),
		IngestedQueue:  firstNonEmpty(raw.Redis.Queues.Ingested, envOrDefault("INGESTED_QUEUE", "ingested")),
		ClaimTTL:       claimTTL,
		APIBaseURL:     firstNonEmpty(raw.API.BaseURL, os.Getenv("API_BASE_URL")),
		APIVersion:     firstNonEmpty(raw.API.Version, envOrDefault("API_VERSION", "1")),
		SessionsURL:    firstNonEmpty(raw.Sessions.URL, os.Getenv("SESSIONS_URL")),
		WebhookPort:    intOr(raw.Webhook.Port, envOrDefaultInt("WEBHOOK_PORT", 8081)),
		JWTSecret:      firstNonEmpty(raw.Webhook.JWTSecret, os.Getenv("WEBHOOK_JWT_SECRET")),
		Pipeline: PipelineConfig{
			SpamThreshold:    intOr(raw.Pipeline.SpamThreshold, 2),
			ExternalIdentity: firstNonEmpty(raw.Pipeline.ExternalIdentity, "bob"),
			Placeholder:      firstNonEmpty(raw.Pipeline.UndecryptablePlaceholder, "Unable to decrypt message."),
			DefaultDomain:    firstNonEmpty(raw.Pipeline.DefaultDomain, envOrDefault("DEFAULT_DOMAIN", "")),
		},
		ConsumerWorkers: intOr(raw.Consumer.Workers, envOrDefaultInt("CONSUMER_WORKERS", 4)),
		PollInterval:    pollInterval,
		Port:            envOrDefaultInt("PORT", 8080),
	}

	for _, a := range raw.Accounts {
		// Skip accounts left blank in the YAML
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Email) == "" {
			continue
		}
		labels := a.Labels[:0:0]
		for _, l := range a.Labels {
			if strings.TrimSpace(l.Text) != "" {
				labels = append(labels, l)
			}
		}
		a.Labels = labels
		cfg.Accounts = append(cfg.Accounts, a)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.SessionsURL == "" {
		return fmt.Errorf("sessions.url is required")
	}
	return nil
}

func durationOr(s string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func intOr(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
