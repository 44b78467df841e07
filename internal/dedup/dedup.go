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

// Package dedup keeps an event from being ingested twice. Filter is a Redis
// in-flight claim shared by every ingestion process; Guard is the
// authoritative check against the body cache and the store.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed worker can hold a claim.
	DefaultTTL = 5 * time.Minute

	keyPrefix = "ingest:claim:"
)

// Filter claims (account, metadata key) pairs while they are being ingested.
type Filter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewFilter creates a claim filter backed by Redis. A zero ttl selects DefaultTTL.
func NewFilter(rdb redis.Cmdable, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

func claimKey(accountID string, key int64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, accountID, key)
}

// Claim returns true if the caller now owns the event. Redis failures fail
// open: the claim is only a hint and the store remains the authority.
func (f *Filter) Claim(ctx context.Context, accountID string, key int64) bool {
	set, err := f.rdb.SetNX(ctx, claimKey(accountID, key), 1, f.ttl).Result()
	if err != nil {
		slog.Warn("claim SETNX failed, proceeding unclaimed",
			"account", accountID,
			"metadata_key", key,
			"error", err,
		)
		return true
	}
	return set
}

// Release drops a claim so a later retry of the event is not suppressed.
func (f *Filter) Release(ctx context.Context, accountID string, key int64) {
	if err := f.rdb.Del(ctx, claimKey(accountID, key)).Err(); err != nil {
		slog.Warn("claim release failed",
			"account", accountID,
			"metadata_key", key,
			"error", err,
		)
	}
}
