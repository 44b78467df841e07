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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/ingest"
)

const (
	// DefaultWorkers is the consumer pool size when none is configured.
	DefaultWorkers = 4

	// DefaultMaxAttempts bounds how often a failing event is re-queued.
	DefaultMaxAttempts = 3

	popTimeout = 5 * time.Second
)

// Processor ingests one raw event payload.
type Processor interface {
	Process(ctx context.Context, accountID string, payload []byte) ingest.Outcome
}

// Envelope is the list entry format for raw events.
type Envelope struct {
	Account  string          `json:"account"`
	Event    json.RawMessage `json:"event"`
	Attempts int             `json:"attempts,omitempty"`
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	QueueName   string
	Workers     int
	MaxAttempts int
}

// Consumer pops raw events off a Redis list and feeds them to the pipeline.
type Consumer struct {
	rdb       redis.Cmdable
	processor Processor
	cfg       ConsumerConfig
}

// NewConsumer creates a consumer. Zero config values select the defaults.
func NewConsumer(rdb redis.Cmdable, processor Processor, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Consumer{rdb: rdb, processor: processor, cfg: cfg}
}

// Enqueue pushes a raw event for the account onto the list.
func (c *Consumer) Enqueue(ctx context.Context, env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.rdb.LPush(ctx, c.cfg.QueueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("event consumer started",
		"queue", c.cfg.QueueName,
		"workers", c.cfg.Workers,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			c.work(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("event consumer stopped", "queue", c.cfg.QueueName)
	return err
}

func (c *Consumer) work(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.rdb.BRPop(ctx, popTimeout, c.cfg.QueueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("BRPOP failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// res is [queue, value].
		if retry := c.handle(ctx, res[1]); retry != nil {
			if err := c.Enqueue(context.WithoutCancel(ctx), *retry); err != nil {
				slog.Error("re-queue failed", "account", retry.Account, "error", err)
			}
		}
	}
}

// handle processes one list entry and returns the envelope to re-queue, if any.
func (c *Consumer) handle(ctx context.Context, raw string) *Envelope {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Account == "" || len(env.Event) == 0 {
		slog.Warn("dropping malformed queue entry", "error", err)
		return nil
	}

	out := c.processor.Process(ctx, env.Account, env.Event)
	if out.Succeeded() {
		return nil
	}

	var perr *event.ParseError
	if errors.As(out.Err, &perr) || errors.Is(out.Err, ingest.ErrUnknownAccount) {
		slog.Warn("dropping unprocessable event", "account", env.Account, "error", out.Err)
		return nil
	}

	env.Attempts++
	if env.Attempts >= c.cfg.MaxAttempts {
		slog.Error("giving up on event",
			"account", env.Account,
			"attempts", env.Attempts,
			"error", out.Err,
		)
		return nil
	}
	return &env
}
