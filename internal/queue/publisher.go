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

// Package queue moves events through Redis lists: raw new-email events in,
// ingested-email notifications out.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailingest/internal/models"
)

// Publisher pushes ingested-email notifications for UI refresh consumers.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
}

// NewPublisher creates a publisher targeting the given list.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Notification announces a newly stored email.
type Notification struct {
	ID          string    `json:"id"`
	Account     string    `json:"account"`
	MetadataKey int64     `json:"metadataKey"`
	ThreadID    string    `json:"threadId"`
	Labels      []int     `json:"labels"`
	Unread      bool      `json:"unread"`
	IngestedAt  time.Time `json:"ingestedAt"`
}

func newNotification(e *models.Email, now time.Time) Notification {
	labels := make([]int, 0, len(e.Labels))
	for _, l := range e.Labels {
		labels = append(labels, l.ID)
	}
	return Notification{
		ID:          uuid.New().String(),
		Account:     e.AccountID,
		MetadataKey: e.Key,
		ThreadID:    e.ThreadID,
		Labels:      labels,
		Unread:      e.Unread,
		IngestedAt:  now.UTC(),
	}
}

// PublishIngested LPUSHes a notification for the email.
func (p *Publisher) PublishIngested(ctx context.Context, e *models.Email) error {
	n := newNotification(e, time.Now())

	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published ingested notification",
		"notification_id", n.ID,
		"account", n.Account,
		"metadata_key", n.MetadataKey,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
