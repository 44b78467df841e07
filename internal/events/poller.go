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

// Package events polls each account's server-side event queue and feeds
// new-email events into the ingestion pipeline.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/remote"
)

// CmdNewEmail is the server command for a newly delivered email.
const CmdNewEmail = 101

// DefaultInterval is used when no poll interval is configured.
const DefaultInterval = 30 * time.Second

// Source lists and acknowledges an account's queued events.
type Source interface {
	PendingEvents(ctx context.Context, token string) ([]remote.PendingEvent, error)
	AckEvents(ctx context.Context, token string, rowIDs []int64) error
}

// Accounts enumerates the mailboxes to poll.
type Accounts interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Processor ingests one parsed event.
type Processor interface {
	ProcessEvent(ctx context.Context, accountID string, ev *event.Event) ingest.Outcome
}

// Options tune the poller.
type Options struct {
	Interval time.Duration
	// AckOther acknowledges commands the poller does not handle instead
	// of leaving them for another consumer.
	AckOther bool
}

// Poller periodically drains new-email events for every account.
type Poller struct {
	source    Source
	accounts  Accounts
	processor Processor
	opts      Options
}

// NewPoller creates a poller.
func NewPoller(source Source, accounts Accounts, processor Processor, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Poller{source: source, accounts: accounts, processor: processor, opts: opts}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("event poller starting", "interval", p.opts.Interval)

	p.PollAll(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("event poller stopping")
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll polls every known account once.
func (p *Poller) PollAll(ctx context.Context) {
	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		slog.Error("failed to list accounts", "error", err)
		return
	}
	for _, a := range accounts {
		if ctx.Err() != nil {
			return
		}
		if a.JWT == "" {
			slog.Debug("skipping account without token", "account", a.ID)
			continue
		}
		if _, err := p.Poll(ctx, a); err != nil {
			slog.Error("poll failed", "account", a.ID, "error", err)
		}
	}
}

// Poll drains one account's queue and returns the number of events
// acknowledged.
func (p *Poller) Poll(ctx context.Context, account models.Account) (int, error) {
	pending, err := p.source.PendingEvents(ctx, account.JWT)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.Debug("pending events", "account", account.ID, "count", len(pending))

	var ack []int64
	for _, pe := range pending {
		if pe.Cmd != CmdNewEmail {
			if p.opts.AckOther {
				ack = append(ack, pe.RowID)
			}
			continue
		}
		if p.handle(ctx, account.ID, pe) {
			ack = append(ack, pe.RowID)
		}
	}

	if len(ack) == 0 {
		return 0, nil
	}
	if err := p.source.AckEvents(context.WithoutCancel(ctx), account.JWT, ack); err != nil {
		return 0, err
	}
	return len(ack), nil
}

// handle reports whether the event is finished with and may be acknowledged.
func (p *Poller) handle(ctx context.Context, accountID string, pe remote.PendingEvent) bool {
	ev, err := event.Parse(pe.Params)
	if err != nil {
		var parseErr *event.ParseError
		if errors.As(err, &parseErr) {
			// A malformed event never parses on a later poll either.
			slog.Warn("dropping malformed pending event", "account", accountID, "rowid", pe.RowID, "error", err)
			return true
		}
		slog.Warn("pending event unreadable, leaving for next poll", "account", accountID, "rowid", pe.RowID, "error", err)
		return false
	}

	out := p.processor.ProcessEvent(ctx, accountID, ev)
	if out.Succeeded() {
		return true
	}
	if errors.Is(out.Err, ingest.ErrUnknownAccount) {
		return true
	}
	slog.Warn("pending event failed, leaving for next poll",
		"account", accountID,
		"rowid", pe.RowID,
		"error", out.Err,
	)
	return false
}
