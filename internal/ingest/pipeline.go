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

// Package ingest turns a new-email event into a stored Email. A run parses
// the event, checks for a prior ingestion, downloads and decrypts the body,
// sanitizes it, resolves attachments, links the thread, classifies labels,
// persists the result and records contacts. Every run ends in exactly one
// Outcome.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/mailingest/internal/attachment"
	"github.com/bcem/mailingest/internal/contact"
	"github.com/bcem/mailingest/internal/decrypt"
	"github.com/bcem/mailingest/internal/dedup"
	"github.com/bcem/mailingest/internal/event"
	"github.com/bcem/mailingest/internal/label"
	"github.com/bcem/mailingest/internal/metrics"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/remote"
	"github.com/bcem/mailingest/internal/sanitize"
	"github.com/bcem/mailingest/internal/store"
	"github.com/bcem/mailingest/internal/thread"
)

// DefaultPlaceholder replaces a body that could not be decrypted.
const DefaultPlaceholder = "Unable to decrypt message."

// ErrUnknownAccount is returned when the event targets an account the store
// does not know.
var ErrUnknownAccount = errors.New("unknown account")

// Status is the terminal state of a run.
type Status int

const (
	StatusSucceededWithEmail Status = iota
	StatusSucceededNoEntity
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceededWithEmail:
		return "succeeded_with_email"
	case StatusSucceededNoEntity:
		return "succeeded_no_entity"
	default:
		return "failed"
	}
}

// Outcome is reported once per run.
type Outcome struct {
	Status Status
	Email  *models.Email
	Err    error
}

// Succeeded reports whether the event needs no retry.
func (o Outcome) Succeeded() bool { return o.Status != StatusFailed }

// Fetcher downloads message bodies.
type Fetcher interface {
	GetBody(ctx context.Context, key int64, token string) (remote.BodyResult, error)
}

// BodyCache stores cleaned bodies and answers whether one exists.
type BodyCache interface {
	Exists(accountID string, key int64) (bool, error)
	Save(accountID string, key int64, body string, headers *string) error
	Remove(accountID string, key int64) error
}

// Claimer is an optional cross-process in-flight claim.
type Claimer interface {
	Claim(ctx context.Context, accountID string, key int64) bool
	Release(ctx context.Context, accountID string, key int64)
}

// Notifier is told about every newly stored email.
type Notifier interface {
	PublishIngested(ctx context.Context, email *models.Email) error
}

// Config holds pipeline policy. Zero values select the defaults.
type Config struct {
	SpamThreshold    int
	ExternalIdentity string
	Placeholder      string
	DefaultDomain    string
}

// Deps are the collaborators of a pipeline. Claims and Notifier may be nil.
type Deps struct {
	Store    store.Store
	Fetcher  Fetcher
	Cache    BodyCache
	Session  decrypt.Session
	Claims   Claimer
	Notifier Notifier
}

// Pipeline ingests new-email events. It is safe for concurrent use.
type Pipeline struct {
	store    store.Store
	fetcher  Fetcher
	cache    BodyCache
	claims   Claimer
	notifier Notifier

	placeholder string
	parser      *contact.Parser
	router      *decrypt.Router
	sanitizer   *sanitize.Sanitizer
	resolver    *attachment.Resolver
	linker      *thread.Linker
	classifier  *label.Classifier
	guard       *dedup.Guard
	contacts    *contact.Updater
}

// New wires a pipeline from its collaborators.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}

	parser := contact.NewParser(cfg.DefaultDomain)
	router := decrypt.NewRouter(deps.Session, cfg.ExternalIdentity)

	return &Pipeline{
		store:       deps.Store,
		fetcher:     deps.Fetcher,
		cache:       deps.Cache,
		claims:      deps.Claims,
		notifier:    deps.Notifier,
		placeholder: cfg.Placeholder,
		parser:      parser,
		router:      router,
		sanitizer:   sanitize.New(),
		resolver:    attachment.NewResolver(router),
		linker:      thread.NewLinker(deps.Store),
		classifier:  label.NewClassifier(deps.Store, parser, label.Policy{SpamThreshold: cfg.SpamThreshold}),
		guard:       dedup.NewGuard(deps.Cache, deps.Store, parser),
		contacts:    contact.NewUpdater(deps.Store, parser),
	}
}

// Process parses a raw event payload and ingests it for the account.
func (p *Pipeline) Process(ctx context.Context, accountID string, payload []byte) Outcome {
	log := slog.With("trace_id", uuid.NewString(), "account", accountID)

	ev, err := event.Parse(payload)
	if err != nil {
		log.Warn("rejecting malformed event", "error", err)
		return p.finish(log, Outcome{Status: StatusFailed, Err: err})
	}
	return p.run(ctx, log, accountID, ev)
}

// ProcessEvent ingests an already parsed event.
func (p *Pipeline) ProcessEvent(ctx context.Context, accountID string, ev *event.Event) Outcome {
	log := slog.With("trace_id", uuid.NewString(), "account", accountID)
	return p.run(ctx, log, accountID, ev)
}

// ProcessAsync runs Process on its own goroutine and hands the outcome to
// done, which may be nil.
func (p *Pipeline) ProcessAsync(ctx context.Context, accountID string, payload []byte, done func(Outcome)) {
	go func() {
		out := p.Process(ctx, accountID, payload)
		if done != nil {
			done(out)
		}
	}()
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, accountID string, ev *event.Event) Outcome {
	log = log.With("metadata_key", ev.MetadataKey)
	key := ev.MetadataKey

	account, err := p.account(ctx, accountID)
	if err != nil {
		log.Error("account lookup failed", "error", err)
		return p.finish(log, Outcome{Status: StatusFailed, Err: err})
	}

	if p.claims != nil {
		if !p.claims.Claim(ctx, account.ID, key) {
			log.Info("event already in flight elsewhere")
			metrics.RecordDuplicate("claim")
			return p.finish(log, Outcome{Status: StatusSucceededNoEntity})
		}
	}

	out := p.ingest(ctx, log, account, ev)
	if out.Status == StatusFailed && p.claims != nil {
		p.claims.Release(context.WithoutCancel(ctx), account.ID, key)
	}
	return p.finish(log, out)
}

func (p *Pipeline) ingest(ctx context.Context, log *slog.Logger, account *models.Account, ev *event.Event) Outcome {
	key := ev.MetadataKey

	if out, done := p.checkExisting(ctx, log, account, key, "pre_fetch"); done {
		return out
	}

	start := time.Now()
	fetched, err := p.fetcher.GetBody(ctx, key, account.JWT)
	switch {
	case err != nil:
		metrics.RecordFetch("error", time.Since(start))
		log.Error("body fetch failed", "error", err)
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("fetch body: %w", err)}
	case fetched.Missing:
		metrics.RecordFetch("missing", time.Since(start))
	default:
		metrics.RecordFetch("ok", time.Since(start))
	}

	// Past the fetch the run always reaches a terminal state.
	ctx = context.WithoutCancel(ctx)

	account, err = p.account(ctx, account.ID)
	if err != nil {
		log.Error("account reload failed", "error", err)
		return Outcome{Status: StatusFailed, Err: err}
	}
	if out, done := p.checkExisting(ctx, log, account, key, "post_fetch"); done {
		return out
	}

	email, cleaned, headers := p.build(ctx, account, ev, fetched)

	if !fetched.Missing {
		if err := p.cache.Save(account.ID, key, cleaned, headers); err != nil {
			log.Error("body save failed", "error", err)
			return Outcome{Status: StatusFailed, Err: fmt.Errorf("save body: %w", err)}
		}
	}

	inserted, err := p.store.StoreEmail(ctx, email)
	if err != nil {
		log.Error("email store failed", "error", err)
		if !fetched.Missing {
			p.discardBody(ctx, log, account.ID, key)
		}
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("store email: %w", err)}
	}
	if !inserted {
		log.Info("store rejected email as duplicate")
		metrics.RecordDuplicate("store")
		return Outcome{Status: StatusSucceededNoEntity}
	}

	for i := range email.Files {
		f := &email.Files[i]
		if ok, err := p.store.StoreFile(ctx, account.ID, f); err != nil {
			metrics.RecordAttachmentFailure()
			log.Warn("attachment store failed", "token", f.Token, "error", err)
		} else if !ok {
			log.Debug("attachment already stored", "token", f.Token)
		}
	}

	if err := p.contacts.Update(ctx, ev, email, account); err != nil {
		log.Warn("contact update incomplete", "error", err)
	}

	if p.notifier != nil {
		if err := p.notifier.PublishIngested(ctx, email); err != nil {
			log.Warn("ingested notification failed", "error", err)
		}
	}

	log.Info("email ingested",
		"thread_id", email.ThreadID,
		"delivery", email.Delivery.String(),
		"files", len(email.Files),
		"labels", len(email.Labels),
	)
	return Outcome{Status: StatusSucceededWithEmail, Email: email}
}

// build assembles the email from the event and the fetched body. It returns
// the email, the cleaned body and the decrypted headers.
func (p *Pipeline) build(ctx context.Context, account *models.Account, ev *event.Event, fetched remote.BodyResult) (*models.Email, string, *string) {
	route := decrypt.Route{
		MessageType:    ev.MessageType,
		AccountID:      account.ID,
		RecipientID:    ev.RecipientID,
		SenderDeviceID: ev.SenderDeviceID,
		External:       ev.External,
	}

	var (
		content string
		headers *string
	)
	if !fetched.Missing {
		ciphertext := fetched.Body.Body
		if plain := p.router.Decrypt(ctx, decrypt.UnitBody, &ciphertext, route); plain != nil {
			content = *plain
		} else {
			content = p.placeholder
		}
		headers = p.router.Decrypt(ctx, decrypt.UnitHeaders, fetched.Body.Headers, route)
	}

	preview, cleaned := "", ""
	if content != "" {
		preview, cleaned = p.sanitizer.Sanitize(content)
	}

	email := &models.Email{
		AccountID:   account.ID,
		Key:         ev.MetadataKey,
		MessageID:   ev.MessageID,
		ThreadID:    p.linker.Resolve(ctx, ev, account),
		Subject:     ev.Subject,
		Date:        ev.Date,
		Boundary:    ev.Boundary,
		ReplyTo:     ev.ReplyTo,
		Unread:      true,
		Secure:      ev.Secure(),
		Delivery:    models.DeliveryNone,
		Preview:     preview,
		FromAddress: p.parser.Parse(ev.From).String(),
	}
	email.BuildCompoundKey()

	if fetched.Missing {
		email.Delivery = models.DeliveryUnsent
		unsent := ev.Date
		email.UnsentDate = &unsent
	}

	p.classifier.Classify(ctx, email, ev, account)

	files, _ := p.resolver.Resolve(ctx, ev, route, email, cleaned)
	email.Files = files

	return email, cleaned, headers
}

// checkExisting runs the guard. done is true when the run must stop here.
func (p *Pipeline) checkExisting(ctx context.Context, log *slog.Logger, account *models.Account, key int64, stage string) (Outcome, bool) {
	res, err := p.guard.Check(ctx, account, key)
	if err != nil {
		log.Error("existence check failed", "stage", stage, "error", err)
		return Outcome{Status: StatusFailed, Err: err}, true
	}

	switch res.Verdict {
	case dedup.VerdictExisting:
		log.Info("email already ingested", "stage", stage)
		metrics.RecordDuplicate(stage)
		return Outcome{Status: StatusSucceededWithEmail, Email: res.Email}, true
	case dedup.VerdictIgnored:
		log.Info("ignoring duplicate event", "stage", stage)
		metrics.RecordDuplicate(stage)
		return Outcome{Status: StatusSucceededNoEntity}, true
	default:
		return Outcome{}, false
	}
}

// discardBody removes a body saved for a failed store, but only once the
// store confirms no row exists. A concurrent run may have committed the
// email under the same key, and its row points at this body.
func (p *Pipeline) discardBody(ctx context.Context, log *slog.Logger, accountID string, key int64) {
	existing, err := p.store.GetEmailByKey(ctx, accountID, key)
	if err != nil {
		log.Warn("keeping body, existence unknown after store failure", "error", err)
		return
	}
	if existing != nil {
		log.Info("keeping body, email stored by another run")
		return
	}
	if err := p.cache.Remove(accountID, key); err != nil {
		log.Warn("body cleanup failed", "error", err)
	}
}

func (p *Pipeline) account(ctx context.Context, id string) (*models.Account, error) {
	a, err := p.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return a, nil
}

func (p *Pipeline) finish(log *slog.Logger, out Outcome) Outcome {
	metrics.RecordOutcome(out.Status.String())
	log.Debug("ingestion finished", "status", out.Status.String())
	return out
}
