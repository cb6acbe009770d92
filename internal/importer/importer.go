// Package importer orchestrates the end-to-end pipeline: list unread mail,
// fetch, route to an account, extract a candidate, flag it, and persist it
// with aggregates recomputed. One message failing never aborts a run; it is
// recorded as a skip and the run moves on.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/inboxledger/inboxledger/internal/archive"
	"github.com/inboxledger/inboxledger/internal/domain"
	"github.com/inboxledger/inboxledger/internal/extract"
	"github.com/inboxledger/inboxledger/internal/flags"
	"github.com/inboxledger/inboxledger/internal/ledger"
	"github.com/inboxledger/inboxledger/internal/logger"
	"github.com/inboxledger/inboxledger/internal/mailbox"
	"github.com/inboxledger/inboxledger/internal/match"
	"github.com/inboxledger/inboxledger/internal/store"
	"github.com/inboxledger/inboxledger/internal/token"
)

// Options tunes one coordinator. Zero values select safe defaults.
type Options struct {
	// MaxMessages caps how many unread messages one run handles.
	MaxMessages int64

	// FetchConcurrency bounds parallel message fetches.
	FetchConcurrency int

	// Archiver, when set, receives the raw body of every fetched message.
	Archiver archive.Archiver
}

// Coordinator drives sync runs. Extraction and persistence are strictly
// sequential per user; only the fetch phase fans out.
type Coordinator struct {
	store     store.Store
	tokens    *token.Manager
	mailbox   mailbox.Client
	extractor *extract.Extractor
	engine    *flags.Engine
	recalc    *ledger.Recalculator
	archiver  archive.Archiver

	maxMessages int64
	concurrency int
	now         func() time.Time
}

func New(s store.Store, tm *token.Manager, mb mailbox.Client, ex *extract.Extractor, opts Options) *Coordinator {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 25
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 1
	}
	return &Coordinator{
		store:       s,
		tokens:      tm,
		mailbox:     mb,
		extractor:   ex,
		engine:      flags.New(),
		recalc:      ledger.NewRecalculator(s),
		archiver:    opts.Archiver,
		maxMessages: opts.MaxMessages,
		concurrency: opts.FetchConcurrency,
		now:         time.Now,
	}
}

// RunAll syncs every user with stored credentials. Users run concurrently
// and independently; one user's failure is reported in that user's run
// record, never propagated to the others.
//
// This is the direct entry point for single-process callers. The worker
// binary discovers users the same way (store.UserIDs) but enqueues one job
// per user instead, so each sync gets queue-level retries and a job record.
func (c *Coordinator) RunAll(ctx context.Context) ([]*domain.SyncRun, error) {
	log := logger.FromContext(ctx)

	userIDs, err := c.store.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: list users: %w", err)
	}
	if len(userIDs) == 0 {
		log.Debug().Msg("no users with stored credentials, nothing to sync")
		return nil, nil
	}

	runs := make([]*domain.SyncRun, len(userIDs))
	var wg sync.WaitGroup
	for i, userID := range userIDs {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			run, err := c.SyncUser(ctx, userID, "")
			if err != nil {
				log.Error().Err(err).Str("user_id", userID).Msg("user sync failed")
			}
			runs[i] = run
		}(i, userID)
	}
	wg.Wait()

	out := runs[:0]
	for _, run := range runs {
		if run != nil {
			out = append(out, run)
		}
	}
	return out, nil
}

// SyncUser performs one full sync for one user and persists its run record.
// runID is optional; the worker passes the id it already announced.
// The returned run is always non-nil when a record was started, even when
// err is set.
func (c *Coordinator) SyncUser(ctx context.Context, userID, runID string) (*domain.SyncRun, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	log := logger.FromContext(ctx).With().
		Str("user_id", userID).
		Str("run_id", runID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	run := &domain.SyncRun{
		ID:        runID,
		Status:    domain.RunRunning,
		StartedAt: c.now().UTC(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("importer: start run: %w", err)
	}

	err := c.sync(ctx, userID, run)
	run.FinishedAt = c.now().UTC()
	switch {
	case err == nil:
		run.Status = domain.RunCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = domain.RunInterrupted
		run.Error = err.Error()
	default:
		run.Status = domain.RunFailed
		run.Error = err.Error()
	}

	// Persist the final record even when the run context is gone.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if saveErr := c.store.SaveRun(saveCtx, run); saveErr != nil {
		log.Error().Err(saveErr).Msg("failed to persist run record")
	}

	log.Info().
		Str("status", string(run.Status)).
		Int("imported", run.Imported).
		Int("skipped", run.Skipped).
		Int("remaining", run.Remaining).
		Msg("sync run finished")
	return run, err
}

// sync is the body of one run. It mutates run in place so the caller can
// finalize and persist it regardless of outcome.
func (c *Coordinator) sync(ctx context.Context, userID string, run *domain.SyncRun) error {
	log := logger.FromContext(ctx)

	accessToken, err := c.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("importer: access token: %w", err)
	}

	ids, err := c.mailbox.ListUnread(ctx, accessToken, "", c.maxMessages)
	if err != nil {
		return fmt.Errorf("importer: list unread: %w", err)
	}
	if len(ids) == 0 {
		log.Debug().Msg("no unread messages")
		return nil
	}
	log.Info().Int("messages", len(ids)).Msg("processing unread messages")

	accounts, err := c.store.ListAccounts(ctx, userID)
	if err != nil {
		return fmt.Errorf("importer: list accounts: %w", err)
	}
	rules, err := c.store.ListCategoryRules(ctx, userID)
	if err != nil {
		return fmt.Errorf("importer: list category rules: %w", err)
	}

	emails, fetchErrs := c.fetchAll(ctx, accessToken, ids)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			run.Remaining = len(ids) - len(run.Processed)
			return err
		}

		if fetchErrs[i] != nil {
			c.recordSkip(ctx, run, userID, id, domain.SkipFetchError, fetchErrs[i])
			continue
		}

		if err := c.processEmail(ctx, userID, accessToken, emails[i], accounts, rules); err != nil {
			c.recordSkip(ctx, run, userID, id, domain.SkipReasonFor(err), err)
			continue
		}

		run.Imported++
		run.Processed = append(run.Processed, id)
	}
	return nil
}

// fetchAll retrieves message bodies with bounded parallelism, preserving the
// listing order. A failed fetch occupies its slot in errs instead of failing
// the group.
func (c *Coordinator) fetchAll(ctx context.Context, accessToken string, ids []string) ([]*domain.Email, []error) {
	emails := make([]*domain.Email, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			email, err := c.mailbox.FetchMessage(gctx, accessToken, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			emails[i] = email
			return nil
		})
	}
	_ = g.Wait()
	return emails, errs
}

// processEmail runs one message through match, extract, flag, and persist.
// Any returned error is a per-message skip, classified by SkipReasonFor.
func (c *Coordinator) processEmail(ctx context.Context, userID, accessToken string, email *domain.Email, accounts []domain.Account, rules []domain.CategoryRule) error {
	log := logger.FromContext(ctx).With().Str("message_id", email.ID).Logger()

	if c.archiver != nil {
		// Best effort; a dead bucket must not block imports.
		if uri, err := c.archiver.Save(ctx, userID, email.ID, []byte(email.RawBody)); err != nil {
			log.Warn().Err(err).Msg("failed to archive raw message")
		} else {
			log.Debug().Str("uri", uri).Msg("archived raw message")
		}
	}

	account, err := match.Match(accounts, email.From)
	if err != nil {
		return err
	}

	candidate, err := c.extractor.Parse(ctx, email)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	categoryID := matchCategory(rules, candidate.Payee)
	tx := &domain.Transaction{
		ID:              uuid.New().String(),
		Date:            candidate.Date,
		Payee:           candidate.Payee,
		Amount:          candidate.Amount,
		CategoryID:      categoryID,
		AccountID:       account.ID,
		Status:          domain.StatusUncleared,
		OriginalEmailID: email.ID,
		Notes:           candidate.Notes,
		Flags:           c.engine.Evaluate(email, candidate, categoryID, now),
		CreatedAt:       now,
	}

	if err := c.recalc.Create(ctx, userID, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			// Already imported earlier; still clear the unread label.
			c.markRead(ctx, accessToken, email.ID)
		}
		return err
	}

	c.markRead(ctx, accessToken, email.ID)
	log.Info().
		Str("transaction_id", tx.ID).
		Str("account_id", account.ID).
		Float64("amount", tx.Amount).
		Int("flags", len(tx.Flags)).
		Msg("imported transaction")
	return nil
}

func (c *Coordinator) markRead(ctx context.Context, accessToken, messageID string) {
	if err := c.mailbox.MarkRead(ctx, accessToken, messageID); err != nil {
		// The dedup key makes reprocessing this message a no-op.
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("message_id", messageID).
			Msg("failed to mark message read")
	}
}

func (c *Coordinator) recordSkip(ctx context.Context, run *domain.SyncRun, userID, messageID string, reason domain.SkipReason, err error) {
	logSkip(logger.FromContext(ctx), messageID, reason, err)
	run.Skipped++
	run.Processed = append(run.Processed, messageID)
	run.Skips = append(run.Skips, domain.Skip{
		UserID:    userID,
		MessageID: messageID,
		Reason:    reason,
		Detail:    err.Error(),
	})
}

func logSkip(log zerolog.Logger, messageID string, reason domain.SkipReason, err error) {
	log.Warn().
		Str("message_id", messageID).
		Str("reason", string(reason)).
		Err(err).
		Msg("skipped message")
}

// matchCategory returns the category of the first rule whose keyword appears
// in the payee, case-insensitive. Rules are ordered; the first hit wins.
func matchCategory(rules []domain.CategoryRule, payee string) string {
	p := strings.ToLower(payee)
	for _, r := range rules {
		if r.Keyword == "" {
			continue
		}
		if strings.Contains(p, strings.ToLower(r.Keyword)) {
			return r.CategoryID
		}
	}
	return ""
}
