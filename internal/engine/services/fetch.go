package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/sethvargo/go-retry"
)

// Sink receives fetched items after they are committed. An item is handed
// to the sink at most once; the store records it exactly once.
type Sink func(ctx context.Context, it models.FetchedItem) error

// errSink marks failures returned by the sink.
var errSink = errors.New("sink")

// fetchRun is the progress of one Fetch call.
type fetchRun struct {
	task    *models.Task
	account string
	limit   int
	sink    Sink

	offset  string
	emitted int
	done    bool
	// storeErr is set when a store write failed inside the connection.
	storeErr error
}

// Fetch reads the target's history, newest first, and records up to the
// task limit of items not fetched before. Progress is kept as a cursor per
// account and target, so a fetch that stops part way resumes where it
// left off and the same item is never recorded twice.
func (s *Services) Fetch(ctx context.Context, t *models.Task, sink Sink) (*Result, error) {
	if t.Target == "" {
		return s.finish(ctx, t, s.failed(models.CodeInvalid, common.ErrorValidation, "fetch needs a target"), nil)
	}
	limit := t.Payload.Limit
	if limit <= 0 {
		limit = s.cfg.FetchLimit
	}

	release, ok := s.inflight.claim(models.FetchScope(t.Target))
	if !ok {
		return s.finish(ctx, t, s.deferred(s.clock.Now().Add(s.cfg.BusyRetry), models.CodeTransient, common.ErrTransient, "target is being fetched"), nil)
	}
	defer release()

	sess, r, err := s.acquire(ctx, t, nil)
	if err != nil {
		return s.storeFailure(ctx, t, err)
	}
	if r != nil {
		return s.finish(ctx, t, r, nil)
	}

	run := &fetchRun{task: t, account: sess.Account.ID, limit: limit, sink: sink}
	// the cursor belongs to the account, so later runs stay on it
	t.AccountID = run.account

	c, err := s.store.Repos().Cursors(s.store.DB()).Get(ctx, run.account, t.Target)
	switch {
	case err == nil:
		run.offset = c.Token
	case !errors.Is(err, common.ErrorNotFound):
		sess.Release(ctx, auth.ProxyOutcome(nil))
		return s.storeFailure(ctx, t, err)
	}
	start := run.offset

	err = sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		return s.fetchPages(ctx, c, run)
	})
	var failure *Result
	if run.storeErr == nil && err != nil && !errors.Is(err, errSink) && !retryable(ctx, err) {
		failure = s.platformFailure(ctx, t, sess, err)
	}
	sess.Release(ctx, auth.ProxyOutcome(err))
	s.logger.Debug(ctx, "fetch run", "task_id", t.ID, "account_id", run.account, "from", start, "to", run.offset, "items", run.emitted, "error", err)

	switch {
	case run.storeErr != nil:
		return s.storeFailure(ctx, t, run.storeErr)
	case errors.Is(err, errSink):
		res, ferr := s.finish(ctx, t, s.retry(t, models.CodeTransient, err.Error()), nil)
		return s.withProgress(res, run), ferr
	case err != nil:
		r := failure
		if r == nil {
			r = s.retry(t, models.CodeFetchIncomplete, fmt.Sprintf("history unavailable after %d tries: %v", s.cfg.FetchRetryMax, err))
		}
		res, ferr := s.finish(ctx, t, r, nil)
		return s.withProgress(res, run), ferr
	}

	r = &Result{State: models.TaskSucceeded, Code: models.CodeOK}
	if run.emitted == 0 && run.done {
		r.Code = models.CodeAlreadyDone
		r.Err = common.ErrAlreadyDone
	}
	var extra func(ctx context.Context, tx dbx.DBTX) error
	if run.done {
		extra = func(ctx context.Context, tx dbx.DBTX) error {
			return s.store.Repos().Cursors(tx).Delete(ctx, run.account, t.Target)
		}
	}
	res, err := s.finish(ctx, t, r, extra)
	return s.withProgress(res, run), err
}

func (s *Services) withProgress(r *Result, run *fetchRun) *Result {
	if r != nil {
		r.Items = run.emitted
		r.Cursor = run.offset
	}
	return r
}

// fetchPages walks history pages until the limit is reached or the source
// is exhausted. The cursor is saved after every page.
func (s *Services) fetchPages(ctx context.Context, c platform.Conn, run *fetchRun) error {
	for run.emitted < run.limit && !run.done {
		size := s.cfg.FetchPageSize
		if left := run.limit - run.emitted; left < size {
			size = left
		}

		page, err := s.page(ctx, c, run.task.Target, run.offset, size)
		if err != nil {
			return err
		}

		next, err := s.takePage(ctx, c, run, page)
		if err != nil {
			return err
		}
		if next == "" || next == run.offset {
			run.done = true
			return nil
		}
		run.offset = next
		if err := s.saveCursor(ctx, run); err != nil {
			return err
		}
		run.done = page.Done && next == page.Next
	}
	return nil
}

// page fetches one page, retrying transient failures with exponential
// backoff up to FetchRetryMax calls.
func (s *Services) page(ctx context.Context, c platform.Conn, target, offset string, size int) (*platform.Page, error) {
	b := retry.WithMaxRetries(uint64(s.cfg.FetchRetryMax-1), retry.NewExponential(s.cfg.FetchRetryBase))

	var page *platform.Page
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		p, err := c.History(ctx, target, offset, size)
		if err != nil {
			if retryable(ctx, err) {
				s.logger.Debug(ctx, "history page failed", "target", target, "offset", offset, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// retryable reports whether a history call may be repeated. Call timeouts
// count as transient; an ended ctx does not.
func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && platform.KindOf(err) == platform.KindTransient
}

// takePage records and emits the new items of page, stopping at the limit.
// It returns the offset to resume from.
func (s *Services) takePage(ctx context.Context, c platform.Conn, run *fetchRun, page *platform.Page) (string, error) {
	for i := range page.Items {
		if run.emitted == run.limit {
			return page.Items[i-1].ID, nil
		}
		it := &page.Items[i]

		fresh, err := s.takeItem(ctx, c, run, it)
		if err != nil {
			return "", err
		}
		if !fresh {
			continue
		}
		run.emitted++
		s.metrics.ItemsFetched(1)
	}
	return page.Next, nil
}

// takeItem downloads the item's media, then commits the dedup record and
// the item row together and hands the item to the sink. It reports false
// for items already recorded for the target.
func (s *Services) takeItem(ctx context.Context, c platform.Conn, run *fetchRun, it *platform.Item) (bool, error) {
	t := run.task
	scope := models.FetchScope(t.Target)

	seen, err := s.store.Repos().Dedup(s.store.DB()).Exists(ctx, scope, it.ID)
	if err != nil {
		run.storeErr = err
		return false, err
	}
	if seen {
		return false, nil
	}

	item := models.FetchedItem{
		TaskID:      t.ID,
		Target:      t.Target,
		ItemID:      it.ID,
		Text:        it.Text,
		Fingerprint: cryptox.FingerprintString(it.Text),
		FetchedAt:   s.clock.Now(),
	}
	if it.Media != nil {
		path, err := s.scratch.Write(t.Target, it.ID, it.Media.Ext, func(w io.Writer) error {
			return c.Download(ctx, it.Media, w)
		})
		switch {
		case err == nil:
			item.MediaPath = path
			item.Fingerprint = cryptox.FingerprintString(it.Text, it.Media.ID)
		case platform.KindOf(err) == platform.KindNotFound:
			s.logger.Warn(ctx, "media unavailable", "target", t.Target, "item_id", it.ID, "error", err)
		default:
			return false, err
		}
	}

	var inserted bool
	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		inserted, err = s.store.Repos().Dedup(tx).Insert(ctx, models.DedupRecord{Scope: scope, Fingerprint: it.ID, FirstSeen: item.FetchedAt})
		if err != nil || !inserted {
			return err
		}
		return s.store.Repos().Items(tx).Insert(ctx, item)
	})
	if err != nil {
		run.storeErr = err
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if run.sink != nil {
		if err := run.sink(ctx, item); err != nil {
			// the item is recorded; count it before stopping
			run.emitted++
			s.metrics.ItemsFetched(1)
			return false, fmt.Errorf("%w: %w", errSink, err)
		}
	}
	return true, nil
}

func (s *Services) saveCursor(ctx context.Context, run *fetchRun) error {
	err := s.store.Repos().Cursors(s.store.DB()).Put(context.WithoutCancel(ctx), models.Cursor{
		AccountID: run.account,
		Target:    run.task.Target,
		Token:     run.offset,
		UpdatedAt: s.clock.Now(),
	})
	if err != nil {
		run.storeErr = err
	}
	return err
}
