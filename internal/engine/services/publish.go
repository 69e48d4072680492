package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

// PublishFingerprint is the content fingerprint of a publish payload.
func PublishFingerprint(p models.TaskPayload) string {
	return cryptox.FingerprintString(p.Text, p.MediaPath)
}

// Publish posts the task payload to its target. Content already published
// to the target (same fingerprint) short-circuits with already_done and no
// platform call.
func (s *Services) Publish(ctx context.Context, t *models.Task) (*Result, error) {
	if t.Target == "" || (t.Payload.Text == "" && t.Payload.MediaPath == "") {
		return s.finish(ctx, t, s.failed(models.CodeInvalid, common.ErrorValidation, "publish needs a target and a text or media payload"), nil)
	}
	if t.Fingerprint == "" {
		t.Fingerprint = PublishFingerprint(t.Payload)
	}
	scope := models.PublishScope(t.Target)

	release, ok := s.inflight.claim(scope + "\x00" + t.Fingerprint)
	if !ok {
		return s.finish(ctx, t, s.deferred(s.clock.Now().Add(s.cfg.BusyRetry), models.CodeTransient, common.ErrTransient, "same content is being published"), nil)
	}
	defer release()

	dedup := s.store.Repos().Dedup(s.store.DB())
	done, err := dedup.Exists(ctx, scope, t.Fingerprint)
	if err != nil {
		return s.storeFailure(ctx, t, err)
	}
	if done {
		return s.finish(ctx, t, &Result{State: models.TaskSucceeded, Code: models.CodeAlreadyDone, Err: common.ErrAlreadyDone}, nil)
	}

	sess, r, err := s.acquire(ctx, t, nil)
	if err != nil {
		return s.storeFailure(ctx, t, err)
	}
	if r != nil {
		return s.finish(ctx, t, r, nil)
	}

	start := time.Now()
	err = sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		return c.SendMessage(ctx, t.Target, platform.Message{Text: t.Payload.Text, MediaPath: t.Payload.MediaPath})
	})
	failure := s.settle(ctx, t, sess, err, func() {
		s.logger.Debug(ctx, "publish call", "task_id", t.ID, "account_id", sess.Account.ID, "took", time.Since(start), "error", err)
	})
	if failure != nil {
		return s.finish(ctx, t, failure, nil)
	}

	t.AccountID = sess.Account.ID
	now := s.clock.Now()
	return s.finish(ctx, t, &Result{State: models.TaskSucceeded, Code: models.CodeOK}, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.store.Repos().Dedup(tx).Insert(ctx, models.DedupRecord{Scope: scope, Fingerprint: t.Fingerprint, FirstSeen: now})
		return err
	})
}

// storeFailure records a task whose store access failed. A corrupted
// record fails the task; other errors defer it like a transient failure.
func (s *Services) storeFailure(ctx context.Context, t *models.Task, err error) (*Result, error) {
	if r := s.interrupted(ctx, t); r != nil {
		return s.finish(ctx, t, r, nil)
	}
	r := s.retry(t, models.CodeTransient, err.Error())
	if errors.Is(err, common.ErrStoreCorruption) {
		s.logger.Error(ctx, "store corruption", "task_id", t.ID, "error", err)
		r = s.failed(models.CodeStoreCorruption, common.ErrStoreCorruption, err.Error())
	}
	res, ferr := s.finish(ctx, t, r, nil)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return res, nil
}
