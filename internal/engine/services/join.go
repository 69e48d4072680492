package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/google/uuid"
)

// joinCheck records why accounts were passed over for a join.
type joinCheck struct {
	s       *Services
	target  string
	since   time.Time
	joined  int
	atQuota int
	resetAt time.Time
}

// accept runs with the account held busy: at most one join per account is
// in flight, so the quota count cannot change underneath it.
func (c *joinCheck) accept(ctx context.Context, a *models.Account) (bool, error) {
	repos := c.s.store.Repos()
	db := c.s.store.DB()

	joined, err := repos.Dedup(db).Exists(ctx, models.JoinScope(a.ID), c.target)
	if err != nil {
		return false, err
	}
	if joined {
		c.joined++
		return false, nil
	}

	n, err := repos.Joins(db).CountSince(ctx, a.ID, c.since)
	if err != nil {
		return false, err
	}
	if n < c.s.cfg.DailyJoinQuota {
		return true, nil
	}

	oldest, err := repos.Joins(db).OldestSince(ctx, a.ID, c.since)
	if err != nil {
		return false, err
	}
	reset := oldest.Add(c.s.cfg.JoinWindow)
	if c.resetAt.IsZero() || reset.Before(c.resetAt) {
		c.resetAt = reset
	}
	c.atQuota++
	return false, nil
}

// Join makes an account a member of the task target. Each account may
// join at most DailyJoinQuota targets in any rolling JoinWindow; the limit
// is checked locally before the platform is called and a task that would
// exceed it is deferred until the oldest join leaves the window. Unpinned
// tasks use an idle account that has quota left and has not joined the
// target yet.
func (s *Services) Join(ctx context.Context, t *models.Task) (*Result, error) {
	if t.Target == "" {
		return s.finish(ctx, t, s.failed(models.CodeInvalid, common.ErrorValidation, "join needs a target"), nil)
	}

	check := &joinCheck{s: s, target: t.Target, since: s.clock.Now().Add(-s.cfg.JoinWindow)}
	sess, r, err := s.acquire(ctx, t, check.accept)
	switch {
	case errors.Is(err, auth.ErrNotAccepted):
		return s.finish(ctx, t, s.joinRejected(check), nil)
	case err != nil:
		return s.storeFailure(ctx, t, err)
	case r != nil:
		if t.AccountID == "" && r.Code == models.CodeNoAccount {
			alt, err := s.joinUnavailable(ctx, check)
			if err != nil {
				return s.storeFailure(ctx, t, err)
			}
			if alt != nil {
				r = alt
			}
		}
		return s.finish(ctx, t, r, nil)
	}

	err = sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		return c.Join(ctx, t.Target)
	})
	kind := platform.KindOf(err)
	var failure *Result
	if kind == platform.KindJoinRequested || kind == platform.KindAlreadyParticipant {
		sess.Release(ctx, auth.ProxyOutcome(err))
	} else {
		failure = s.settle(ctx, t, sess, err, nil)
	}

	account := sess.Account.ID
	now := s.clock.Now()
	markJoined := func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.store.Repos().Dedup(tx).Insert(ctx, models.DedupRecord{Scope: models.JoinScope(account), Fingerprint: t.Target, FirstSeen: now})
		return err
	}
	recordJoin := func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.store.Repos().Joins(tx).Record(ctx, models.JoinEvent{ID: uuid.NewString(), AccountID: account, Target: t.Target, JoinedAt: now}); err != nil {
			return err
		}
		return markJoined(ctx, tx)
	}

	switch {
	case err == nil:
		return s.finish(ctx, t, &Result{State: models.TaskSucceeded, Code: models.CodeOK, AccountID: account}, recordJoin)
	case kind == platform.KindJoinRequested:
		return s.finish(ctx, t, &Result{State: models.TaskSucceeded, Code: models.CodeJoinRequested, AccountID: account}, recordJoin)
	case kind == platform.KindAlreadyParticipant:
		return s.finish(ctx, t, &Result{State: models.TaskSucceeded, Code: models.CodeAlreadyMember, Err: common.ErrAlreadyDone, AccountID: account}, markJoined)
	}
	return s.finish(ctx, t, failure, nil)
}

func (s *Services) joinRejected(c *joinCheck) *Result {
	if c.joined > 0 {
		return &Result{State: models.TaskSucceeded, Code: models.CodeAlreadyMember, Err: common.ErrAlreadyDone}
	}
	return s.deferred(c.resetAt, models.CodeQuotaExceeded, common.ErrQuotaExceeded, "daily join quota reached")
}

// joinUnavailable refines a no-account deferral of an unpinned join. When
// every active account was passed over, the task either is already done
// or waits for the earliest quota reset. It returns nil when some account
// was merely busy.
func (s *Services) joinUnavailable(ctx context.Context, c *joinCheck) (*Result, error) {
	active, err := s.auth.List(ctx, models.AccountActive)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 || c.joined+c.atQuota < len(active) {
		return nil, nil
	}
	if c.atQuota == 0 {
		return &Result{State: models.TaskSucceeded, Code: models.CodeAlreadyMember, Err: common.ErrAlreadyDone}, nil
	}
	return s.deferred(c.resetAt, models.CodeQuotaExceeded, common.ErrQuotaExceeded, "daily join quota reached on every account"), nil
}
