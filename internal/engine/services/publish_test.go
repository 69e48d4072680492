package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/enginetest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/scratch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/services"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DuplicateContentIsPublishedOnce(t *testing.T) {
	e, s := newServices(t, services.Config{})
	a := e.ActiveAccount(t, "+100")
	payload := models.TaskPayload{Text: "hello"}

	first := e.Task(t, models.TaskPublish, "@chan", payload, "")
	r := execute(t, e, s, first)
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Equal(t, models.CodeOK, r.Code)
	assert.Equal(t, a.ID, r.AccountID)

	second := e.Task(t, models.TaskPublish, "@chan", payload, "")
	r = execute(t, e, s, second)
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Equal(t, models.CodeAlreadyDone, r.Code)
	assert.ErrorIs(t, r.Err, common.ErrAlreadyDone)

	require.Len(t, e.Platform.Sent(), 1)
	assert.Equal(t, "hello", e.Platform.Sent()[0].Message.Text)
	assert.Equal(t, services.PublishFingerprint(payload), e.LoadTask(t, first.ID).Fingerprint)

	// same content elsewhere is new
	r = execute(t, e, s, e.Task(t, models.TaskPublish, "@other", payload, ""))
	assert.Equal(t, models.CodeOK, r.Code)
	assert.Len(t, e.Platform.Sent(), 2)
}

func TestPublish_Validation(t *testing.T) {
	e, s := newServices(t, services.Config{})
	e.ActiveAccount(t, "+100")

	r := execute(t, e, s, e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{}, ""))
	assert.Equal(t, models.TaskFailed, r.State)
	assert.Equal(t, models.CodeInvalid, r.Code)
	assert.Empty(t, e.Platform.Sent())
}

func TestPublish_FloodWaitSuspendsAccount(t *testing.T) {
	e, s := newServices(t, services.Config{FloodBackoffBase: time.Minute})
	a := e.ActiveAccount(t, "+100")
	e.Platform.SendErr = func(account, target string) error {
		return platform.FloodWaitError(5 * time.Minute)
	}

	tk := e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, "")
	r := execute(t, e, s, tk)
	want := enginetest.Start.Add(5 * time.Minute)
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeFloodWait, r.Code)
	assert.True(t, r.NextEligibleAt.Equal(want))

	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountFloodLimited, got.Status)
	assert.True(t, got.ResumeAt.Equal(want))

	// short waits are stretched to the base
	e.Platform.SendErr = func(account, target string) error {
		return platform.FloodWaitError(time.Second)
	}
	b := e.ActiveAccount(t, "+200")
	r = execute(t, e, s, e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "y"}, ""))
	assert.True(t, r.NextEligibleAt.Equal(enginetest.Start.Add(time.Minute)))
	assert.True(t, e.Account(t, b.ID).ResumeAt.Equal(enginetest.Start.Add(time.Minute)))
}

func TestPublish_TerminalFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		want error
	}{
		{"not found", platform.NewError(platform.KindNotFound, "USERNAME_NOT_OCCUPIED"), models.CodeNotFound, common.ErrNotFound},
		{"forbidden", platform.NewError(platform.KindPermissionDenied, "CHAT_WRITE_FORBIDDEN"), models.CodePermission, common.ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s := newServices(t, services.Config{})
			e.ActiveAccount(t, "+100")
			e.Platform.SendErr = func(account, target string) error { return tt.err }

			tk := e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, "")
			r := execute(t, e, s, tk)
			assert.Equal(t, models.TaskFailed, r.State)
			assert.Equal(t, tt.code, r.Code)
			assert.ErrorIs(t, r.Err, tt.want)

			stored := e.LoadTask(t, tk.ID)
			assert.Equal(t, tt.code, stored.ResultCode)
			assert.NotEmpty(t, stored.Reason)
		})
	}
}

func TestPublish_BanRedistributesTask(t *testing.T) {
	e, s := newServices(t, services.Config{})
	a := e.ActiveAccount(t, "+100")
	e.Platform.SendErr = func(account, target string) error {
		if account == "+100" {
			return platform.NewError(platform.KindBanned, "USER_DEACTIVATED_BAN")
		}
		return nil
	}

	tk := e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, "")
	r := execute(t, e, s, tk)
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeCompromised, r.Code)
	assert.Empty(t, e.LoadTask(t, tk.ID).AccountID)

	assert.Equal(t, models.AccountBanned, e.Account(t, a.ID).Status)
	require.Len(t, e.Notified, 1)
	assert.Equal(t, a.ID, e.Notified[0].ID)

	b := e.ActiveAccount(t, "+200")
	r = execute(t, e, s, e.LoadTask(t, tk.ID))
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Equal(t, b.ID, r.AccountID)
}

func TestPublish_SameContentInFlightIsDeferred(t *testing.T) {
	e, s := newServices(t, services.Config{})
	e.ActiveAccount(t, "+100")
	e.ActiveAccount(t, "+200")
	e.Platform.Delay = 100 * time.Millisecond
	payload := models.TaskPayload{Text: "same"}

	a := e.Running(t, e.Task(t, models.TaskPublish, "@chan", payload, ""))
	b := e.Running(t, e.Task(t, models.TaskPublish, "@chan", payload, ""))

	done := make(chan *services.Result, 1)
	go func() {
		r, err := s.Execute(context.Background(), a)
		assert.NoError(t, err)
		done <- r
	}()
	time.Sleep(20 * time.Millisecond)

	rb, err := s.Execute(context.Background(), b)
	require.NoError(t, err)
	ra := <-done

	assert.Equal(t, models.CodeOK, ra.Code)
	assert.Equal(t, models.TaskDeferred, rb.State)
	assert.Len(t, e.Platform.Sent(), 1)

	rb = execute(t, e, s, e.LoadTask(t, b.ID))
	assert.Equal(t, models.CodeAlreadyDone, rb.Code)
	assert.Len(t, e.Platform.Sent(), 1)
}

// hookLogger runs onDebug for every debug message.
type hookLogger struct {
	logging.Logger
	onDebug func(msg string)
}

func (l *hookLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.onDebug(msg)
}

func TestPublish_FailedAccountIsNeverIdleAndActive(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status models.AccountStatus
	}{
		{"flood wait", platform.FloodWaitError(5 * time.Minute), models.AccountFloodLimited},
		{"banned", platform.NewError(platform.KindBanned, "USER_DEACTIVATED_BAN"), models.AccountBanned},
		{"session revoked", platform.NewError(platform.KindUnauthorized, "AUTH_KEY_UNREGISTERED"), models.AccountUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := enginetest.New(t)
			a := e.ActiveAccount(t, "+100")
			e.Platform.SendErr = func(account, target string) error { return tt.err }

			var (
				checked  bool
				stolen   error
				statusAt models.AccountStatus
			)
			log := &hookLogger{Logger: logging.Nop(), onDebug: func(msg string) {
				if msg != "publish call" {
					return
				}
				checked = true
				sess, err := e.Auth.AcquireIdle(ctx, nil)
				if err == nil {
					sess.Release(ctx, proxies.Neutral)
				}
				stolen = err
				statusAt = e.Account(t, a.ID).Status
			}}

			sd, err := scratch.New(t.TempDir(), scratch.WithClock(e.Clock))
			require.NoError(t, err)
			s := services.New(e.Store, e.Auth, sd, services.Config{}, services.WithClock(e.Clock), services.WithLogger(log))

			r := execute(t, e, s, e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, ""))
			assert.Equal(t, models.TaskDeferred, r.State)

			require.True(t, checked)
			assert.ErrorIs(t, stolen, common.ErrNoIdleAccount)
			assert.Equal(t, tt.status, statusAt)

			_, err = e.Auth.AcquireIdle(ctx, nil)
			assert.ErrorIs(t, err, common.ErrNoIdleAccount)
			assert.Equal(t, tt.status, e.Account(t, a.ID).Status)
		})
	}
}

func TestPublish_PeerFloodDefersWithBaseBackoff(t *testing.T) {
	e, s := newServices(t, services.Config{FloodBackoffBase: 10 * time.Minute})
	a := e.ActiveAccount(t, "+100")
	e.Platform.SendErr = func(account, target string) error {
		return platform.NewError(platform.KindFloodWait, "PEER_FLOOD")
	}

	tk := e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, "")
	r := execute(t, e, s, tk)
	want := enginetest.Start.Add(10 * time.Minute)
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeFloodWait, r.Code)
	assert.True(t, r.NextEligibleAt.Equal(want))
	assert.Equal(t, models.AccountFloodLimited, e.Account(t, a.ID).Status)
}

func TestPublish_BadRequestFailsWithoutRetry(t *testing.T) {
	e, s := newServices(t, services.Config{})
	a := e.ActiveAccount(t, "+100")
	e.Platform.SendErr = func(account, target string) error {
		return platform.NewError(platform.KindBadRequest, "MESSAGE_TOO_LONG")
	}

	r := execute(t, e, s, e.Task(t, models.TaskPublish, "@chan", models.TaskPayload{Text: "x"}, ""))
	assert.Equal(t, models.TaskFailed, r.State)
	assert.Equal(t, models.CodeInvalid, r.Code)
	assert.Equal(t, models.AccountActive, e.Account(t, a.ID).Status)
}
