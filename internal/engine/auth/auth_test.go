package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/enginetest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform/platformtest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll_Validation(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	_, err := e.Auth.Enroll(ctx, auth.EnrollRequest{})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = e.Auth.Enroll(ctx, auth.EnrollRequest{Phone: "+1", BotToken: "t"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = e.Auth.Enroll(ctx, auth.EnrollRequest{Phone: "+1", ProxyID: "missing"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	a, err := e.Auth.Enroll(ctx, auth.EnrollRequest{Label: "main", Phone: "+1"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountUnauthenticated, a.Status)
	assert.Equal(t, 1, a.APIID)
	assert.Equal(t, "hash", e.Account(t, a.ID).Secrets.APIHash)
}

func TestAuthenticate_CodeFlow(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	a, err := e.Auth.Enroll(ctx, auth.EnrollRequest{Phone: "+100"})
	require.NoError(t, err)

	sess, err := e.Auth.Authenticate(ctx, a.ID)
	assert.Nil(t, sess)
	var ch *auth.ChallengeRequiredError
	require.ErrorAs(t, err, &ch)
	assert.Equal(t, models.StageCode, ch.Stage)
	assert.Equal(t, models.AccountAuthenticating, e.Account(t, a.ID).Status)
	assert.False(t, e.Pool.Busy(a.ID), "challenge releases the account")

	err = e.Auth.SubmitChallenge(ctx, a.ID, "00000")
	assert.ErrorIs(t, err, auth.ErrChallengeRejected)

	require.NoError(t, e.Auth.SubmitChallenge(ctx, a.ID, "12345"))

	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountActive, got.Status)
	assert.Equal(t, platformtest.SessionFor("+100"), got.Secrets.Session, "session persisted on login")

	assert.ErrorIs(t, e.Auth.SubmitChallenge(ctx, a.ID, "12345"), auth.ErrNoChallenge)

	// resume without a new challenge
	sess, err = e.Auth.Authenticate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, e.Pool.Busy(a.ID))
	assert.True(t, e.Auth.Validate(ctx, sess))
	sess.Release(ctx, proxies.Success)
	assert.False(t, e.Pool.Busy(a.ID))
}

func TestAuthenticate_TwoFactor(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	e.Platform.TwoFactor["+200"] = true
	e.Platform.Password = "hunter2"

	a, err := e.Auth.Enroll(ctx, auth.EnrollRequest{Phone: "+200"})
	require.NoError(t, err)

	_, err = e.Auth.Authenticate(ctx, a.ID)
	require.Error(t, err)

	err = e.Auth.SubmitChallenge(ctx, a.ID, "12345")
	var ch *auth.ChallengeRequiredError
	require.ErrorAs(t, err, &ch)
	assert.Equal(t, models.StagePassword, ch.Stage)

	assert.ErrorIs(t, e.Auth.SubmitChallenge(ctx, a.ID, "wrong"), auth.ErrChallengeRejected)
	require.NoError(t, e.Auth.SubmitChallenge(ctx, a.ID, "hunter2"))
	assert.Equal(t, models.AccountActive, e.Account(t, a.ID).Status)
}

func TestSubmitChallenge_Expired(t *testing.T) {
	e := enginetest.New(t, func(o *enginetest.Options) { o.Auth.ChallengeTTL = time.Minute })
	ctx := context.Background()

	a, err := e.Auth.Enroll(ctx, auth.EnrollRequest{Phone: "+300"})
	require.NoError(t, err)
	_, err = e.Auth.Authenticate(ctx, a.ID)
	require.Error(t, err)

	e.Clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, e.Auth.SubmitChallenge(ctx, a.ID, "12345"), auth.ErrChallengeExpired)
	assert.Equal(t, models.AccountUnauthenticated, e.Account(t, a.ID).Status)
	assert.ErrorIs(t, e.Auth.SubmitChallenge(ctx, a.ID, "12345"), auth.ErrNoChallenge)
}

func TestAuthenticate_Bot(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	a, err := e.Auth.Enroll(ctx, auth.EnrollRequest{BotToken: "123:abc"})
	require.NoError(t, err)

	sess, err := e.Auth.Authenticate(ctx, a.ID)
	require.NoError(t, err)
	sess.Release(ctx, proxies.Success)

	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountActive, got.Status)
	assert.Equal(t, platformtest.SessionFor("123:abc"), got.Secrets.Session)
}

func TestMarkCompromised_UnpinsAndNotifies(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()

	a := e.ActiveAccount(t, "+400")
	tk := e.Task(t, models.TaskPublish, "chan", models.TaskPayload{Text: "hi"}, "f")
	_, err := e.Store.DB().Exec(`UPDATE tasks SET account_id = ? WHERE id = ?`, a.ID, tk.ID)
	require.NoError(t, err)

	require.NoError(t, e.Auth.MarkCompromised(ctx, a.ID, models.AccountBanned, "USER_DEACTIVATED_BAN"))

	assert.Equal(t, models.AccountBanned, e.Account(t, a.ID).Status)
	assert.Empty(t, e.LoadTask(t, tk.ID).AccountID)
	require.Len(t, e.Notified, 1)
	assert.Equal(t, a.ID, e.Notified[0].ID)

	_, err = e.Auth.Acquire(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrAccountCompromised)

	_, err = e.Auth.AcquireIdle(ctx, nil)
	assert.ErrorIs(t, err, common.ErrNoIdleAccount)

	// terminal accounts ignore flood limits
	require.NoError(t, e.Auth.MarkFloodLimited(ctx, a.ID, e.Clock.Now().Add(time.Hour), "x"))
	assert.Equal(t, models.AccountBanned, e.Account(t, a.ID).Status)

	require.NoError(t, e.Auth.Reenroll(ctx, a.ID))
	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountUnauthenticated, got.Status)
	assert.Empty(t, got.Secrets.Session)

	assert.ErrorIs(t, e.Auth.Reenroll(ctx, a.ID), common.ErrStateConflict)
	assert.ErrorIs(t, e.Auth.MarkCompromised(ctx, a.ID, models.AccountActive, ""), common.ErrorValidation)
}

func TestValidate_EscalatesBan(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+500")

	sess, err := e.Auth.Acquire(ctx, a.ID)
	require.NoError(t, err)
	defer sess.Release(ctx, proxies.Neutral)

	e.Platform.SelfErr = func(string) error {
		return platform.NewError(platform.KindBanned, "USER_DEACTIVATED_BAN")
	}
	assert.False(t, e.Auth.Validate(ctx, sess))
	assert.Equal(t, models.AccountBanned, e.Account(t, a.ID).Status)
}

func TestEscalate_Unauthorized(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+501")

	assert.True(t, e.Auth.Escalate(ctx, a, platform.NewError(platform.KindUnauthorized, "AUTH_KEY_UNREGISTERED")))
	assert.Equal(t, models.AccountUnauthenticated, e.Account(t, a.ID).Status)

	assert.False(t, e.Auth.Escalate(ctx, a, platform.NewError(platform.KindNotFound, "X")))
	assert.False(t, e.Auth.Escalate(ctx, a, errors.New("plain")))
}

func TestFloodLimit_AndReactivate(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+600")

	until := e.Clock.Now().Add(30 * time.Minute)
	require.NoError(t, e.Auth.MarkFloodLimited(ctx, a.ID, until, "FLOOD_WAIT"))
	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountFloodLimited, got.Status)
	assert.True(t, got.ResumeAt.Equal(until))

	// a shorter wait never shortens the suspension
	require.NoError(t, e.Auth.MarkFloodLimited(ctx, a.ID, e.Clock.Now().Add(time.Minute), "FLOOD_WAIT"))
	assert.True(t, e.Account(t, a.ID).ResumeAt.Equal(until))

	_, err := e.Auth.AcquireIdle(ctx, nil)
	assert.ErrorIs(t, err, common.ErrNoIdleAccount)

	n, err := e.Auth.Reactivate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.Clock.Advance(31 * time.Minute)
	n, err = e.Auth.Reactivate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.AccountActive, e.Account(t, a.ID).Status)
}

func TestAcquireIdle_LeastRecentlyUsedAndBusy(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+700")
	b := e.ActiveAccount(t, "+701")

	s1, err := e.Auth.AcquireIdle(ctx, nil)
	require.NoError(t, err)
	first := s1.Account.ID

	s2, err := e.Auth.AcquireIdle(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, s2.Account.ID)

	_, err = e.Auth.AcquireIdle(ctx, nil)
	assert.ErrorIs(t, err, common.ErrNoIdleAccount)

	e.Clock.Advance(time.Second)
	s1.Release(ctx, proxies.Success)
	e.Clock.Advance(time.Second)
	s2.Release(ctx, proxies.Success)

	// s1's account was used longest ago
	s3, err := e.Auth.AcquireIdle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, first, s3.Account.ID)
	s3.Release(ctx, proxies.Success)

	s4, err := e.Auth.AcquireIdle(ctx, func(ctx context.Context, acc *models.Account) (bool, error) {
		return acc.ID == b.ID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, s4.Account.ID)
	s4.Release(ctx, proxies.Success)

	_, err = e.Auth.AcquireIdle(ctx, func(ctx context.Context, acc *models.Account) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, common.ErrNoIdleAccount)
	assert.False(t, e.Pool.Busy(a.ID))
	assert.False(t, e.Pool.Busy(b.ID))
}

func TestAcquire_BindsProxy(t *testing.T) {
	e := enginetest.New(t, func(o *enginetest.Options) { o.Auth.RequireProxy = true })
	ctx := context.Background()
	a := e.ActiveAccount(t, "+800")

	_, err := e.Auth.Acquire(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrProxiesExhausted)
	assert.False(t, e.Pool.Busy(a.ID))

	p, err := e.Proxies.Add(ctx, &models.Proxy{Host: "127.0.0.1", Port: 1080})
	require.NoError(t, err)

	sess, err := e.Auth.Acquire(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.Proxy)
	assert.Equal(t, p.ID, sess.Proxy.ID)
	assert.Equal(t, p.ID, e.Account(t, a.ID).ProxyID)

	_, err = e.Auth.Acquire(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrNoIdleAccount)
	sess.Release(ctx, proxies.Failure)

	got, _ := e.Proxies.Get(p.ID)
	assert.Equal(t, models.ProxyDegraded, got.Status)
}

func TestAcquire_DirectWithoutProxies(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+801")

	sess, err := e.Auth.Acquire(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.Proxy)
	sess.Release(ctx, proxies.Success)

	eps := e.Platform.Endpoints()
	assert.Empty(t, eps)
}

func TestInvalidate(t *testing.T) {
	e := enginetest.New(t)
	ctx := context.Background()
	a := e.ActiveAccount(t, "+900")

	sess, err := e.Auth.Acquire(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, e.Auth.Invalidate(ctx, sess))
	sess.Release(ctx, proxies.Success)

	got := e.Account(t, a.ID)
	assert.Equal(t, models.AccountUnauthenticated, got.Status)
	assert.Empty(t, got.Secrets.Session)
}

func TestProxyOutcome(t *testing.T) {
	assert.Equal(t, proxies.Success, auth.ProxyOutcome(nil))
	assert.Equal(t, proxies.Neutral, auth.ProxyOutcome(platform.NewError(platform.KindNotFound, "X")))
	assert.Equal(t, proxies.Neutral, auth.ProxyOutcome(context.Canceled))
	assert.Equal(t, proxies.Failure, auth.ProxyOutcome(context.DeadlineExceeded))
}
