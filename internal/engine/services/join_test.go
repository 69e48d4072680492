package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/enginetest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_QuotaDefersUntilWindowReset(t *testing.T) {
	e, s := newServices(t, services.Config{DailyJoinQuota: 3})
	a := e.ActiveAccount(t, "+100")

	var tasks []*models.Task
	for i := 1; i <= 4; i++ {
		tasks = append(tasks, e.Task(t, models.TaskJoin, fmt.Sprintf("@chan%d", i), models.TaskPayload{}, ""))
	}

	for _, tk := range tasks[:3] {
		r := execute(t, e, s, tk)
		assert.Equal(t, models.TaskSucceeded, r.State)
		assert.Equal(t, models.CodeOK, r.Code)
		assert.Equal(t, a.ID, r.AccountID)
		e.Clock.Advance(time.Minute)
	}

	r := execute(t, e, s, tasks[3])
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeQuotaExceeded, r.Code)
	assert.ErrorIs(t, r.Err, common.ErrQuotaExceeded)
	assert.False(t, r.NextEligibleAt.Before(enginetest.Start.Add(24*time.Hour)))
	assert.Len(t, e.Platform.Joined("+100"), 3)

	e.Clock.Set(r.NextEligibleAt)
	r = execute(t, e, s, e.LoadTask(t, tasks[3].ID))
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Len(t, e.Platform.Joined("+100"), 4)
}

func TestJoin_PicksAccountWithQuotaLeft(t *testing.T) {
	e, s := newServices(t, services.Config{DailyJoinQuota: 1})
	a := e.ActiveAccount(t, "+100")
	b := e.ActiveAccount(t, "+200")

	r1 := execute(t, e, s, e.Task(t, models.TaskJoin, "@one", models.TaskPayload{}, ""))
	r2 := execute(t, e, s, e.Task(t, models.TaskJoin, "@two", models.TaskPayload{}, ""))
	require.Equal(t, models.CodeOK, r1.Code)
	require.Equal(t, models.CodeOK, r2.Code)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{r1.AccountID, r2.AccountID})
}

func TestJoin_PinnedAccountQuota(t *testing.T) {
	e, s := newServices(t, services.Config{DailyJoinQuota: 1})
	a := e.ActiveAccount(t, "+100")
	e.ActiveAccount(t, "+200")

	first := e.Task(t, models.TaskJoin, "@one", models.TaskPayload{}, "")
	first.AccountID = a.ID
	r := execute(t, e, s, first)
	require.Equal(t, models.CodeOK, r.Code)

	second := e.Task(t, models.TaskJoin, "@two", models.TaskPayload{}, "")
	second.AccountID = a.ID
	r = execute(t, e, s, second)
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeQuotaExceeded, r.Code)
	assert.True(t, r.NextEligibleAt.Equal(enginetest.Start.Add(24*time.Hour)))
	assert.Equal(t, a.ID, e.LoadTask(t, second.ID).AccountID)
	assert.Empty(t, e.Platform.Joined("+200"))
}

func TestJoin_AlreadyJoinedSkipsPlatform(t *testing.T) {
	e, s := newServices(t, services.Config{})
	a := e.ActiveAccount(t, "+100")

	r := execute(t, e, s, e.Task(t, models.TaskJoin, "@chan", models.TaskPayload{}, ""))
	require.Equal(t, models.CodeOK, r.Code)

	pinned := e.Task(t, models.TaskJoin, "@chan", models.TaskPayload{}, "")
	pinned.AccountID = a.ID
	r = execute(t, e, s, pinned)
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Equal(t, models.CodeAlreadyMember, r.Code)

	r = execute(t, e, s, e.Task(t, models.TaskJoin, "@chan", models.TaskPayload{}, ""))
	assert.Equal(t, models.TaskSucceeded, r.State)
	assert.Equal(t, models.CodeAlreadyMember, r.Code)
	assert.ErrorIs(t, r.Err, common.ErrAlreadyDone)

	assert.Len(t, e.Platform.Joined("+100"), 1)
}

func TestJoin_PlatformOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		state  models.TaskState
		code   string
		counts bool
	}{
		{"already participant", platform.NewError(platform.KindAlreadyParticipant, "USER_ALREADY_PARTICIPANT"), models.TaskSucceeded, models.CodeAlreadyMember, false},
		{"request sent", platform.NewError(platform.KindJoinRequested, "INVITE_REQUEST_SENT"), models.TaskSucceeded, models.CodeJoinRequested, true},
		{"invite expired", platform.NewError(platform.KindInviteExpired, "INVITE_HASH_EXPIRED"), models.TaskFailed, models.CodeInviteExpired, false},
		{"channel private", platform.NewError(platform.KindPermissionDenied, "CHANNEL_PRIVATE"), models.TaskFailed, models.CodePermission, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s := newServices(t, services.Config{})
			a := e.ActiveAccount(t, "+100")
			e.Platform.JoinErr = func(account, target string) error { return tt.err }

			r := execute(t, e, s, e.Task(t, models.TaskJoin, "@chan", models.TaskPayload{}, ""))
			assert.Equal(t, tt.state, r.State)
			assert.Equal(t, tt.code, r.Code)

			n, err := e.Store.Repos().Joins(e.Store.DB()).CountSince(context.Background(), a.ID, enginetest.Start)
			require.NoError(t, err)
			if tt.counts {
				assert.Equal(t, 1, n)
			} else {
				assert.Zero(t, n)
			}
		})
	}
}

func TestJoin_BanMarksAccountTerminal(t *testing.T) {
	e, s := newServices(t, services.Config{})
	a := e.ActiveAccount(t, "+100")
	e.Platform.JoinErr = func(account, target string) error {
		return platform.NewError(platform.KindBanned, "USER_DEACTIVATED_BAN")
	}

	tk := e.Task(t, models.TaskJoin, "@chan", models.TaskPayload{}, "")
	tk.AccountID = a.ID
	r := execute(t, e, s, tk)
	assert.Equal(t, models.TaskDeferred, r.State)
	assert.Equal(t, models.CodeCompromised, r.Code)
	assert.Equal(t, models.AccountBanned, e.Account(t, a.ID).Status)
	assert.Empty(t, e.LoadTask(t, tk.ID).AccountID)
}

func TestJoin_RequiresTarget(t *testing.T) {
	e, s := newServices(t, services.Config{})
	r := execute(t, e, s, e.Task(t, models.TaskJoin, "", models.TaskPayload{}, ""))
	assert.Equal(t, models.TaskFailed, r.State)
	assert.Equal(t, models.CodeInvalid, r.Code)
}
