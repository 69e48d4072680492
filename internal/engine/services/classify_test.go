package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/services"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
	}{
		{"nil", nil, nil, models.CodeOK},
		{"flood", platform.FloodWaitError(time.Minute), common.ErrTransient, models.CodeFloodWait},
		{"transient", platform.NewError(platform.KindTransient, "RPC_CALL_FAIL"), common.ErrTransient, models.CodeTransient},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), common.ErrTransient, models.CodeTransient},
		{"cancelled", context.Canceled, common.ErrTransient, models.CodeCancelled},
		{"not found", platform.NewError(platform.KindNotFound, "USERNAME_NOT_OCCUPIED"), common.ErrNotFound, models.CodeNotFound},
		{"permission", platform.NewError(platform.KindPermissionDenied, "CHAT_WRITE_FORBIDDEN"), common.ErrPermissionDenied, models.CodePermission},
		{"member", platform.NewError(platform.KindAlreadyParticipant, "USER_ALREADY_PARTICIPANT"), common.ErrAlreadyDone, models.CodeAlreadyMember},
		{"invite", platform.NewError(platform.KindInviteExpired, "INVITE_HASH_EXPIRED"), common.ErrNotFound, models.CodeInviteExpired},
		{"requested", platform.NewError(platform.KindJoinRequested, "INVITE_REQUEST_SENT"), nil, models.CodeJoinRequested},
		{"banned", platform.NewError(platform.KindBanned, "USER_DEACTIVATED_BAN"), common.ErrAccountCompromised, models.CodeCompromised},
		{"revoked", platform.NewError(platform.KindRevoked, "SESSION_REVOKED"), common.ErrAccountCompromised, models.CodeCompromised},
		{"unauthorized", platform.NewError(platform.KindUnauthorized, "AUTH_KEY_UNREGISTERED"), common.ErrTransient, models.CodeUnauthorized},
		{"bad request", platform.NewError(platform.KindBadRequest, "MESSAGE_TOO_LONG"), common.ErrorValidation, models.CodeInvalid},
		{"corrupt", fmt.Errorf("load: %w", common.ErrStoreCorruption), common.ErrStoreCorruption, models.CodeStoreCorruption},
		{"unknown", errors.New("boom"), common.ErrTransient, models.CodeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentinel, code := services.Classify(tt.err)
			assert.Equal(t, tt.code, code)
			if tt.sentinel == nil {
				assert.NoError(t, sentinel)
			} else {
				assert.ErrorIs(t, sentinel, tt.sentinel)
			}
		})
	}
}
