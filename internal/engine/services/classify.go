package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

// Classify maps an error from a platform call onto the task outcome
// taxonomy. It returns the sentinel from internal/common (nil when the
// error is an accepted outcome, such as a join request awaiting approval)
// and the result code recorded on the task.
func Classify(err error) (error, string) {
	if err == nil {
		return nil, models.CodeOK
	}
	if errors.Is(err, common.ErrStoreCorruption) {
		return common.ErrStoreCorruption, models.CodeStoreCorruption
	}
	if errors.Is(err, context.Canceled) {
		return common.ErrTransient, models.CodeCancelled
	}

	switch platform.KindOf(err) {
	case platform.KindFloodWait:
		return common.ErrTransient, models.CodeFloodWait
	case platform.KindTransient:
		return common.ErrTransient, models.CodeTransient
	case platform.KindNotFound:
		return common.ErrNotFound, models.CodeNotFound
	case platform.KindPermissionDenied:
		return common.ErrPermissionDenied, models.CodePermission
	case platform.KindAlreadyParticipant:
		return common.ErrAlreadyDone, models.CodeAlreadyMember
	case platform.KindInviteExpired:
		return common.ErrNotFound, models.CodeInviteExpired
	case platform.KindJoinRequested:
		return nil, models.CodeJoinRequested
	case platform.KindBadRequest:
		return common.ErrorValidation, models.CodeInvalid
	case platform.KindBanned, platform.KindRevoked:
		return common.ErrAccountCompromised, models.CodeCompromised
	case platform.KindUnauthorized, platform.KindPasswordRequired,
		platform.KindCodeInvalid, platform.KindCodeExpired, platform.KindPasswordInvalid:
		return common.ErrTransient, models.CodeUnauthorized
	}
	// Unknown failures are retried; the attempt limit bounds them.
	return common.ErrTransient, models.CodeTransient
}
