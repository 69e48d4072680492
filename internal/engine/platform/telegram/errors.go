package telegram

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

// rpcKinds maps RPC error types to platform kinds.
var rpcKinds = map[string]platform.Kind{
	"USERNAME_NOT_OCCUPIED":     platform.KindNotFound,
	"USERNAME_INVALID":          platform.KindNotFound,
	"CHANNEL_INVALID":           platform.KindNotFound,
	"CHANNEL_PRIVATE":           platform.KindPermissionDenied,
	"PEER_ID_INVALID":           platform.KindNotFound,
	"CHAT_ID_INVALID":           platform.KindNotFound,
	"INVITE_HASH_INVALID":       platform.KindInviteExpired,
	"INVITE_HASH_EXPIRED":       platform.KindInviteExpired,
	"INVITE_HASH_EMPTY":         platform.KindInviteExpired,
	"INVITE_REQUEST_SENT":       platform.KindJoinRequested,
	"USER_ALREADY_PARTICIPANT":  platform.KindAlreadyParticipant,
	"CHAT_WRITE_FORBIDDEN":      platform.KindPermissionDenied,
	"CHAT_ADMIN_REQUIRED":       platform.KindPermissionDenied,
	"CHAT_SEND_MEDIA_FORBIDDEN": platform.KindPermissionDenied,
	"CHAT_RESTRICTED":           platform.KindPermissionDenied,
	"USER_BANNED_IN_CHANNEL":    platform.KindPermissionDenied,
	"CHANNELS_TOO_MUCH":         platform.KindPermissionDenied,
	"USER_DEACTIVATED":          platform.KindBanned,
	"USER_DEACTIVATED_BAN":      platform.KindBanned,
	"PHONE_NUMBER_BANNED":       platform.KindBanned,
	"AUTH_KEY_UNREGISTERED":     platform.KindUnauthorized,
	"AUTH_KEY_INVALID":          platform.KindUnauthorized,
	"SESSION_EXPIRED":           platform.KindUnauthorized,
	"SESSION_REVOKED":           platform.KindRevoked,
	"AUTH_KEY_DUPLICATED":       platform.KindRevoked,
	"PHONE_CODE_INVALID":        platform.KindCodeInvalid,
	"PHONE_CODE_EMPTY":          platform.KindCodeInvalid,
	"PHONE_CODE_EXPIRED":        platform.KindCodeExpired,
	"PASSWORD_HASH_INVALID":     platform.KindPasswordInvalid,
	"SESSION_PASSWORD_NEEDED":   platform.KindPasswordRequired,
	"FILE_REFERENCE_EXPIRED":    platform.KindTransient,
	"PEER_FLOOD":                platform.KindFloodWait,
	"SLOWMODE_WAIT":             platform.KindFloodWait,
}

// mapError converts SDK failures into *platform.Error. Errors that are
// already classified, and nil, pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *platform.Error
	if errors.As(err, &pe) {
		return err
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &platform.Error{Kind: platform.KindFloodWait, Code: "FLOOD_WAIT", Wait: d, Err: err}
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return &platform.Error{Kind: platform.KindPasswordRequired, Code: "SESSION_PASSWORD_NEEDED", Err: err}
	}
	if rpc, ok := tgerr.As(err); ok {
		if kind, known := rpcKinds[rpc.Type]; known {
			pe := &platform.Error{Kind: kind, Code: rpc.Type, Err: err}
			if kind == platform.KindFloodWait && rpc.Argument > 0 {
				pe.Wait = time.Duration(rpc.Argument) * time.Second
			}
			return pe
		}
		switch {
		case rpc.Code == 401:
			return &platform.Error{Kind: platform.KindUnauthorized, Code: rpc.Type, Err: err}
		case rpc.Code == 403:
			return &platform.Error{Kind: platform.KindPermissionDenied, Code: rpc.Type, Err: err}
		case rpc.Code == 400:
			return &platform.Error{Kind: platform.KindBadRequest, Code: rpc.Type, Err: err}
		case rpc.Code >= 500 || rpc.Code == 420:
			return &platform.Error{Kind: platform.KindTransient, Code: rpc.Type, Err: err}
		}
		return &platform.Error{Kind: platform.KindUnknown, Code: rpc.Type, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &platform.Error{Kind: platform.KindTransient, Code: "TIMEOUT", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &platform.Error{Kind: platform.KindTransient, Code: "NETWORK", Err: err}
	}
	return err
}
