package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies platform failures independently of the SDK.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindFloodWait
	KindNotFound
	KindPermissionDenied
	KindAlreadyParticipant
	KindInviteExpired
	KindJoinRequested
	KindBanned
	KindRevoked
	KindUnauthorized
	KindPasswordRequired
	KindCodeInvalid
	KindCodeExpired
	KindPasswordInvalid
	KindBadRequest
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindTransient:          "transient",
	KindFloodWait:          "flood_wait",
	KindNotFound:           "not_found",
	KindPermissionDenied:   "permission_denied",
	KindAlreadyParticipant: "already_participant",
	KindInviteExpired:      "invite_expired",
	KindJoinRequested:      "join_requested",
	KindBanned:             "banned",
	KindRevoked:            "revoked",
	KindUnauthorized:       "unauthorized",
	KindPasswordRequired:   "password_required",
	KindCodeInvalid:        "code_invalid",
	KindCodeExpired:        "code_expired",
	KindPasswordInvalid:    "password_invalid",
	KindBadRequest:         "bad_request",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified platform failure. Code keeps the SDK's own error
// name for diagnostics; Wait is set for KindFloodWait.
type Error struct {
	Kind Kind
	Code string
	Wait time.Duration
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Wait > 0 {
		msg += fmt.Sprintf(" wait %s", e.Wait)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func FloodWaitError(wait time.Duration) *Error {
	return &Error{Kind: KindFloodWait, Code: "FLOOD_WAIT", Wait: wait}
}

// KindOf classifies err. Context deadlines and network errors are
// transient; anything else without a *Error in its chain is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindUnknown
}

// WaitOf returns the flood wait carried by err, if any.
func WaitOf(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindFloodWait {
		return pe.Wait, true
	}
	return 0, false
}
