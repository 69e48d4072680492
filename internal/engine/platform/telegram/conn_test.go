package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

func TestTargetParsing(t *testing.T) {
	tests := []struct {
		in       string
		invite   string
		isInvite bool
		user     string
	}{
		{"@durov", "", false, "durov"},
		{"durov", "", false, "durov"},
		{"https://t.me/durov", "", false, "durov"},
		{"t.me/durov/15", "", false, "durov"},
		{"https://t.me/+AbCdEf", "AbCdEf", true, "+AbCdEf"},
		{"https://t.me/joinchat/XyZ", "XyZ", true, "joinchat"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, ok := inviteHash(tt.in)
			assert.Equal(t, tt.isInvite, ok)
			assert.Equal(t, tt.invite, h)
			assert.Equal(t, tt.user, username(tt.in))
		})
	}

	assert.Equal(t, "@chan", normalizeTarget("chan"))
	assert.Equal(t, "@chan", normalizeTarget("@chan"))
	assert.Equal(t, "https://t.me/chan", normalizeTarget("https://t.me/chan"))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind platform.Kind
		wait time.Duration
	}{
		{"flood", tgerr.New(420, "FLOOD_WAIT_30"), platform.KindFloodWait, 30 * time.Second},
		{"password", fmt.Errorf("sign in: %w", auth.ErrPasswordAuthNeeded), platform.KindPasswordRequired, 0},
		{"already member", tgerr.New(400, "USER_ALREADY_PARTICIPANT"), platform.KindAlreadyParticipant, 0},
		{"invite expired", tgerr.New(400, "INVITE_HASH_EXPIRED"), platform.KindInviteExpired, 0},
		{"banned", tgerr.New(401, "USER_DEACTIVATED_BAN"), platform.KindBanned, 0},
		{"revoked", tgerr.New(401, "SESSION_REVOKED"), platform.KindRevoked, 0},
		{"other 401", tgerr.New(401, "SOMETHING_NEW"), platform.KindUnauthorized, 0},
		{"write forbidden", tgerr.New(403, "CHAT_WRITE_FORBIDDEN"), platform.KindPermissionDenied, 0},
		{"peer flood", tgerr.New(400, "PEER_FLOOD"), platform.KindFloodWait, 0},
		{"slow mode", tgerr.New(400, "SLOWMODE_WAIT_15"), platform.KindFloodWait, 15 * time.Second},
		{"unknown peer", tgerr.New(400, "USERNAME_NOT_OCCUPIED"), platform.KindNotFound, 0},
		{"message too long", tgerr.New(400, "MESSAGE_TOO_LONG"), platform.KindBadRequest, 0},
		{"server", tgerr.New(500, "INTERNAL"), platform.KindTransient, 0},
		{"deadline", context.DeadlineExceeded, platform.KindTransient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.kind, platform.KindOf(err))
			if tt.wait > 0 {
				d, ok := platform.WaitOf(err)
				assert.True(t, ok)
				assert.Equal(t, tt.wait, d)
			}
		})
	}

	assert.NoError(t, mapError(nil))
	plain := errors.New("plain")
	assert.Same(t, plain, mapError(plain))
}

func TestMediaOf(t *testing.T) {
	photo := &tg.Message{ID: 7, Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{
		ID: 11, AccessHash: 22, Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "m", W: 320, H: 320},
			&tg.PhotoSize{Type: "y", W: 1280, H: 1280},
		},
	}}}
	m := mediaOf(photo)
	require.NotNil(t, m)
	assert.Equal(t, "11", m.ID)
	assert.Equal(t, ".jpg", m.Ext)
	loc, ok := m.Ref.(*tg.InputPhotoFileLocation)
	require.True(t, ok)
	assert.Equal(t, "y", loc.ThumbSize)

	doc := &tg.Message{ID: 8, Media: &tg.MessageMediaDocument{Document: &tg.Document{ID: 5, MimeType: "video/mp4", Size: 99}}}
	m = mediaOf(doc)
	require.NotNil(t, m)
	assert.Equal(t, ".mp4", m.Ext)
	assert.Equal(t, int64(99), m.Size)

	assert.Nil(t, mediaOf(&tg.Message{ID: 9}))
}
