package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", NewError(KindNotFound, "USERNAME_NOT_OCCUPIED"))

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, KindUnknown, KindOf(errors.New("weird")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWaitOf(t *testing.T) {
	d, ok := WaitOf(fmt.Errorf("x: %w", FloodWaitError(30*time.Second)))
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = WaitOf(NewError(KindBanned, "USER_DEACTIVATED_BAN"))
	assert.False(t, ok)
}

func TestError_Message(t *testing.T) {
	e := &Error{Kind: KindFloodWait, Code: "FLOOD_WAIT", Wait: time.Minute, Err: errors.New("rpc")}
	assert.Equal(t, "flood_wait (FLOOD_WAIT) wait 1m0s: rpc", e.Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
