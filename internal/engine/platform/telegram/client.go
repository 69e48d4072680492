// Package telegram implements platform.Client on top of the gotd/td MTProto
// client.
package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"

	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

// Client opens one MTProto connection per Run.
type Client struct {
	dialTimeout time.Duration
}

func NewClient(dialTimeout time.Duration) *Client {
	return &Client{dialTimeout: dialTimeout}
}

func (c *Client) Run(ctx context.Context, ep platform.Endpoint, fn func(ctx context.Context, conn platform.Conn) error) error {
	opts := telegram.Options{
		SessionStorage: &sessionStorage{s: ep.Session},
		NoUpdates:      true,
		DialTimeout:    c.dialTimeout,
	}
	if ep.Dial != nil {
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dcs.DialFunc(ep.Dial)})
	}

	client := telegram.NewClient(ep.Credentials.APIID, ep.Credentials.APIHash, opts)
	err := client.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, newConn(client))
	})
	return mapError(err)
}

// sessionStorage adapts platform.SessionStorage to gotd's session.Storage.
type sessionStorage struct {
	s platform.SessionStorage
}

func (s *sessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s *sessionStorage) StoreSession(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty session")
	}
	return s.s.Store(ctx, data)
}
