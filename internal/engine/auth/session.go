package auth

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
)

// Session binds one account to one proxy for the duration of a task. The
// account is marked busy until Release is called.
type Session struct {
	Account *models.Account
	// Proxy is nil when the connection is made directly.
	Proxy *models.Proxy

	m       *Manager
	dial    platform.DialFunc
	release func()
	once    sync.Once
	mu      sync.Mutex
}

// Run opens a platform connection for the session and calls fn with it.
// Every call made through the connection is paced per account and bounded
// by the call timeout.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context, c platform.Conn) error) error {
	s.mu.Lock()
	creds := platform.Credentials{
		APIID:    s.Account.APIID,
		APIHash:  s.Account.Secrets.APIHash,
		Phone:    s.Account.Phone,
		BotToken: s.Account.Secrets.BotToken,
	}
	s.mu.Unlock()

	ep := platform.Endpoint{
		Credentials: creds,
		Session:     &sessionStorage{s: s},
		Dial:        s.dial,
	}
	return s.m.client.Run(ctx, ep, func(ctx context.Context, c platform.Conn) error {
		return fn(ctx, &pacedConn{
			Conn:    c,
			wait:    func(ctx context.Context) error { return s.m.pool.Wait(ctx, s.Account.ID) },
			timeout: s.m.cfg.CallTimeout,
		})
	})
}

// Release returns the proxy with outcome o, records the account's last use
// and clears its busy flag. Only the first call has an effect.
func (s *Session) Release(ctx context.Context, o proxies.Outcome) {
	s.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		if s.Proxy != nil {
			s.m.proxies.Release(ctx, s.Proxy, o)
		}
		now := s.m.clock.Now()
		if err := s.m.accounts().Touch(ctx, s.Account.ID, now); err != nil {
			s.m.logger.Warn(ctx, "touch account", "account_id", s.Account.ID, "error", err)
		}
		s.Account.LastUsedAt = now
		s.release()
	})
}

// ProxyOutcome maps the error of a platform call to a proxy outcome. A
// platform response of any kind proves the proxy works; only network level
// failures count against it.
func ProxyOutcome(err error) proxies.Outcome {
	if err == nil {
		return proxies.Success
	}
	var pe *platform.Error
	if errors.As(err, &pe) {
		return proxies.Neutral
	}
	if errors.Is(err, context.Canceled) {
		return proxies.Neutral
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return proxies.Failure
	}
	return proxies.Neutral
}

// sessionStorage hands the SDK the account's session material and writes
// new material to the store as soon as the SDK produces it.
type sessionStorage struct {
	s *Session
}

func (st *sessionStorage) Load(ctx context.Context) ([]byte, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if len(st.s.Account.Secrets.Session) == 0 {
		return nil, nil
	}
	return append([]byte(nil), st.s.Account.Secrets.Session...), nil
}

func (st *sessionStorage) Store(ctx context.Context, data []byte) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	secrets := st.s.Account.Secrets
	secrets.Session = append([]byte(nil), data...)
	if len(data) == 0 {
		secrets.Session = nil
	}
	if err := st.s.m.accounts().UpdateSecrets(context.WithoutCancel(ctx), st.s.Account.ID, secrets); err != nil {
		return err
	}
	st.s.Account.Secrets = secrets
	return nil
}

type pacedConn struct {
	platform.Conn
	wait    func(ctx context.Context) error
	timeout time.Duration
}

func (c *pacedConn) call(ctx context.Context, paced bool, fn func(ctx context.Context) error) error {
	if paced {
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (c *pacedConn) SendCode(ctx context.Context, phone string) (hash string, err error) {
	err = c.call(ctx, true, func(ctx context.Context) error {
		hash, err = c.Conn.SendCode(ctx, phone)
		return err
	})
	return hash, err
}

func (c *pacedConn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	return c.call(ctx, true, func(ctx context.Context) error {
		return c.Conn.SignIn(ctx, phone, code, codeHash)
	})
}

func (c *pacedConn) CheckPassword(ctx context.Context, password string) error {
	return c.call(ctx, true, func(ctx context.Context) error {
		return c.Conn.CheckPassword(ctx, password)
	})
}

func (c *pacedConn) BotLogin(ctx context.Context, token string) error {
	return c.call(ctx, true, func(ctx context.Context) error {
		return c.Conn.BotLogin(ctx, token)
	})
}

func (c *pacedConn) Self(ctx context.Context) (u *platform.User, err error) {
	err = c.call(ctx, false, func(ctx context.Context) error {
		u, err = c.Conn.Self(ctx)
		return err
	})
	return u, err
}

func (c *pacedConn) LogOut(ctx context.Context) error {
	return c.call(ctx, false, c.Conn.LogOut)
}

func (c *pacedConn) SendMessage(ctx context.Context, target string, msg platform.Message) error {
	return c.call(ctx, true, func(ctx context.Context) error {
		return c.Conn.SendMessage(ctx, target, msg)
	})
}

func (c *pacedConn) Join(ctx context.Context, target string) error {
	return c.call(ctx, true, func(ctx context.Context) error {
		return c.Conn.Join(ctx, target)
	})
}

func (c *pacedConn) History(ctx context.Context, target, offset string, limit int) (p *platform.Page, err error) {
	err = c.call(ctx, true, func(ctx context.Context) error {
		p, err = c.Conn.History(ctx, target, offset, limit)
		return err
	})
	return p, err
}

func (c *pacedConn) Download(ctx context.Context, m *platform.Media, w io.Writer) error {
	return c.call(ctx, false, func(ctx context.Context) error {
		return c.Conn.Download(ctx, m, w)
	})
}
