package proxies

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"golang.org/x/net/proxy"
)

// Dialer returns a dial function that tunnels through p.
func Dialer(p *models.Proxy, timeout time.Duration) (platform.DialFunc, error) {
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", p.Addr(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", p.ID, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// Direct returns a dial function that does not use a proxy.
func Direct(timeout time.Duration) platform.DialFunc {
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext
}

type checkFunc func(ctx context.Context, p *models.Proxy) error

func (m *Manager) check(ctx context.Context, p *models.Proxy) error {
	if m.cfg.CheckAddr == "" {
		return fmt.Errorf("no check address configured")
	}
	dial, err := Dialer(p, m.cfg.DialTimeout)
	if err != nil {
		return err
	}
	conn, err := dial(ctx, "tcp", m.cfg.CheckAddr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Dial returns the dial function for p using the manager's timeout.
func (m *Manager) Dial(p *models.Proxy) (platform.DialFunc, error) {
	if p == nil {
		return Direct(m.cfg.DialTimeout), nil
	}
	return Dialer(p, m.cfg.DialTimeout)
}
