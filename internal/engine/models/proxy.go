package models

import (
	"net"
	"strconv"
	"time"
)

type ProxyStatus string

const (
	ProxyHealthy  ProxyStatus = "healthy"
	ProxyDegraded ProxyStatus = "degraded"
	ProxyDead     ProxyStatus = "dead"
)

// Proxy is a SOCKS5 egress path. Password is sealed at rest.
type Proxy struct {
	ID            string
	Scheme        string
	Host          string
	Port          int
	Username      string
	Password      string
	Score         int
	Status        ProxyStatus
	Failures      int
	LastFailureAt time.Time
	LastUsedAt    time.Time
	Retired       bool
	KeyVersion    uint32
	CreatedAt     time.Time
}

func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Selectable reports whether the proxy may be handed out at all,
// ignoring cooldown.
func (p *Proxy) Selectable() bool {
	return !p.Retired && p.Status != ProxyDead
}
