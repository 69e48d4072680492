// Package proxies keeps the pool of SOCKS5 egress proxies and their health.
//
// The pool is an arena keyed by proxy id. Each entry has its own mutex; the
// map lock only guards membership. Health changes are written through to the
// store after the entry lock is released, and no lock is ever held while
// dialing.
package proxies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"github.com/google/uuid"
)

// Outcome is what the caller observed while using a proxy.
type Outcome int

const (
	// Neutral means the operation failed or succeeded for reasons unrelated
	// to the proxy (for example a platform permission error). Only the use
	// is recorded.
	Neutral Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "neutral"
}

// Config holds the selection and scoring parameters.
type Config struct {
	Cooldown  time.Duration
	DeadAfter int
	MaxScore  int
	Recovery  int
	// CheckAddr is dialed through a proxy by Revalidate.
	CheckAddr   string
	DialTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DeadAfter <= 0 {
		out.DeadAfter = 3
	}
	if out.MaxScore <= 0 {
		out.MaxScore = 100
	}
	if out.Recovery <= 0 {
		out.Recovery = 10
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	return out
}

// Constraints narrow one Acquire call.
type Constraints struct {
	// Preferred is taken when it is eligible, regardless of score.
	Preferred string
	// Exclude lists proxies the caller does not want, e.g. one that just failed.
	Exclude []string
}

// Repo persists proxy health.
type Repo = proxies.Repository

type entry struct {
	mu sync.Mutex
	p  models.Proxy
}

type Manager struct {
	cfg     Config
	repo    Repo
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
	dial    checkFunc

	mu      sync.RWMutex
	entries map[string]*entry

	rr atomic.Uint64
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option         { return func(m *Manager) { m.clock = c } }
func WithLogger(l logging.Logger) Option     { return func(m *Manager) { m.logger = l } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(repo Repo, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		repo:    repo,
		clock:   clock.Real(),
		logger:  logging.Nop(),
		entries: map[string]*entry{},
	}
	m.dial = m.check
	for _, o := range opts {
		o(m)
	}
	return m
}

// Load replaces the in-memory pool with the persisted proxies.
func (m *Manager) Load(ctx context.Context) error {
	list, err := m.repo.List(ctx, proxies.Filter{IncludeRetired: true})
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	entries := make(map[string]*entry, len(list))
	for _, p := range list {
		entries[p.ID] = &entry{p: *p}
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// Add validates p, persists it as a healthy proxy with a full score and
// makes it available for selection.
func (m *Manager) Add(ctx context.Context, p *models.Proxy) (*models.Proxy, error) {
	if p.Scheme == "" {
		p.Scheme = "socks5"
	}
	if !strings.EqualFold(p.Scheme, "socks5") {
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", common.ErrorValidation, p.Scheme)
	}
	if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
		return nil, fmt.Errorf("%w: proxy address %q", common.ErrorValidation, p.Addr())
	}

	np := *p
	np.ID = uuid.NewString()
	np.Scheme = "socks5"
	np.Score = m.cfg.MaxScore
	np.Status = models.ProxyHealthy
	np.Failures = 0
	np.Retired = false
	np.CreatedAt = m.clock.Now()

	if err := m.repo.Create(ctx, &np); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[np.ID] = &entry{p: np}
	m.mu.Unlock()

	m.logger.Info(ctx, "proxy added", "proxy_id", np.ID, "addr", np.Addr())
	return &np, nil
}

// List returns copies of every known proxy, retired ones included, oldest first.
func (m *Manager) List(ctx context.Context) []*models.Proxy {
	var out []*models.Proxy
	for _, e := range m.snapshot() {
		e.mu.Lock()
		p := e.p
		e.mu.Unlock()
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one proxy.
func (m *Manager) Get(id string) (*models.Proxy, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, common.ErrorNotFound
	}
	e.mu.Lock()
	p := e.p
	e.mu.Unlock()
	return &p, nil
}

// Acquire selects the eligible proxy with the highest score, with ties
// broken round-robin. The preferred proxy wins when it is eligible and
// either healthy or tied for the top score.
// A proxy is eligible when it is neither dead nor retired and was not used
// within the cooldown. ErrProxiesExhausted is returned when nothing is
// eligible; the caller is expected to defer its work.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*models.Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(c.Exclude))
	for _, id := range c.Exclude {
		excluded[id] = true
	}

	now := m.clock.Now()

	type candidate struct {
		e       *entry
		id      string
		score   int
		healthy bool
	}
	var cands []candidate
	top := 0
	for _, e := range m.snapshot() {
		e.mu.Lock()
		if !excluded[e.p.ID] && m.eligible(&e.p, now) {
			cands = append(cands, candidate{e: e, id: e.p.ID, score: e.p.Score, healthy: e.p.Status == models.ProxyHealthy})
			top = max(top, e.p.Score)
		}
		e.mu.Unlock()
	}

	for _, cand := range cands {
		if cand.id != c.Preferred || !(cand.healthy || cand.score == top) {
			continue
		}
		if p, ok := m.claim(cand.e, now); ok {
			m.persist(ctx, p)
			return p, nil
		}
	}

	for len(cands) > 0 {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].score != cands[j].score {
				return cands[i].score > cands[j].score
			}
			return cands[i].id < cands[j].id
		})
		ties := 1
		for ties < len(cands) && cands[ties].score == cands[0].score {
			ties++
		}
		pick := int(m.rr.Add(1)-1) % ties

		if p, ok := m.claim(cands[pick].e, now); ok {
			m.persist(ctx, p)
			return p, nil
		}
		// lost a race with another Acquire; drop it and retry
		cands = append(cands[:pick], cands[pick+1:]...)
	}
	return nil, common.ErrProxiesExhausted
}

// Release records the outcome of using p.
//
// Failure halves the score and counts a consecutive failure; the first
// failure demotes a healthy proxy to degraded and DeadAfter consecutive
// failures mark it dead. Success adds Recovery to the score (capped at
// MaxScore), clears the failure streak and promotes degraded to healthy.
func (m *Manager) Release(ctx context.Context, p *models.Proxy, o Outcome) {
	if p == nil {
		return
	}
	e := m.lookup(p.ID)
	if e == nil {
		return
	}
	now := m.clock.Now()

	e.mu.Lock()
	before := e.p.Status
	m.apply(&e.p, o, now)
	after := e.p
	e.mu.Unlock()

	m.persist(ctx, &after)
	m.metrics.ProxyReleased(after.ID, o.String(), after.Score)

	if before != after.Status {
		level := m.logger.Info
		if after.Status == models.ProxyDead {
			level = m.logger.Warn
		}
		level(ctx, "proxy status changed", "proxy_id", after.ID, "from", before, "to", after.Status, "score", after.Score)
	}
}

func (m *Manager) apply(p *models.Proxy, o Outcome, now time.Time) {
	p.LastUsedAt = now
	switch o {
	case Failure:
		p.Score /= 2
		p.Failures++
		p.LastFailureAt = now
		switch {
		case p.Failures >= m.cfg.DeadAfter:
			p.Status = models.ProxyDead
		case p.Status == models.ProxyHealthy:
			p.Status = models.ProxyDegraded
		}
	case Success:
		if p.Status == models.ProxyDead {
			// a dead proxy only comes back through Revalidate
			return
		}
		p.Score += m.cfg.Recovery
		if p.Score > m.cfg.MaxScore {
			p.Score = m.cfg.MaxScore
		}
		p.Failures = 0
		p.Status = models.ProxyHealthy
	}
}

// Retire removes a proxy from selection permanently.
func (m *Manager) Retire(ctx context.Context, id string) error {
	e := m.lookup(id)
	if e == nil {
		return common.ErrorNotFound
	}
	e.mu.Lock()
	e.p.Retired = true
	p := e.p
	e.mu.Unlock()

	if err := m.repo.UpdateHealth(ctx, &p); err != nil {
		return err
	}
	m.metrics.ProxyRetired(id)
	m.logger.Info(ctx, "proxy retired", "proxy_id", id)
	return nil
}

// Revalidate dials the check address through the proxy. On success the
// proxy becomes healthy again with at least Recovery score; on failure it
// stays in its current state and the dial error is returned.
func (m *Manager) Revalidate(ctx context.Context, id string) (*models.Proxy, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, common.ErrorNotFound
	}
	e.mu.Lock()
	p := e.p
	e.mu.Unlock()
	if p.Retired {
		return nil, common.ErrProxyRetired
	}

	ctx2, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	err := m.dial(ctx2, &p)
	cancel()

	now := m.clock.Now()
	e.mu.Lock()
	if err != nil {
		e.p.LastFailureAt = now
	} else {
		e.p.Status = models.ProxyHealthy
		e.p.Failures = 0
		if e.p.Score < m.cfg.Recovery {
			e.p.Score = m.cfg.Recovery
		}
	}
	after := e.p
	e.mu.Unlock()

	m.persist(ctx, &after)
	if err != nil {
		m.logger.Warn(ctx, "proxy revalidation failed", "proxy_id", id, "error", err)
		return &after, fmt.Errorf("revalidate %s: %w", id, err)
	}
	m.metrics.ProxyReleased(id, "revalidated", after.Score)
	m.logger.Info(ctx, "proxy revalidated", "proxy_id", id)
	return &after, nil
}

// claim marks e used if it is still eligible.
func (m *Manager) claim(e *entry, now time.Time) (*models.Proxy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !m.eligible(&e.p, now) {
		return nil, false
	}
	e.p.LastUsedAt = now
	p := e.p
	return &p, true
}

func (m *Manager) eligible(p *models.Proxy, now time.Time) bool {
	if !p.Selectable() {
		return false
	}
	if !p.LastUsedAt.IsZero() && now.Sub(p.LastUsedAt) < m.cfg.Cooldown {
		return false
	}
	return true
}

// persist writes p even when ctx was cancelled: releases run in defers of
// cancelled tasks.
func (m *Manager) persist(ctx context.Context, p *models.Proxy) {
	if err := m.repo.UpdateHealth(context.WithoutCancel(ctx), p); err != nil {
		m.logger.Error(ctx, "persist proxy health", "proxy_id", p.ID, "error", err)
	}
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}
