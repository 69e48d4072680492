// Package pool tracks which accounts are in use and paces calls made
// through each of them.
//
// Slots are kept in an arena keyed by account id. A slot is created on first
// use and has its own lock, so claiming one account never waits on another.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type slot struct {
	mu      sync.Mutex
	busy    bool
	limiter *rate.Limiter
}

type Pool struct {
	limit rate.Limit

	mu    sync.Mutex
	slots map[string]*slot
}

// New returns a Pool that allows one platform call per account every
// spacing. A zero spacing disables pacing.
func New(spacing time.Duration) *Pool {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Pool{limit: limit, slots: map[string]*slot{}}
}

func (p *Pool) slot(id string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[id]
	if !ok {
		s = &slot{limiter: rate.NewLimiter(p.limit, 1)}
		p.slots[id] = s
	}
	return s
}

// TryAcquire marks the account busy. It reports false when the account is
// already held. The returned release func is safe to call more than once.
func (p *Pool) TryAcquire(id string) (release func(), ok bool) {
	s := p.slot(id)
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, false
	}
	s.busy = true
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		})
	}, true
}

func (p *Pool) Busy(id string) bool {
	s := p.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Wait blocks until the account may make another platform call.
func (p *Pool) Wait(ctx context.Context, id string) error {
	return p.slot(id).limiter.Wait(ctx)
}

// BusyCount returns the number of accounts currently held.
func (p *Pool) BusyCount() int {
	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.busy {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
