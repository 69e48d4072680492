// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
)

// Sent is one message accepted by the fake.
type Sent struct {
	Account string
	Target  string
	Message platform.Message
}

// Fake is a scriptable platform.Client. Accounts are identified by phone,
// or by bot token for bots. All fields may be set before use; hooks are
// called without the lock held.
type Fake struct {
	// Code and Password are the values SignIn and CheckPassword accept.
	Code     string
	Password string
	// TwoFactor lists phones that need a password after the code.
	TwoFactor map[string]bool

	SendErr    func(account, target string) error
	JoinErr    func(account, target string) error
	HistoryErr func(target, offset string, call int) error
	SelfErr    func(account string) error

	// Delay is applied to every send/join/history call.
	Delay time.Duration

	mu           sync.Mutex
	sent         []Sent
	joined       map[string][]string
	history      map[string][]platform.Item
	media        map[string][]byte
	historyCalls int
	downloads    int
	runs         int
	endpoints    []platform.Endpoint
	inflight     map[string]int
	maxInflight  int
}

func New() *Fake {
	return &Fake{
		Code:      "12345",
		TwoFactor: map[string]bool{},
		joined:    map[string][]string{},
		history:   map[string][]platform.Item{},
		media:     map[string][]byte{},
		inflight:  map[string]int{},
	}
}

// SessionFor is the session material the fake issues to an account.
func SessionFor(account string) []byte {
	return []byte("session:" + account)
}

// AddHistory appends items to target. Item IDs must be numeric.
func (f *Fake) AddHistory(target string, items ...platform.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[target] = append(f.history[target], items...)
	sort.Slice(f.history[target], func(i, j int) bool {
		return itemNum(f.history[target][i]) > itemNum(f.history[target][j])
	})
}

// AddMedia registers downloadable bytes for a media ID.
func (f *Fake) AddMedia(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[id] = data
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

func (f *Fake) Joined(account string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined[account]...)
}

func (f *Fake) HistoryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

func (f *Fake) Downloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

func (f *Fake) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *Fake) Endpoints() []platform.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Endpoint(nil), f.endpoints...)
}

// MaxInflight is the highest number of concurrent connections observed for
// any single account.
func (f *Fake) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

func (f *Fake) Run(ctx context.Context, ep platform.Endpoint, fn func(ctx context.Context, c platform.Conn) error) error {
	account := ep.Credentials.Phone
	if ep.Credentials.BotToken != "" {
		account = ep.Credentials.BotToken
	}

	f.mu.Lock()
	f.runs++
	f.endpoints = append(f.endpoints, ep)
	f.inflight[account]++
	if f.inflight[account] > f.maxInflight {
		f.maxInflight = f.inflight[account]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[account]--
		f.mu.Unlock()
	}()

	return fn(ctx, &conn{f: f, ep: ep, account: account})
}

type conn struct {
	f       *Fake
	ep      platform.Endpoint
	account string
}

func (c *conn) wait(ctx context.Context) error {
	if c.f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.f.Delay):
		return nil
	}
}

func (c *conn) authorized(ctx context.Context) error {
	data, err := c.ep.Session.Load(ctx)
	if err != nil {
		return err
	}
	if string(data) != string(SessionFor(c.account)) {
		return platform.NewError(platform.KindUnauthorized, "AUTH_KEY_UNREGISTERED")
	}
	return nil
}

func (c *conn) SendCode(ctx context.Context, phone string) (string, error) {
	return "hash-" + phone, nil
}

func (c *conn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if codeHash != "hash-"+phone {
		return platform.NewError(platform.KindCodeExpired, "PHONE_CODE_EXPIRED")
	}
	if code != c.f.Code {
		return platform.NewError(platform.KindCodeInvalid, "PHONE_CODE_INVALID")
	}
	if c.f.TwoFactor[phone] {
		return platform.NewError(platform.KindPasswordRequired, "SESSION_PASSWORD_NEEDED")
	}
	return c.ep.Session.Store(ctx, SessionFor(c.account))
}

func (c *conn) CheckPassword(ctx context.Context, password string) error {
	if password != c.f.Password {
		return platform.NewError(platform.KindPasswordInvalid, "PASSWORD_HASH_INVALID")
	}
	return c.ep.Session.Store(ctx, SessionFor(c.account))
}

func (c *conn) BotLogin(ctx context.Context, token string) error {
	return c.ep.Session.Store(ctx, SessionFor(c.account))
}

func (c *conn) Self(ctx context.Context) (*platform.User, error) {
	if c.f.SelfErr != nil {
		if err := c.f.SelfErr(c.account); err != nil {
			return nil, err
		}
	}
	if err := c.authorized(ctx); err != nil {
		return nil, err
	}
	return &platform.User{ID: 1, Username: "u_" + c.account, Phone: c.ep.Credentials.Phone, Bot: c.ep.Credentials.BotToken != ""}, nil
}

func (c *conn) LogOut(ctx context.Context) error {
	return c.ep.Session.Store(ctx, nil)
}

func (c *conn) SendMessage(ctx context.Context, target string, msg platform.Message) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.authorized(ctx); err != nil {
		return err
	}
	if c.f.SendErr != nil {
		if err := c.f.SendErr(c.account, target); err != nil {
			return err
		}
	}
	c.f.mu.Lock()
	c.f.sent = append(c.f.sent, Sent{Account: c.account, Target: target, Message: msg})
	c.f.mu.Unlock()
	return nil
}

func (c *conn) Join(ctx context.Context, target string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.authorized(ctx); err != nil {
		return err
	}
	if c.f.JoinErr != nil {
		if err := c.f.JoinErr(c.account, target); err != nil {
			return err
		}
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	for _, t := range c.f.joined[c.account] {
		if t == target {
			return platform.NewError(platform.KindAlreadyParticipant, "USER_ALREADY_PARTICIPANT")
		}
	}
	c.f.joined[c.account] = append(c.f.joined[c.account], target)
	return nil
}

func (c *conn) History(ctx context.Context, target, offset string, limit int) (*platform.Page, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if err := c.authorized(ctx); err != nil {
		return nil, err
	}

	c.f.mu.Lock()
	c.f.historyCalls++
	call := c.f.historyCalls
	items, ok := c.f.history[target]
	c.f.mu.Unlock()

	if c.f.HistoryErr != nil {
		if err := c.f.HistoryErr(target, offset, call); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, platform.NewError(platform.KindNotFound, "CHANNEL_INVALID")
	}

	var below int64 = 1<<63 - 1
	if offset != "" {
		n, err := strconv.ParseInt(offset, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q", offset)
		}
		below = n
	}

	page := &platform.Page{}
	for _, it := range items {
		if itemNum(it) >= below {
			continue
		}
		if len(page.Items) == limit {
			break
		}
		page.Items = append(page.Items, it)
	}
	if len(page.Items) < limit {
		page.Done = true
	}
	if n := len(page.Items); n > 0 {
		page.Next = page.Items[n-1].ID
	} else {
		page.Done = true
	}
	return page, nil
}

func (c *conn) Download(ctx context.Context, m *platform.Media, w io.Writer) error {
	c.f.mu.Lock()
	data, ok := c.f.media[m.ID]
	c.f.downloads++
	c.f.mu.Unlock()
	if !ok {
		return platform.NewError(platform.KindNotFound, "FILE_REFERENCE_EXPIRED")
	}
	_, err := w.Write(data)
	return err
}

func itemNum(it platform.Item) int64 {
	n, _ := strconv.ParseInt(it.ID, 10, 64)
	return n
}
