// Package auth owns the lifecycle of account sessions: enrollment,
// login (resumed or interactive), validation, flood limiting and the
// terminal ban/revocation transition.
//
// Interactive login never blocks. Authenticate sends the login code and
// returns a *ChallengeRequiredError; the operator answers later with
// SubmitChallenge, possibly after a restart, because the pending challenge
// is stored.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/pool"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/accounts"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/challenges"
	"github.com/dmitrijs2005/tgfleet/internal/engine/store"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"github.com/google/uuid"
)

// Notifier is told about accounts that reached a terminal state.
type Notifier func(ctx context.Context, a *models.Account)

type Config struct {
	ChallengeTTL time.Duration
	CallTimeout  time.Duration
	// RequireProxy makes proxy exhaustion fatal for an acquisition. When it
	// is false the connection falls back to a direct dial.
	RequireProxy bool
	// Default platform identity for enrollments that do not carry one.
	APIID   int
	APIHash string
}

type Manager struct {
	store   *store.Store
	client  platform.Client
	proxies *proxies.Manager
	pool    *pool.Pool
	cfg     Config
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
	notify  Notifier
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option         { return func(m *Manager) { m.clock = c } }
func WithLogger(l logging.Logger) Option     { return func(m *Manager) { m.logger = l } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }
func WithNotifier(n Notifier) Option         { return func(m *Manager) { m.notify = n } }

func NewManager(s *store.Store, client platform.Client, pm *proxies.Manager, p *pool.Pool, cfg Config, opts ...Option) *Manager {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 10 * time.Minute
	}
	m := &Manager{
		store:   s,
		client:  client,
		proxies: pm,
		pool:    p,
		cfg:     cfg,
		clock:   clock.Real(),
		logger:  logging.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) accounts() accounts.Repository {
	return m.store.Repos().Accounts(m.store.DB())
}

func (m *Manager) challenges() challenges.Repository {
	return m.store.Repos().Challenges(m.store.DB())
}

// EnrollRequest describes a new account. Exactly one of Phone and BotToken
// must be set.
type EnrollRequest struct {
	Label    string
	Phone    string
	BotToken string
	APIID    int
	APIHash  string
	ProxyID  string
}

// Enroll creates an unauthenticated account.
func (m *Manager) Enroll(ctx context.Context, req EnrollRequest) (*models.Account, error) {
	if (req.Phone == "") == (req.BotToken == "") {
		return nil, fmt.Errorf("%w: exactly one of phone and bot token is required", common.ErrorValidation)
	}
	if req.APIID == 0 {
		req.APIID = m.cfg.APIID
	}
	if req.APIHash == "" {
		req.APIHash = m.cfg.APIHash
	}
	if req.APIID <= 0 || req.APIHash == "" {
		return nil, fmt.Errorf("%w: api id and api hash are required", common.ErrorValidation)
	}
	if req.ProxyID != "" {
		if _, err := m.proxies.Get(req.ProxyID); err != nil {
			return nil, fmt.Errorf("proxy %s: %w", req.ProxyID, err)
		}
	}

	a := &models.Account{
		ID:      uuid.NewString(),
		Label:   req.Label,
		Phone:   req.Phone,
		APIID:   req.APIID,
		Status:  models.AccountUnauthenticated,
		ProxyID: req.ProxyID,
		Secrets: models.AccountSecrets{
			APIHash:  req.APIHash,
			BotToken: req.BotToken,
		},
		CreatedAt: m.clock.Now(),
	}
	if err := m.accounts().Create(ctx, a); err != nil {
		return nil, err
	}
	m.logger.Info(ctx, "account enrolled", "account_id", a.ID, "label", a.Label, "bot", a.IsBot())
	return a, nil
}

// Reenroll resets a banned or revoked account to unauthenticated and drops
// its session material.
func (m *Manager) Reenroll(ctx context.Context, id string) error {
	a, err := m.accounts().Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.Status.Terminal() {
		return fmt.Errorf("%w: account %s is %s", common.ErrStateConflict, id, a.Status)
	}
	secrets := a.Secrets
	secrets.Session = nil
	return dbx.WithTx(ctx, m.store.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.store.Repos().Accounts(tx)
		if err := repo.UpdateSecrets(ctx, id, secrets); err != nil {
			return err
		}
		return repo.UpdateStatus(ctx, id, models.AccountUnauthenticated, "reenrolled", time.Time{})
	})
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Account, error) {
	return m.accounts().Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, statuses ...models.AccountStatus) ([]*models.Account, error) {
	return m.accounts().List(ctx, accounts.Filter{Statuses: statuses})
}

// Acquire marks the account busy and binds a proxy to it. Terminal accounts
// yield common.ErrAccountCompromised; an account already in use yields
// common.ErrNoIdleAccount.
func (m *Manager) Acquire(ctx context.Context, id string) (*Session, error) {
	return m.AcquireIf(ctx, id, nil)
}

// AcquireIf is Acquire with a check that runs while the account is already
// marked busy, so its answer cannot be invalidated by a concurrent task on
// the same account. A rejection yields ErrNotAccepted.
func (m *Manager) AcquireIf(ctx context.Context, id string, accept func(ctx context.Context, a *models.Account) (bool, error)) (*Session, error) {
	a, err := m.accounts().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: account %s is %s", common.ErrAccountCompromised, id, a.Status)
	}
	release, ok := m.pool.TryAcquire(id)
	if !ok {
		return nil, fmt.Errorf("%w: account %s is busy", common.ErrNoIdleAccount, id)
	}
	if accept != nil {
		ok, err := accept(ctx, a)
		if err != nil {
			release()
			return nil, err
		}
		if !ok {
			release()
			return nil, ErrNotAccepted
		}
	}
	return m.bind(ctx, a, release)
}

// AcquireIdle walks the active accounts, least recently used first, and
// returns a session for the first one that is idle and passes accept.
func (m *Manager) AcquireIdle(ctx context.Context, accept func(ctx context.Context, a *models.Account) (bool, error)) (*Session, error) {
	list, err := m.accounts().List(ctx, accounts.Filter{Statuses: []models.AccountStatus{models.AccountActive}})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		release, ok := m.pool.TryAcquire(a.ID)
		if !ok {
			continue
		}
		if accept != nil {
			ok, err := accept(ctx, a)
			if err != nil {
				release()
				return nil, err
			}
			if !ok {
				release()
				continue
			}
		}
		return m.bind(ctx, a, release)
	}
	return nil, common.ErrNoIdleAccount
}

func (m *Manager) bind(ctx context.Context, a *models.Account, release func()) (*Session, error) {
	p, err := m.proxies.Acquire(ctx, proxies.Constraints{Preferred: a.ProxyID})
	if err != nil {
		if !errors.Is(err, common.ErrProxiesExhausted) || m.cfg.RequireProxy {
			release()
			return nil, err
		}
		p = nil
	}

	dial, err := m.proxies.Dial(p)
	if err != nil {
		if p != nil {
			m.proxies.Release(ctx, p, proxies.Failure)
		}
		release()
		return nil, err
	}

	if p != nil && p.ID != a.ProxyID {
		if err := m.accounts().SetProxy(ctx, a.ID, p.ID); err != nil {
			m.logger.Warn(ctx, "assign proxy", "account_id", a.ID, "proxy_id", p.ID, "error", err)
		} else {
			a.ProxyID = p.ID
		}
	}
	return &Session{Account: a, Proxy: p, m: m, dial: dial, release: release}, nil
}

// Authenticate acquires the account and makes sure it has an authorized
// session. Existing session material is resumed first; when that fails
// (or there is none) a bot logs in with its token and a user account is
// sent a login code, in which case a *ChallengeRequiredError is returned.
//
// On success the caller owns the returned Session and must Release it.
func (m *Manager) Authenticate(ctx context.Context, id string) (*Session, error) {
	sess, err := m.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	err = sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		if len(sess.Account.Secrets.Session) > 0 {
			_, err := c.Self(ctx)
			if err == nil {
				return nil
			}
			if platform.KindOf(err) != platform.KindUnauthorized {
				return err
			}
			m.logger.Info(ctx, "session resume failed, starting login", "account_id", id, "error", err)
		}
		return m.login(ctx, sess, c)
	})

	var challenge *ChallengeRequiredError
	switch {
	case err == nil:
		if err := m.activate(ctx, sess.Account); err != nil {
			sess.Release(ctx, proxies.Success)
			return nil, err
		}
		return sess, nil
	case errors.As(err, &challenge):
		sess.Release(ctx, proxies.Success)
		return nil, err
	default:
		sess.Release(ctx, ProxyOutcome(err))
		m.Escalate(ctx, sess.Account, err)
		return nil, fmt.Errorf("authenticate %s: %w", id, err)
	}
}

func (m *Manager) login(ctx context.Context, sess *Session, c platform.Conn) error {
	a := sess.Account
	if a.IsBot() {
		return c.BotLogin(ctx, a.Secrets.BotToken)
	}

	hash, err := c.SendCode(ctx, a.Phone)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	ch := &models.Challenge{
		AccountID:     a.ID,
		Stage:         models.StageCode,
		PhoneCodeHash: hash,
		ExpiresAt:     now.Add(m.cfg.ChallengeTTL),
		CreatedAt:     now,
	}
	if err := m.challenges().Put(ctx, ch); err != nil {
		return err
	}
	if err := m.setStatus(ctx, a, models.AccountAuthenticating, "awaiting code", time.Time{}); err != nil {
		return err
	}
	m.logger.Info(ctx, "login code sent", "account_id", a.ID)
	return &ChallengeRequiredError{AccountID: a.ID, Stage: models.StageCode, ExpiresAt: ch.ExpiresAt}
}

// SubmitChallenge answers the pending challenge of an account with a login
// code or, at the password stage, the second factor. A wrong value keeps
// the challenge open; an expired one is discarded. When the code is
// accepted but a password is still needed, a *ChallengeRequiredError for
// the password stage is returned.
func (m *Manager) SubmitChallenge(ctx context.Context, id, value string) error {
	ch, err := m.challenges().Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return ErrNoChallenge
		}
		return err
	}
	if !m.clock.Now().Before(ch.ExpiresAt) {
		m.dropChallenge(ctx, id, "challenge expired")
		return ErrChallengeExpired
	}

	sess, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}

	err = sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		if ch.Stage == models.StagePassword {
			return c.CheckPassword(ctx, value)
		}
		err := c.SignIn(ctx, sess.Account.Phone, value, ch.PhoneCodeHash)
		if platform.KindOf(err) != platform.KindPasswordRequired {
			return err
		}
		ch.Stage = models.StagePassword
		ch.ExpiresAt = m.clock.Now().Add(m.cfg.ChallengeTTL)
		if err := m.challenges().Put(ctx, ch); err != nil {
			return err
		}
		return &ChallengeRequiredError{AccountID: id, Stage: models.StagePassword, ExpiresAt: ch.ExpiresAt}
	})
	defer sess.Release(ctx, ProxyOutcome(err))

	var challenge *ChallengeRequiredError
	switch kind := platform.KindOf(err); {
	case err == nil:
		if err := m.challenges().Delete(ctx, id); err != nil {
			return err
		}
		return m.activate(ctx, sess.Account)
	case errors.As(err, &challenge):
		return err
	case kind == platform.KindCodeInvalid || kind == platform.KindPasswordInvalid:
		return fmt.Errorf("%w: %v", ErrChallengeRejected, err)
	case kind == platform.KindCodeExpired:
		m.dropChallenge(ctx, id, "code expired")
		return ErrChallengeExpired
	default:
		m.Escalate(ctx, sess.Account, err)
		return fmt.Errorf("submit challenge %s: %w", id, err)
	}
}

func (m *Manager) dropChallenge(ctx context.Context, id, reason string) {
	if err := m.challenges().Delete(ctx, id); err != nil {
		m.logger.Warn(ctx, "delete challenge", "account_id", id, "error", err)
	}
	a, err := m.accounts().Get(ctx, id)
	if err != nil {
		return
	}
	if a.Status == models.AccountAuthenticating {
		_ = m.setStatus(ctx, a, models.AccountUnauthenticated, reason, time.Time{})
	}
}

// Validate reports whether the session is still authorized. Bans and
// revocations observed here are escalated.
func (m *Manager) Validate(ctx context.Context, sess *Session) bool {
	err := sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
		_, err := c.Self(ctx)
		return err
	})
	if err != nil {
		m.Escalate(ctx, sess.Account, err)
		return false
	}
	return true
}

// Invalidate logs the session out and forgets its material. The account
// returns to unauthenticated.
func (m *Manager) Invalidate(ctx context.Context, sess *Session) error {
	a := sess.Account
	if len(a.Secrets.Session) > 0 {
		err := sess.Run(ctx, func(ctx context.Context, c platform.Conn) error {
			return c.LogOut(ctx)
		})
		if err != nil {
			m.logger.Warn(ctx, "logout failed, dropping session anyway", "account_id", a.ID, "error", err)
		}
	}

	secrets := a.Secrets
	secrets.Session = nil
	if err := m.accounts().UpdateSecrets(ctx, a.ID, secrets); err != nil {
		return err
	}
	a.Secrets = secrets
	if err := m.challenges().Delete(ctx, a.ID); err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	return m.setStatus(ctx, a, models.AccountUnauthenticated, "invalidated", time.Time{})
}

// MarkFloodLimited suspends automatic use of the account until until.
func (m *Manager) MarkFloodLimited(ctx context.Context, id string, until time.Time, reason string) error {
	a, err := m.accounts().Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	if a.Status == models.AccountFloodLimited && a.ResumeAt.After(until) {
		until = a.ResumeAt
	}
	if err := m.setStatus(ctx, a, models.AccountFloodLimited, reason, until); err != nil {
		return err
	}
	m.metrics.FloodWait()
	m.logger.Warn(ctx, "account flood limited", "account_id", id, "resume_at", until, "reason", reason)
	return nil
}

// MarkCompromised moves the account to banned or revoked, unpins its
// outstanding tasks so other accounts can take them, and tells operators.
func (m *Manager) MarkCompromised(ctx context.Context, id string, status models.AccountStatus, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal status", common.ErrorValidation, status)
	}
	var unpinned int64
	err := dbx.WithTx(ctx, m.store.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		repos := m.store.Repos()
		if err := repos.Accounts(tx).UpdateStatus(ctx, id, status, reason, time.Time{}); err != nil {
			return err
		}
		if err := repos.Challenges(tx).Delete(ctx, id); err != nil {
			return err
		}
		var err error
		unpinned, err = repos.Tasks(tx).Unpin(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	m.metrics.AccountCompromised(string(status))
	m.logger.Error(ctx, "account compromised", "account_id", id, "status", status, "reason", reason, "tasks_redistributed", unpinned)
	if m.notify != nil {
		if a, err := m.accounts().Get(ctx, id); err == nil {
			m.notify(ctx, a)
		}
	}
	return nil
}

// Escalate applies the account level consequence of a platform error:
// bans and revocations are terminal, a lost authorization sends the
// account back to login. It reports whether the account was affected.
func (m *Manager) Escalate(ctx context.Context, a *models.Account, err error) bool {
	var pe *platform.Error
	if !errors.As(err, &pe) {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	var ferr error
	switch pe.Kind {
	case platform.KindBanned:
		ferr = m.MarkCompromised(ctx, a.ID, models.AccountBanned, pe.Code)
	case platform.KindRevoked:
		ferr = m.MarkCompromised(ctx, a.ID, models.AccountRevoked, pe.Code)
	case platform.KindUnauthorized:
		ferr = dbx.WithTx(ctx, m.store.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := m.store.Repos().Accounts(tx).UpdateStatus(ctx, a.ID, models.AccountUnauthenticated, pe.Code, time.Time{}); err != nil {
				return err
			}
			_, err := m.store.Repos().Tasks(tx).Unpin(ctx, a.ID)
			return err
		})
		m.logger.Warn(ctx, "account session lost", "account_id", a.ID, "code", pe.Code)
	default:
		return false
	}
	if ferr != nil {
		m.logger.Error(ctx, "escalate account state", "account_id", a.ID, "error", ferr)
	}
	return true
}

// Reactivate returns flood limited accounts whose resume time has passed
// to active. It returns how many were reactivated.
func (m *Manager) Reactivate(ctx context.Context) (int, error) {
	list, err := m.accounts().List(ctx, accounts.Filter{Statuses: []models.AccountStatus{models.AccountFloodLimited}})
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	n := 0
	for _, a := range list {
		if a.ResumeAt.After(now) {
			continue
		}
		if err := m.setStatus(ctx, a, models.AccountActive, "", time.Time{}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) activate(ctx context.Context, a *models.Account) error {
	if a.Status == models.AccountActive || a.Status == models.AccountFloodLimited {
		return nil
	}
	if err := m.setStatus(ctx, a, models.AccountActive, "", time.Time{}); err != nil {
		return err
	}
	m.logger.Info(ctx, "account authenticated", "account_id", a.ID)
	return nil
}

func (m *Manager) setStatus(ctx context.Context, a *models.Account, to models.AccountStatus, reason string, resumeAt time.Time) error {
	if !canMove(a.Status, to) {
		return fmt.Errorf("%w: account %s %s -> %s", common.ErrStateConflict, a.ID, a.Status, to)
	}
	if err := m.accounts().UpdateStatus(ctx, a.ID, to, reason, resumeAt); err != nil {
		return err
	}
	a.Status, a.StatusReason, a.ResumeAt = to, reason, resumeAt
	return nil
}

// canMove guards account status changes. Terminal states are left only
// through Reenroll.
func canMove(from, to models.AccountStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case models.AccountBanned, models.AccountRevoked, models.AccountUnauthenticated:
		return true
	case models.AccountAuthenticating:
		return true
	case models.AccountActive:
		return from != models.AccountActive
	case models.AccountFloodLimited:
		return from == models.AccountActive || from == models.AccountFloodLimited
	}
	return false
}
