package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateRefreshing
	// StateExpired follows a forced logout. Login leaves it.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reasons carried by ForcedLogout.
const (
	ReasonRefreshFailed      = "refresh_failed"
	ReasonSessionEnded       = "session_ended"
	ReasonRefreshExpired     = "refresh_token_expired"
	ReasonSignedOutElsewhere = "signed_out_elsewhere"
)

var (
	ErrNotAuthenticated = errors.New("authsdk: not authenticated")
	ErrRefreshThrottled = errors.New("authsdk: refresh attempted too soon")
)

// ForcedLogout tells the application the session ended without the user
// asking. ReturnTo is the destination recorded with SetDestination, so the
// login screen can send the user back.
type ForcedLogout struct {
	Reason   string
	ReturnTo string
	Err      error
}

// ManagerConfig configures a Manager. Only Client is required.
type ManagerConfig struct {
	Client *SDKClient

	// Durable holds remember-me sessions, Ephemeral the rest. Ephemeral
	// defaults to a new MemoryBackend; Durable defaults to Ephemeral.
	Durable   Backend
	Ephemeral Backend
	Namespace string

	Clock Clock

	// RefreshMargin is how long before access expiry the refresh runs. It is
	// capped at half the token lifetime. Default 5m.
	RefreshMargin time.Duration
	Retry         RetryPolicy

	// ActivityInterval throttles activity pings to the server. Default 30s.
	ActivityInterval time.Duration

	// RefreshLockTTL bounds how long one instance may hold the shared
	// refresh lease. Default 15s.
	RefreshLockTTL time.Duration

	OnLogout func(ForcedLogout)
	Logger   *slog.Logger
}

// Manager keeps one signed-in session alive on the client: it persists the
// token pair, refreshes ahead of expiry, retries with bounded backoff and
// follows changes made by other Managers sharing the same storage.
//
// All methods are safe for concurrent use.
type Manager struct {
	client        *SDKClient
	clock         Clock
	durable       *Vault
	ephemeral     *Vault
	vaults        []*Vault
	margin        time.Duration
	activityEvery time.Duration
	lockTTL       time.Duration
	retry         RetryPolicy
	onLogout      func(ForcedLogout)
	logger        *slog.Logger
	instanceID    string

	mu          sync.Mutex
	state       State
	session     StoredSession
	vault       *Vault // holds session; nil while signed out
	timer       Timer
	gen         uint64
	backoff     backoff.BackOff
	limiter     *rate.Limiter
	destination string
	lastPing    time.Time
	inflight    *refreshCall

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// refreshCall is one refresh in flight. Concurrent manual refreshes wait on
// done instead of presenting the same refresh token again.
type refreshCall struct {
	done chan struct{}
	err  error
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("authsdk: ManagerConfig.Client is required")
	}
	if cfg.Ephemeral == nil {
		cfg.Ephemeral = NewMemoryBackend()
	}
	if cfg.Durable == nil {
		cfg.Durable = cfg.Ephemeral
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = 5 * time.Minute
	}
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = 30 * time.Second
	}
	if cfg.RefreshLockTTL <= 0 {
		cfg.RefreshLockTTL = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	instanceID := uuid.NewString()
	client := *cfg.Client
	client.InstanceID = instanceID

	m := &Manager{
		client:        &client,
		clock:         cfg.Clock,
		margin:        cfg.RefreshMargin,
		activityEvery: cfg.ActivityInterval,
		lockTTL:       cfg.RefreshLockTTL,
		retry:         cfg.Retry.withDefaults(),
		onLogout:      cfg.OnLogout,
		logger:        cfg.Logger.With("component", "authsdk", "instance", instanceID),
		instanceID:    instanceID,
	}
	m.limiter = m.retry.newLimiter()

	m.durable = NewVault(cfg.Durable, cfg.Namespace)
	m.vaults = []*Vault{m.durable}
	if cfg.Ephemeral == cfg.Durable {
		m.ephemeral = m.durable
	} else {
		m.ephemeral = NewVault(cfg.Ephemeral, cfg.Namespace)
		m.vaults = append(m.vaults, m.ephemeral)
	}

	return m, nil
}

// InstanceID identifies this Manager in X-Client-Instance.
func (m *Manager) InstanceID() string { return m.instanceID }

// Start restores a persisted session, if any, and begins following the
// storage for changes made by other instances. It does not block.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	now := m.clock.Now()
	for _, v := range m.vaults {
		s, ok, err := v.Load()
		if err != nil {
			m.logger.Warn("could not read stored session", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if !now.Before(s.RefreshExpiresAt) {
			_ = v.Clear()
			continue
		}
		m.applyLocked(v, s)
		m.logger.Debug("session restored", "sid", s.SessionID, "remember_me", s.RememberMe)
		break
	}
	m.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	for _, v := range m.vaults {
		ch, err := v.Watch(watchCtx)
		if err != nil {
			cancel()
			m.wg.Wait()
			return err
		}
		m.wg.Add(1)
		go func(v *Vault) {
			defer m.wg.Done()
			for range ch {
				m.sync(v)
			}
		}(v)
	}

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	return nil
}

// Close stops the refresh timer and storage watchers. The persisted session
// is kept.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopTimerLocked()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Login signs in and persists the session. rememberMe selects durable
// storage and the longer server-side lifetimes.
func (m *Manager) Login(ctx context.Context, email, password string, rememberMe bool) (UserInfo, error) {
	resp, err := m.client.Login(ctx, LoginRequest{Email: email, Password: password, RememberMe: rememberMe})
	if err != nil {
		return UserInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s := newStoredSession(resp, rememberMe, now)

	v := m.ephemeral
	if rememberMe {
		v = m.durable
	}
	for _, other := range m.vaults {
		if other != v {
			_ = other.Clear()
		}
	}
	if err := v.Save(s); err != nil {
		m.logger.Warn("could not persist session; it will not survive a restart", "error", err)
	}

	m.applyLocked(v, s)
	m.lastPing = now
	m.logger.Info("signed in", "user_id", s.User.ID, "sid", s.SessionID, "remember_me", rememberMe)
	return s.User, nil
}

// Logout ends the session locally and on the server. Local state is cleared
// even if the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if !m.signedInLocked() {
		m.mu.Unlock()
		return nil
	}
	token := m.session.AccessToken
	m.signOutLocked(StateAnonymous)
	m.mu.Unlock()

	if err := m.client.Logout(ctx, token); err != nil && !IsSessionTerminal(err) {
		return err
	}
	return nil
}

// Refresh rotates the token pair now. Calls closer together than
// RetryPolicy.MinSpacing fail with ErrRefreshThrottled. A call made while a
// refresh is in flight waits for that refresh and returns its result.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresh(ctx, true)
}

// IsAuthenticated reports whether a non-expired access token is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signedInLocked() && m.clock.Now().Before(m.session.AccessExpiresAt)
}

// CurrentToken returns the access token for an Authorization header.
func (m *Manager) CurrentToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.signedInLocked() || !m.clock.Now().Before(m.session.AccessExpiresAt) {
		return "", false
	}
	return m.session.AccessToken, true
}

func (m *Manager) User() (UserInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.signedInLocked() {
		return UserInfo{}, false
	}
	return m.session.User, true
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.SessionID
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetDestination records where the user was heading, returned as
// ForcedLogout.ReturnTo.
func (m *Manager) SetDestination(path string) {
	m.mu.Lock()
	m.destination = path
	m.mu.Unlock()
}

// RecordActivity stores the activity time locally and pings the server at
// most once per ActivityInterval. The ping never extends the session.
func (m *Manager) RecordActivity(ctx context.Context) error {
	m.mu.Lock()
	if !m.signedInLocked() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	now := m.clock.Now()
	if err := m.vault.SetLastActivity(now); err != nil {
		m.logger.Debug("could not store activity", "error", err)
	}
	if now.Sub(m.lastPing) < m.activityEvery {
		m.mu.Unlock()
		return nil
	}
	m.lastPing = now
	token := m.session.AccessToken
	m.mu.Unlock()

	err := m.client.Activity(ctx, token)
	if errors.Is(err, ErrSessionRevoked) {
		m.mu.Lock()
		var ev *ForcedLogout
		if m.session.AccessToken == token {
			ev = m.forceLogoutLocked(ReasonSessionEnded, err)
		}
		m.mu.Unlock()
		m.emit(ev)
	}
	return err
}

// LastActivity returns the last recorded activity of this session.
func (m *Manager) LastActivity() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vault == nil {
		return time.Time{}, false
	}
	return m.vault.LastActivity()
}

func (m *Manager) refresh(ctx context.Context, manual bool) error {
	m.mu.Lock()
	if !m.signedInLocked() {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}

	if call := m.inflight; call != nil {
		m.mu.Unlock()
		if !manual {
			return nil
		}
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	now := m.clock.Now()
	v := m.vault

	if !now.Before(m.session.RefreshExpiresAt) {
		ev := m.forceLogoutLocked(ReasonRefreshExpired, nil)
		m.mu.Unlock()
		m.emit(ev)
		return ErrNotAuthenticated
	}

	// Another instance may already have rotated.
	if s, ok := m.newerLocked(v, now); ok {
		m.adoptLocked(v, s)
		m.mu.Unlock()
		return nil
	}

	if !m.limiter.AllowN(now, 1) {
		if manual {
			m.mu.Unlock()
			return ErrRefreshThrottled
		}
		m.scheduleLocked(m.retry.MinSpacing)
		m.mu.Unlock()
		return nil
	}

	locked, err := v.AcquireRefreshLock(m.instanceID, now, m.lockTTL)
	if err != nil {
		m.logger.Warn("refresh lock unavailable, refreshing anyway", "error", err)
	} else if !locked {
		// The holder's result arrives through the storage watch.
		m.scheduleLocked(m.lockTTL)
		m.mu.Unlock()
		return nil
	}

	m.state = StateRefreshing
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	token := m.session.RefreshToken
	remember := m.session.RememberMe
	m.mu.Unlock()

	resp, err := m.client.Refresh(ctx, token)

	m.mu.Lock()
	ev, result := m.finishRefreshLocked(v, token, remember, resp, err)
	call.err = result
	if m.inflight == call {
		m.inflight = nil
	}
	close(call.done)
	m.mu.Unlock()

	_ = v.ReleaseRefreshLock(m.instanceID)
	m.emit(ev)
	return result
}

// finishRefreshLocked applies the outcome of a refresh call for token.
func (m *Manager) finishRefreshLocked(v *Vault, token string, remember bool, resp *TokenResponse, err error) (*ForcedLogout, error) {
	if m.state != StateRefreshing || m.session.RefreshToken != token {
		// Logged out or adopted while the call was in flight.
		return nil, nil
	}

	now := m.clock.Now()
	switch {
	case err == nil:
		s := newStoredSession(resp, remember, now)
		if err := v.Save(s); err != nil {
			m.logger.Warn("could not persist refreshed session", "error", err)
		}
		m.applyLocked(v, s)
		return nil, nil

	case IsSessionTerminal(err):
		if s, ok := m.newerLocked(v, now); ok {
			m.adoptLocked(v, s)
			return nil, nil
		}
		return m.forceLogoutLocked(ReasonSessionEnded, err), err

	default:
		if m.backoff == nil {
			m.backoff = m.retry.newBackOff(m.clock)
		}
		next := m.backoff.NextBackOff()
		if next == backoff.Stop {
			return m.forceLogoutLocked(ReasonRefreshFailed, err), err
		}

		if now.Before(m.session.AccessExpiresAt) {
			m.state = StateAuthenticated
		}
		m.scheduleLocked(next)
		m.logger.Warn("refresh failed, will retry", "retry_in", next, "error", err)
		return nil, err
	}
}

// sync reacts to a change of v made by any writer.
func (m *Manager) sync(v *Vault) {
	m.mu.Lock()
	now := m.clock.Now()
	var ev *ForcedLogout

	s, ok, err := v.Load()
	switch {
	case err != nil:
		m.logger.Debug("could not read stored session", "error", err)

	case ok:
		if s.RefreshToken != m.session.RefreshToken && now.Before(s.RefreshExpiresAt) {
			m.adoptLocked(v, s)
		}

	case m.vault == v && m.signedInLocked():
		if at, marked := v.SignedOutAt(); marked && !at.Before(m.session.IssuedAt.Truncate(time.Millisecond)) {
			m.stopTimerLocked()
			m.resetLocked(StateAnonymous)
			ev = &ForcedLogout{Reason: ReasonSignedOutElsewhere, ReturnTo: m.destination}
			m.logger.Info("signed out by another instance")
			break
		}
		// Our keys were removed by something other than a sign-out.
		m.logger.Warn("session keys removed externally, restoring")
		if err := v.Save(m.session); err != nil {
			m.logger.Warn("could not restore session keys", "error", err)
		}
	}

	m.mu.Unlock()
	m.emit(ev)
}

// newerLocked returns a live session in v that differs from ours.
func (m *Manager) newerLocked(v *Vault, now time.Time) (StoredSession, bool) {
	s, ok, err := v.Load()
	if err != nil || !ok {
		return StoredSession{}, false
	}
	if s.RefreshToken == m.session.RefreshToken || !now.Before(s.RefreshExpiresAt) {
		return StoredSession{}, false
	}
	return s, true
}

func (m *Manager) adoptLocked(v *Vault, s StoredSession) {
	m.logger.Info("adopted session persisted by another instance", "sid", s.SessionID)
	m.applyLocked(v, s)
}

// applyLocked makes s the current session and schedules its refresh. A
// refresh still in flight for the previous pair no longer blocks new ones.
func (m *Manager) applyLocked(v *Vault, s StoredSession) {
	m.vault = v
	m.session = s
	m.state = StateAuthenticated
	m.backoff = nil
	m.inflight = nil
	m.scheduleLocked(m.refreshDelay(s, m.clock.Now()))
}

func (m *Manager) refreshDelay(s StoredSession, now time.Time) time.Duration {
	margin := min(m.margin, s.AccessLifetime()/2)
	d := s.AccessExpiresAt.Add(-margin).Sub(now)
	return max(d, 0)
}

// scheduleLocked replaces any pending refresh. Timers from earlier
// generations are ignored when they fire.
func (m *Manager) scheduleLocked(d time.Duration) {
	m.stopTimerLocked()
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { m.onTimer(gen) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Manager) onTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = m.refresh(ctx, false)
}

func (m *Manager) forceLogoutLocked(reason string, cause error) *ForcedLogout {
	m.logger.Warn("forced logout", "reason", reason, "error", cause)
	m.signOutLocked(StateExpired)
	return &ForcedLogout{Reason: reason, ReturnTo: m.destination, Err: cause}
}

// signOutLocked clears this Manager's keys in every vault and leaves the
// sign-out marker where the session lived.
func (m *Manager) signOutLocked(next State) {
	m.stopTimerLocked()
	now := m.clock.Now()
	for _, v := range m.vaults {
		var err error
		if v == m.vault {
			err = v.SignOut(now)
		} else {
			err = v.Clear()
		}
		if err != nil {
			m.logger.Warn("could not clear stored session", "error", err)
		}
	}
	m.resetLocked(next)
}

func (m *Manager) resetLocked(next State) {
	m.state = next
	m.inflight = nil
	m.session = StoredSession{}
	m.vault = nil
	m.backoff = nil
}

func (m *Manager) signedInLocked() bool {
	return m.state == StateAuthenticated || m.state == StateRefreshing
}

func (m *Manager) emit(ev *ForcedLogout) {
	if ev != nil && m.onLogout != nil {
		m.onLogout(*ev)
	}
}
