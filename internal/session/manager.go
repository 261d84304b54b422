// Package session owns the access/refresh token pair and keeps it fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Storage keys. KeyAccessToken is the only key the access token is written
// under; legacyKeyToken is read once for migration and always deleted on logout.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenType    = "token_type"
	KeySessionID    = "session_id"
	legacyKeyToken  = "token"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyTokenType, KeySessionID, legacyKeyToken}

var (
	// ErrRefreshFailed wraps every renewal failure. The session has been logged out.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRefreshToken means there was nothing to renew with.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrSessionEnded means the session was logged out or replaced while the
	// renewal was in flight; its result was discarded.
	ErrSessionEnded = errors.New("session ended during refresh")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("session manager closed")
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// Manager holds the session. It is safe for concurrent use.
//
// Every login and logout bumps a generation counter. A renewal captures the
// generation when it starts and applies its result only if the generation is
// unchanged and the session is not LoggedOut, so a logout that lands while a
// renewal is in flight always wins.
type Manager struct {
	mu           sync.Mutex
	state        State
	accessToken  string
	refreshToken string
	tokenType    string
	sessionID    string
	generation   uint64
	closed       bool
	inflight     sync.WaitGroup

	kv        storage.Store
	refresher Refresher
	cfg       Config
	logger    *slog.Logger
	group     singleflight.Group
	now       func() time.Time

	// lifetime is cancelled by Close and aborts in-flight renewals.
	lifetime     context.Context
	stopLifetime context.CancelFunc

	wake     chan struct{}
	loopDone chan struct{}
	started  bool
}

// NewManager restores the session from kv. The state is Active iff an access
// token was stored.
func NewManager(ctx context.Context, kv storage.Store, refresher Refresher, cfg Config, logger *slog.Logger) *Manager {
	lifetime, stop := context.WithCancel(context.Background())
	m := &Manager{
		kv:           kv,
		refresher:    refresher,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		lifetime:     lifetime,
		stopLifetime: stop,
		wake:         make(chan struct{}, 1),
		loopDone:     make(chan struct{}),
	}
	m.restore(ctx)
	return m
}

func (m *Manager) restore(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accessToken = m.load(ctx, KeyAccessToken)
	if m.accessToken == "" {
		if legacy := m.load(ctx, legacyKeyToken); legacy != "" {
			m.accessToken = legacy
			m.save(ctx, KeyAccessToken, legacy)
			m.remove(ctx, legacyKeyToken)
			m.logger.InfoContext(ctx, "migrated legacy access token key")
		}
	}
	m.refreshToken = m.load(ctx, KeyRefreshToken)
	m.tokenType = m.load(ctx, KeyTokenType)
	m.sessionID = m.load(ctx, KeySessionID)

	if m.accessToken == "" {
		m.setState(LoggedOut)
		return
	}
	if m.sessionID == "" {
		m.sessionID = uuid.NewString()
		m.save(ctx, KeySessionID, m.sessionID)
	}
	m.setState(Active)
	m.logger.InfoContext(ctx, "session restored", slog.String("session_id", m.sessionID))
}

// Token returns the current access token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// TokenType returns the token type handed out at login, e.g. "bearer".
func (m *Manager) TokenType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenType
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID identifies the current login, or "" when logged out.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetToken replaces the access token. An empty token clears it and removes the
// stored key; the session becomes LoggedOut and any in-flight renewal is void.
func (m *Manager) SetToken(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		if m.accessToken == "" {
			return
		}
		m.accessToken = ""
		m.generation++
		m.setState(LoggedOut)
		m.remove(ctx, KeyAccessToken, legacyKeyToken)
		m.logger.InfoContext(ctx, "access token cleared")
		return
	}

	m.accessToken = token
	m.save(ctx, KeyAccessToken, token)
	if m.state == LoggedOut {
		m.generation++
		m.sessionID = uuid.NewString()
		m.save(ctx, KeySessionID, m.sessionID)
		m.setState(Active)
	}
	m.signal()
}

// Login starts a new session from a freshly issued token pair.
func (m *Manager) Login(ctx context.Context, pair domain.TokenPair) error {
	if pair.AccessToken == "" {
		return apperrors.InvalidInput("login response carried no access token")
	}
	if pair.TokenType == "" {
		pair.TokenType = "bearer"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.tokenType = pair.TokenType
	m.sessionID = uuid.NewString()
	m.setState(Active)

	m.save(ctx, KeyAccessToken, m.accessToken)
	if m.refreshToken != "" {
		m.save(ctx, KeyRefreshToken, m.refreshToken)
	} else {
		m.remove(ctx, KeyRefreshToken)
	}
	m.save(ctx, KeyTokenType, m.tokenType)
	m.save(ctx, KeySessionID, m.sessionID)
	m.remove(ctx, legacyKeyToken)

	m.logger.InfoContext(ctx, "session started", slog.String("session_id", m.sessionID))
	m.signal()
	return nil
}

// Logout clears the tokens in memory and in storage. Calling it again is harmless.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked(ctx, "logout")
}

func (m *Manager) logoutLocked(ctx context.Context, reason string) {
	wasLoggedIn := m.state != LoggedOut || m.refreshToken != ""
	sessionID := m.sessionID

	m.accessToken = ""
	m.refreshToken = ""
	m.tokenType = ""
	m.sessionID = ""
	m.generation++
	m.setState(LoggedOut)
	m.remove(ctx, allKeys...)

	if wasLoggedIn {
		m.logger.InfoContext(ctx, "session ended",
			slog.String("session_id", sessionID),
			slog.String("reason", reason),
		)
	}
}

// RefreshAccessToken exchanges the refresh token for a new access token and
// blocks until that call resolves or ctx is done. Concurrent callers share one
// backend call.
//
// On failure the session is logged out and the error wraps ErrRefreshFailed.
// If the session was logged out or replaced meanwhile, ErrSessionEnded is
// returned and nothing is applied.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	// Flights are per generation so a caller never joins a renewal that
	// belongs to a session which has since ended.
	key := "refresh:" + strconv.FormatUint(gen, 10)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for refresh: %w", ctx.Err())
	}
}

func (m *Manager) refresh(ctx context.Context, gen uint64) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.generation != gen {
		m.mu.Unlock()
		refreshTotal.WithLabelValues(resultDiscarded).Inc()
		return "", ErrSessionEnded
	}
	refreshToken := m.refreshToken
	if refreshToken == "" {
		m.logoutLocked(ctx, "no refresh token")
		m.mu.Unlock()
		refreshTotal.WithLabelValues(resultFailure).Inc()
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
	}
	m.setState(Refreshing)
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	stop := context.AfterFunc(m.lifetime, cancel)
	token, err := m.refresher.RefreshToken(callCtx, refreshToken)
	stop()
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state == LoggedOut {
		refreshTotal.WithLabelValues(resultDiscarded).Inc()
		m.logger.InfoContext(ctx, "refresh result discarded, session ended while in flight")
		return "", ErrSessionEnded
	}
	if m.lifetime.Err() != nil {
		// Shutting down: keep the stored session for the next start.
		m.setState(Active)
		return "", ErrClosed
	}
	if err == nil && token == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		refreshTotal.WithLabelValues(resultFailure).Inc()
		m.logger.WarnContext(ctx, "token refresh failed, logging out",
			slog.String("session_id", m.sessionID),
			slog.String("error", err.Error()),
		)
		m.logoutLocked(ctx, "refresh failed")
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	m.accessToken = token
	m.setState(Active)
	m.save(ctx, KeyAccessToken, token)
	refreshTotal.WithLabelValues(resultSuccess).Inc()
	m.logger.InfoContext(ctx, "access token refreshed", slog.String("session_id", m.sessionID))
	m.signal()
	return token, nil
}

// Start launches the renewal loop. It runs until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.lifetime, cancel)
	go func() {
		defer close(m.loopDone)
		defer stop()
		defer cancel()
		m.run(loopCtx)
	}()
}

// Close stops the renewal loop, aborts any in-flight renewal and waits for both.
// The stored session is left intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	m.stopLifetime()
	if started {
		<-m.loopDone
	}
	m.inflight.Wait()
	return nil
}

func (m *Manager) run(ctx context.Context) {
	timer := time.NewTimer(m.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			timer.Reset(m.nextDelay())
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.nextDelay())
		}
	}
}

// tick renews only an Active session; LoggedOut never leaves on its own.
func (m *Manager) tick(ctx context.Context) {
	if m.State() != Active {
		return
	}
	_, err := m.RefreshAccessToken(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionEnded), errors.Is(err, ErrClosed), ctx.Err() != nil:
		m.logger.DebugContext(ctx, "scheduled refresh abandoned", slog.String("error", err.Error()))
	default:
		m.logger.WarnContext(ctx, "scheduled refresh failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) nextDelay() time.Duration {
	return RenewalDelay(m.Token(), m.now(), m.cfg)
}

// signal asks the loop to recompute its timer.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(s State) {
	m.state = s
	stateGauge.Set(float64(s))
}

func (m *Manager) load(ctx context.Context, key string) string {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.WarnContext(ctx, "session storage unreadable", slog.String("key", key), slog.String("error", err.Error()))
		}
		return ""
	}
	return string(raw)
}

// save and remove detach from the caller's cancellation: a request that is
// abandoned mid-logout must still clear the stored session.
func (m *Manager) save(ctx context.Context, key, value string) {
	if err := m.kv.Set(context.WithoutCancel(ctx), key, []byte(value)); err != nil {
		m.logger.WarnContext(ctx, "session not persisted, continuing in memory", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (m *Manager) remove(ctx context.Context, keys ...string) {
	if err := m.kv.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		m.logger.WarnContext(ctx, "session keys not removed from storage", slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}
