package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
)

type refreshResult struct {
	token string
	err   error
}

// gatedRefresher blocks every call until the test releases it.
type gatedRefresher struct {
	calls   atomic.Int32
	started chan string
	release chan refreshResult
}

func newGatedRefresher() *gatedRefresher {
	return &gatedRefresher{
		started: make(chan string, 8),
		release: make(chan refreshResult, 8),
	}
}

func (g *gatedRefresher) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	g.calls.Add(1)
	g.started <- refreshToken
	select {
	case r := <-g.release:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// staticRefresher answers immediately.
type staticRefresher struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticRefresher) RefreshToken(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RefreshTimeout = 2 * time.Second
	return cfg
}

func newManager(t *testing.T, kv storage.Store, r Refresher) *Manager {
	t.Helper()
	m := NewManager(context.Background(), kv, r, testConfig(), logger.Discard())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func login(t *testing.T, m *Manager, access, refresh string) {
	t.Helper()
	require.NoError(t, m.Login(context.Background(), domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}))
}

func stored(t *testing.T, kv storage.Store, key string) (string, bool) {
	t.Helper()
	raw, err := kv.Get(context.Background(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return string(raw), true
}

func waitStarted(t *testing.T, g *gatedRefresher) string {
	t.Helper()
	select {
	case rt := <-g.started:
		return rt
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was never issued")
		return ""
	}
}

func TestNewManager_EmptyStorageIsLoggedOut(t *testing.T) {
	m := newManager(t, storage.NewMemory(), &staticRefresher{})

	assert.Equal(t, LoggedOut, m.State())
	assert.Empty(t, m.Token())
	assert.Empty(t, m.SessionID())
}

func TestNewManager_RestoresStoredSession(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, KeyAccessToken, []byte("acc")))
	require.NoError(t, kv.Set(ctx, KeyRefreshToken, []byte("ref")))
	require.NoError(t, kv.Set(ctx, KeyTokenType, []byte("bearer")))

	m := newManager(t, kv, &staticRefresher{})

	assert.Equal(t, Active, m.State())
	assert.Equal(t, "acc", m.Token())
	assert.Equal(t, "bearer", m.TokenType())
	require.NotEmpty(t, m.SessionID())
	id, ok := stored(t, kv, KeySessionID)
	require.True(t, ok)
	assert.Equal(t, m.SessionID(), id)
}

func TestNewManager_MigratesLegacyTokenKey(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, legacyKeyToken, []byte("old")))

	m := newManager(t, kv, &staticRefresher{})

	assert.Equal(t, "old", m.Token())
	assert.Equal(t, Active, m.State())
	v, ok := stored(t, kv, KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "old", v)
	_, ok = stored(t, kv, legacyKeyToken)
	assert.False(t, ok)
}

func TestLogin_PersistsEverything(t *testing.T) {
	kv := storage.NewMemory()
	m := newManager(t, kv, &staticRefresher{})

	login(t, m, "acc", "ref")

	assert.Equal(t, Active, m.State())
	for key, want := range map[string]string{
		KeyAccessToken:  "acc",
		KeyRefreshToken: "ref",
		KeyTokenType:    "bearer",
		KeySessionID:    m.SessionID(),
	} {
		got, ok := stored(t, kv, key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}

func TestLogin_RejectsEmptyAccessToken(t *testing.T) {
	m := newManager(t, storage.NewMemory(), &staticRefresher{})

	err := m.Login(context.Background(), domain.TokenPair{RefreshToken: "ref"})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, LoggedOut, m.State())
}

func TestLogin_NewSessionIDEachTime(t *testing.T) {
	m := newManager(t, storage.NewMemory(), &staticRefresher{})

	login(t, m, "a1", "r1")
	first := m.SessionID()
	login(t, m, "a2", "r2")

	assert.NotEqual(t, first, m.SessionID())
}

func TestSetToken_EmptyClearsKeyAndLogsOut(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	m := newManager(t, kv, &staticRefresher{})
	login(t, m, "acc", "ref")

	m.SetToken(ctx, "")

	assert.Empty(t, m.Token())
	assert.Equal(t, LoggedOut, m.State())
	_, ok := stored(t, kv, KeyAccessToken)
	assert.False(t, ok)
}

func TestSetToken_ValueIsStored(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	m := newManager(t, kv, &staticRefresher{})

	m.SetToken(ctx, "manual")

	assert.Equal(t, "manual", m.Token())
	assert.Equal(t, Active, m.State())
	v, ok := stored(t, kv, KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "manual", v)
}

func TestLogout_ClearsStorageAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, legacyKeyToken, []byte("stale")))
	m := newManager(t, kv, &staticRefresher{})
	login(t, m, "acc", "ref")

	m.Logout(ctx)
	m.Logout(ctx)

	assert.Equal(t, LoggedOut, m.State())
	assert.Empty(t, m.Token())
	assert.Empty(t, m.SessionID())
	for _, key := range allKeys {
		_, ok := stored(t, kv, key)
		assert.False(t, ok, key)
	}
}

func TestLogout_CancelledContextStillClearsStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := storage.NewRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "storefront:")
	t.Cleanup(func() { _ = kv.Close() })
	m := newManager(t, kv, &staticRefresher{})
	login(t, m, "acc", "ref")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Logout(ctx)

	restarted := newManager(t, kv, &staticRefresher{})
	assert.Equal(t, LoggedOut, restarted.State())
	assert.Empty(t, restarted.Token())
	for _, key := range allKeys {
		assert.False(t, mr.Exists("storefront:"+key), key)
	}
}

func TestRefreshAccessToken_Success(t *testing.T) {
	kv := storage.NewMemory()
	r := &staticRefresher{token: "fresh"}
	m := newManager(t, kv, r)
	login(t, m, "acc", "ref")

	tok, err := m.RefreshAccessToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, "fresh", m.Token())
	assert.Equal(t, Active, m.State())
	v, _ := stored(t, kv, KeyAccessToken)
	assert.Equal(t, "fresh", v)
	rt, _ := stored(t, kv, KeyRefreshToken)
	assert.Equal(t, "ref", rt)
}

func TestRefreshAccessToken_RejectionLogsOut(t *testing.T) {
	kv := storage.NewMemory()
	m := newManager(t, kv, &staticRefresher{err: apperrors.Unauthorized("refresh token expired")})
	login(t, m, "acc", "ref")

	_, err := m.RefreshAccessToken(context.Background())

	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, LoggedOut, m.State())
	assert.Empty(t, m.Token())
	_, ok := stored(t, kv, KeyAccessToken)
	assert.False(t, ok)
	_, ok = stored(t, kv, KeyRefreshToken)
	assert.False(t, ok)
}

func TestRefreshAccessToken_EmptyTokenCountsAsFailure(t *testing.T) {
	m := newManager(t, storage.NewMemory(), &staticRefresher{token: ""})
	login(t, m, "acc", "ref")

	_, err := m.RefreshAccessToken(context.Background())

	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, LoggedOut, m.State())
}

func TestRefreshAccessToken_WithoutRefreshToken(t *testing.T) {
	r := &staticRefresher{token: "fresh"}
	m := newManager(t, storage.NewMemory(), r)
	m.SetToken(context.Background(), "acc")

	_, err := m.RefreshAccessToken(context.Background())

	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, LoggedOut, m.State())
	assert.Zero(t, r.calls.Load())
}

func TestRefreshAccessToken_LogoutWhileInFlightWins(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	g := newGatedRefresher()
	m := newManager(t, kv, g)
	login(t, m, "acc", "ref")

	errc := make(chan error, 1)
	go func() {
		_, err := m.RefreshAccessToken(ctx)
		errc <- err
	}()
	waitStarted(t, g)
	assert.Equal(t, Refreshing, m.State())

	m.Logout(ctx)
	g.release <- refreshResult{token: "late"}

	err := <-errc
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, LoggedOut, m.State())
	assert.Empty(t, m.Token())
	_, ok := stored(t, kv, KeyAccessToken)
	assert.False(t, ok)
}

func TestRefreshAccessToken_LoginWhileInFlightKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	g := newGatedRefresher()
	m := newManager(t, storage.NewMemory(), g)
	login(t, m, "acc", "ref")

	errc := make(chan error, 1)
	go func() {
		_, err := m.RefreshAccessToken(ctx)
		errc <- err
	}()
	waitStarted(t, g)

	login(t, m, "acc2", "ref2")
	g.release <- refreshResult{err: errors.New("stale refresh token")}

	assert.ErrorIs(t, <-errc, ErrSessionEnded)
	assert.Equal(t, Active, m.State())
	assert.Equal(t, "acc2", m.Token())
}

func TestRefreshAccessToken_NewSessionDoesNotJoinOldRenewal(t *testing.T) {
	ctx := context.Background()
	g := newGatedRefresher()
	m := newManager(t, storage.NewMemory(), g)
	login(t, m, "acc", "ref")

	oldErr := make(chan error, 1)
	go func() {
		_, err := m.RefreshAccessToken(ctx)
		oldErr <- err
	}()
	assert.Equal(t, "ref", waitStarted(t, g))

	m.Logout(ctx)
	login(t, m, "acc2", "ref2")

	type result struct {
		token string
		err   error
	}
	newRes := make(chan result, 1)
	go func() {
		tok, err := m.RefreshAccessToken(ctx)
		newRes <- result{tok, err}
	}()
	assert.Equal(t, "ref2", waitStarted(t, g))

	g.release <- refreshResult{token: "fresh2"}
	g.release <- refreshResult{token: "fresh2"}

	assert.ErrorIs(t, <-oldErr, ErrSessionEnded)
	res := <-newRes
	require.NoError(t, res.err)
	assert.Equal(t, "fresh2", res.token)
	assert.Equal(t, int32(2), g.calls.Load())
	assert.Equal(t, Active, m.State())
	assert.Equal(t, "fresh2", m.Token())
}

func TestRefreshAccessToken_TimeoutLogsOut(t *testing.T) {
	kv := storage.NewMemory()
	g := newGatedRefresher()
	cfg := testConfig()
	cfg.RefreshTimeout = 50 * time.Millisecond
	m := NewManager(context.Background(), kv, g, cfg, logger.Discard())
	t.Cleanup(func() { _ = m.Close() })
	login(t, m, "acc", "ref")

	_, err := m.RefreshAccessToken(context.Background())

	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, LoggedOut, m.State())
	assert.Empty(t, m.Token())
	for _, key := range allKeys {
		_, ok := stored(t, kv, key)
		assert.False(t, ok, key)
	}
}

func TestRefreshAccessToken_ConcurrentCallersShareOneCall(t *testing.T) {
	ctx := context.Background()
	g := newGatedRefresher()
	m := newManager(t, storage.NewMemory(), g)
	login(t, m, "acc", "ref")

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		tokens[0], errs[0] = m.RefreshAccessToken(ctx)
	}()
	<-first
	waitStarted(t, g)
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.RefreshAccessToken(ctx)
		}(i)
	}
	// Give the followers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	g.release <- refreshResult{token: "fresh"}
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", tokens[i])
	}
}

func TestRefreshAccessToken_CallerContextCancelled(t *testing.T) {
	g := newGatedRefresher()
	m := newManager(t, storage.NewMemory(), g)
	login(t, m, "acc", "ref")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.RefreshAccessToken(ctx)
		errc <- err
	}()
	waitStarted(t, g)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	// The shared call still completes for the session.
	g.release <- refreshResult{token: "fresh"}
	assert.Eventually(t, func() bool { return m.Token() == "fresh" }, time.Second, 5*time.Millisecond)
}

func TestStart_LoopRefreshesOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &staticRefresher{token: "fresh"}
	cfg := testConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	m := NewManager(context.Background(), storage.NewMemory(), r, cfg, logger.Discard())
	login(t, m, "acc", "ref")

	m.Start(context.Background())
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Close())

	assert.Equal(t, "fresh", m.Token())
}

func TestStart_LoggedOutNeverRefreshes(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &staticRefresher{token: "fresh"}
	cfg := testConfig()
	cfg.RefreshInterval = 5 * time.Millisecond
	m := NewManager(context.Background(), storage.NewMemory(), r, cfg, logger.Discard())

	m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Close())

	assert.Zero(t, r.calls.Load())
	assert.Equal(t, LoggedOut, m.State())
}

func TestClose_AbortsInFlightRefreshAndKeepsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	kv := storage.NewMemory()
	g := newGatedRefresher()
	m := NewManager(context.Background(), kv, g, testConfig(), logger.Discard())
	login(t, m, "acc", "ref")

	errc := make(chan error, 1)
	go func() {
		_, err := m.RefreshAccessToken(context.Background())
		errc <- err
	}()
	waitStarted(t, g)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.Equal(t, "acc", m.Token())
	v, ok := stored(t, kv, KeyRefreshToken)
	require.True(t, ok)
	assert.Equal(t, "ref", v)

	_, err := m.RefreshAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_WithoutStart(t *testing.T) {
	m := NewManager(context.Background(), storage.NewMemory(), &staticRefresher{}, testConfig(), logger.Discard())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
