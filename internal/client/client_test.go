package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spendly.app/internal/auth"
	"spendly.app/internal/httpapi"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sessionServer struct {
	url    string
	ledger *auth.MemoryLedger
	clock  *clock
}

func newSessionServer(t *testing.T) *sessionServer {
	t.Helper()
	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	ledger := auth.NewMemoryLedger(auth.WithLedgerClock(clk.Now))
	svc, err := auth.NewService(auth.Config{
		AccessSecret:  "access-secret-0123456789abcdefghijklmnop",
		RefreshSecret: "refresh-secret-0123456789abcdefghijklmno",
		BcryptCost:    bcrypt.MinCost,
	}, auth.NewMemoryUserStore(), ledger, auth.WithClock(clk.Now))
	require.NoError(t, err)

	api := httpapi.New(svc, httpapi.ReadyProbe{}, "test", httpapi.WithCredentialRateLimit(100, 100))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &sessionServer{url: srv.URL, ledger: ledger, clock: clk}
}

func TestClientRefreshesExpiredSession(t *testing.T) {
	s := newSessionServer(t)
	ctx := context.Background()

	c, err := New(s.url)
	require.NoError(t, err)

	sess, err := c.Register(ctx, "a@b.com", "secret1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", sess.User.Email)
	assert.Equal(t, sess.AccessToken, c.Coordinator().Token())

	s.clock.Advance(auth.DefaultAccessTTL + time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			me, err := c.Me(ctx)
			if assert.NoError(t, err) {
				assert.Equal(t, "Ann", me.Name)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), c.Coordinator().Refreshes())
	assert.NotEqual(t, sess.AccessToken, c.Coordinator().Token())
	assert.Len(t, s.ledger.Records(), 2)
}

func TestClientLogoutEverywhere(t *testing.T) {
	s := newSessionServer(t)
	ctx := context.Background()

	phone, err := New(s.url)
	require.NoError(t, err)
	laptop, err := New(s.url)
	require.NoError(t, err)

	_, err = phone.Register(ctx, "b@b.com", "secret1", "Bo")
	require.NoError(t, err)
	_, err = laptop.Login(ctx, "b@b.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, phone.Logout(ctx, true))
	assert.Empty(t, phone.Coordinator().Token())
	for _, r := range s.ledger.Records() {
		assert.True(t, r.Revoked, "record %s should be revoked", r.ID)
	}

	var terminated atomic.Bool
	laptop.coord.onTerminated = func(error) { terminated.Store(true) }
	s.clock.Advance(auth.DefaultAccessTTL)
	_, err = laptop.Me(ctx)
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.True(t, terminated.Load())
}

func TestClientAPIErrors(t *testing.T) {
	s := newSessionServer(t)
	ctx := context.Background()
	c, err := New(s.url)
	require.NoError(t, err)

	_, err = c.Login(ctx, "nobody@b.com", "secret1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsInvalidCredentials())
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, int64(0), c.Coordinator().Refreshes())

	_, err = c.Register(ctx, "bad", "secret1", "Ann")
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsValidationError())
}

func TestParseErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode("upstream down")
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "a@b.com", "x")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream down")
}
