package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdefghijklmnop"
	testRefreshSecret = "refresh-secret-0123456789abcdefghijklmno"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() Config {
	return Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		BcryptCost:    bcrypt.MinCost,
	}
}

type fixture struct {
	svc    *Service
	users  *MemoryUserStore
	ledger *MemoryLedger
	clock  *fakeClock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	clock := newFakeClock()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	users := NewMemoryUserStore()
	ledger := NewMemoryLedger(WithLedgerClock(clock.Now))
	svc, err := NewService(cfg, users, ledger, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, users: users, ledger: ledger, clock: clock}
}

func (f *fixture) register(t *testing.T, email string) Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "secret1",
		Name:     "Ann",
	}, DeviceInfo{UserAgent: "test", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return sess
}

func countActive(records []RefreshRecord, now time.Time) int {
	n := 0
	for _, r := range records {
		if r.Active(now) {
			n++
		}
	}
	return n
}
