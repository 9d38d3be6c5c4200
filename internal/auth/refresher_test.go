package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spendly.app/internal/obs"
)

func TestRotateIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokenA := f.register(t, "a@b.com").RefreshToken

	rotated, err := f.svc.Rotate(ctx, tokenA, DeviceInfo{})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.AccessToken == "" || rotated.RefreshToken == "" || rotated.RefreshToken == tokenA {
		t.Fatalf("expected fresh pair, got %+v", rotated)
	}

	if _, err := f.svc.Rotate(ctx, tokenA, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidRefreshToken on reuse, got %v", err)
	}
	if _, err := f.svc.Rotate(ctx, rotated.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("successor token should rotate: %v", err)
	}
}

func TestRotatePreservesSubjectAcrossChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.register(t, "chain@b.com")
	f.register(t, "other@b.com")

	token := first.RefreshToken
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		sess, err := f.svc.Rotate(ctx, token, DeviceInfo{})
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		if sess.SubjectID != first.SubjectID {
			t.Fatalf("rotation %d changed subject: %s != %s", i, sess.SubjectID, first.SubjectID)
		}
		id, err := f.svc.Authenticate(ctx, sess.AccessToken)
		if err != nil {
			t.Fatalf("Authenticate after rotation %d: %v", i, err)
		}
		if id.SubjectID != first.SubjectID {
			t.Fatalf("access token resolves to %s", id.SubjectID)
		}
		token = sess.RefreshToken
	}
	if n := countActive(f.ledger.Records(), f.clock.Now()); n != 2 {
		t.Fatalf("expected one active record per chain, got %d", n)
	}
}

func TestRotateConcurrentSameTokenOneWinner(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "race@b.com").RefreshToken

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Rotate(context.Background(), token, DeviceInfo{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidRefreshToken):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || failures != attempts-1 {
		t.Fatalf("expected 1 win and %d failures, got %d/%d", attempts-1, wins, failures)
	}
	if n := countActive(f.ledger.Records(), f.clock.Now()); n != 1 {
		t.Fatalf("losing rotations must not leave live successors, %d active", n)
	}
}

func TestRotateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.register(t, "err@b.com")

	if _, err := f.svc.Rotate(ctx, "  ", DeviceInfo{}); !errors.Is(err, ErrRefreshTokenRequired) {
		t.Fatalf("expected RefreshTokenRequired, got %v", err)
	}
	if _, err := f.svc.Rotate(ctx, "garbage", DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidRefreshToken, got %v", err)
	}
	if _, err := f.svc.Rotate(ctx, sess.AccessToken, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token must not rotate, got %v", err)
	}

	f.clock.Advance(DefaultRefreshTTL)
	_, err := f.svc.Rotate(ctx, sess.RefreshToken, DeviceInfo{})
	if !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected RefreshTokenExpired, got %v", err)
	}
	if KindOf(err).Code() != "REFRESH_TOKEN_EXPIRED" {
		t.Fatalf("unexpected code %s", KindOf(err).Code())
	}
	for _, r := range f.ledger.Records() {
		if !r.Revoked {
			t.Fatalf("expired record should be revoked: %+v", r)
		}
	}
}

func TestRotateUnknownTokenSignedBySameKey(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "ghost@b.com")
	// Signed with the real secret but never recorded, e.g. after a ledger write failure.
	orphan, _, err := f.svc.refresh.Sign(sess.SubjectID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := f.svc.Rotate(context.Background(), orphan, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidRefreshToken, got %v", err)
	}
}

func TestRotateReuseIsLoggedAndOptionallyRevokesAll(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	var audited []string
	f := newFixture(t, func(c *Config) { c.RevokeAllOnReuse = true })
	f.svc.audit = func(_ context.Context, event string, _ map[string]any) error {
		audited = append(audited, event)
		return nil
	}
	ctx := context.Background()

	first := f.register(t, "reuse@b.com")
	second, err := f.svc.Login(ctx, "reuse@b.com", "secret1", DeviceInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, first.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, first.RefreshToken, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidRefreshToken, got %v", err)
	}

	if !strings.Contains(buf.String(), `"msg":"auth.refresh.reuse_detected"`) {
		t.Fatalf("expected reuse log line, got %s", buf.String())
	}
	if len(audited) != 1 || audited[0] != "auth.refresh.reuse_detected" {
		t.Fatalf("unexpected audit events: %v", audited)
	}
	if n := countActive(f.ledger.Records(), f.clock.Now()); n != 0 {
		t.Fatalf("expected every record revoked after reuse, %d active", n)
	}
	if _, err := f.svc.Rotate(ctx, second.RefreshToken, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("other device chain should be revoked, got %v", err)
	}

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line not JSON: %q", line)
		}
	}
}

func TestRotateKeepsOtherDeviceChains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := f.register(t, "multi@b.com")
	laptop, err := f.svc.Login(ctx, "multi@b.com", "secret1", DeviceInfo{UserAgent: "laptop"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, phone.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("phone rotate: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, laptop.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("laptop chain must survive phone rotation: %v", err)
	}
}

func TestLogoutRevokesWithMatchingProofOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.register(t, "ann@b.com")
	bob := f.register(t, "bob@b.com")

	n, err := f.svc.Logout(ctx, ann.SubjectID, "")
	if err != nil || n != 0 {
		t.Fatalf("empty proof should be a no-op, got %d %v", n, err)
	}
	if _, err := f.svc.Logout(ctx, ann.SubjectID, bob.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("foreign proof must be rejected, got %v", err)
	}
	n, err = f.svc.Logout(ctx, ann.SubjectID, ann.RefreshToken)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 revoked, got %d %v", n, err)
	}
	if _, err := f.svc.Rotate(ctx, bob.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("bob's session must survive: %v", err)
	}
}

type flakyLedger struct {
	*MemoryLedger
	failNext atomic.Bool
}

func (l *flakyLedger) Issue(ctx context.Context, rec *RefreshRecord) error {
	if l.failNext.CompareAndSwap(true, false) {
		return errors.New("connection reset")
	}
	return l.MemoryLedger.Issue(ctx, rec)
}

func TestRotateLedgerFailureIsNotReportedAsReuse(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	clock := newFakeClock()
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger(WithLedgerClock(clock.Now))}
	cfg := testConfig()
	cfg.RevokeAllOnReuse = true
	var audited []string
	svc, err := NewService(cfg, NewMemoryUserStore(), ledger, WithClock(clock.Now),
		WithAuditor(func(_ context.Context, event string, _ map[string]any) error {
			audited = append(audited, event)
			return nil
		}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	phone, err := svc.Register(ctx, RegisterInput{Email: "flaky@b.com", Password: "secret1", Name: "Ann"}, DeviceInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	laptop, err := svc.Login(ctx, "flaky@b.com", "secret1", DeviceInfo{UserAgent: "laptop"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	ledger.failNext.Store(true)
	rotated, err := svc.Rotate(ctx, phone.RefreshToken, DeviceInfo{})
	if err != nil {
		t.Fatalf("Rotate must survive a ledger write failure: %v", err)
	}
	if rotated.AccessToken == "" || rotated.RefreshToken != "" {
		t.Fatalf("expected access token only, got %+v", rotated)
	}

	if _, err := svc.Rotate(ctx, phone.RefreshToken, DeviceInfo{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidRefreshToken, got %v", err)
	}
	if len(audited) != 0 || strings.Contains(buf.String(), "auth.refresh.reuse_detected") {
		t.Fatalf("retired token without successor reported as reuse: %v", audited)
	}
	if _, err := svc.Rotate(ctx, laptop.RefreshToken, DeviceInfo{}); err != nil {
		t.Fatalf("other device must keep its session: %v", err)
	}
}
