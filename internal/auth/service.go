package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"spendly.app/internal/obs"
)

// AuditFunc records a security-relevant event.
type AuditFunc func(ctx context.Context, event string, fields map[string]any) error

// Service is the server half of the session core: issuing (issuer.go),
// rotating and revoking (refresher.go) and verifying (guard.go) credentials.
type Service struct {
	cfg      Config
	access   *Codec
	refresh  *Codec
	users    UserStore
	ledger   RefreshLedger
	now      func() time.Time
	audit    AuditFunc
	validate *validator.Validate

	unknownHash []byte
	compare     func(hash, password []byte) error
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAuditor routes security events such as refresh token reuse to fn.
func WithAuditor(fn AuditFunc) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.audit = fn
		}
		return nil
	}
}

// NewService validates cfg and builds the access and refresh codecs.
func NewService(cfg Config, users UserStore, ledger RefreshLedger, opts ...ServiceOption) (*Service, error) {
	if users == nil || ledger == nil {
		return nil, fmt.Errorf("%w: user store and refresh ledger are required", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:      cfg,
		users:    users,
		ledger:   ledger,
		now:      time.Now,
		audit:    func(context.Context, string, map[string]any) error { return nil },
		validate: validator.New(validator.WithRequiredStructEnabled()),
		compare:  bcrypt.CompareHashAndPassword,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}

	var err error
	svc.unknownHash, err = unknownAccountHash(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare login hash: %w", err)
	}
	svc.access, err = NewCodec(cfg.AccessSecret, TokenAccess, cfg.Issuer, WithCodecClock(svc.now))
	if err != nil {
		return nil, err
	}
	svc.refresh, err = NewCodec(cfg.RefreshSecret, TokenRefresh, cfg.Issuer, WithCodecClock(svc.now))
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Config returns the validated configuration.
func (s *Service) Config() Config { return s.cfg }

// mintSession signs a fresh access/refresh pair for subjectID and records the
// refresh credential, returning the new record id. A ledger failure is logged,
// the refresh token is left out of the session and the id is empty; the access
// token is still returned.
func (s *Service) mintSession(ctx context.Context, subjectID string, device DeviceInfo) (Session, string, error) {
	accessToken, accessExp, err := s.access.Sign(subjectID, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, refreshExp, err := s.refresh.Sign(subjectID, s.cfg.RefreshTTL)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign refresh token: %w", err)
	}

	sess := Session{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
		SubjectID:       subjectID,
	}
	rec := &RefreshRecord{
		TokenHash: s.refresh.Hash(refreshToken),
		UserID:    subjectID,
		ExpiresAt: refreshExp,
		CreatedAt: s.now().UTC(),
		Device:    device,
	}
	if err := s.ledger.Issue(ctx, rec); err != nil {
		obs.Error("auth.session.ledger_write.fail", err, map[string]any{"subject": subjectID})
		return sess, "", nil
	}
	sess.RefreshToken = refreshToken
	sess.RefreshExpiresAt = refreshExp
	return sess, rec.ID, nil
}

// Sweep deletes expired and revoked refresh records. Failures are logged and
// reported as zero rows.
func (s *Service) Sweep(ctx context.Context) int64 {
	n, err := s.ledger.Sweep(ctx)
	if err != nil {
		obs.Error("auth.ledger.sweep.fail", err, nil)
		return 0
	}
	obs.LedgerSwept(n)
	obs.Info("auth.ledger.sweep", map[string]any{"deleted": n})
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
