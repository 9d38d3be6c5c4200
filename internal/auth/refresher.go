package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spendly.app/internal/obs"
)

// Rotate exchanges a refresh token for a new access/refresh pair. The successor
// is recorded first, then the presented record is retired with a check-and-set
// that links it to the successor, so a token can rotate at most once.
func (s *Service) Rotate(ctx context.Context, presented string, device DeviceInfo) (Session, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		obs.RefreshOutcome("missing")
		return Session{}, newError(KindRefreshTokenRequired, "", nil)
	}

	hash := s.refresh.Hash(presented)
	claims, err := s.refresh.Verify(presented)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return Session{}, s.expired(ctx, hash)
	case err != nil:
		obs.RefreshOutcome("invalid")
		return Session{}, newError(KindInvalidRefreshToken, "", err)
	}

	rec, err := s.ledger.FindActive(ctx, claims.Subject, hash)
	if errors.Is(err, ErrNotFound) {
		return Session{}, s.inactive(ctx, hash)
	}
	if err != nil {
		return Session{}, fmt.Errorf("find refresh record: %w", err)
	}
	if !s.now().Before(rec.ExpiresAt) {
		return Session{}, s.expired(ctx, hash)
	}

	sess, successor, err := s.mintSession(ctx, rec.UserID, device)
	if err != nil {
		return Session{}, err
	}
	won, err := s.ledger.Replace(ctx, rec.ID, successor)
	if err != nil {
		s.discard(ctx, successor)
		return Session{}, fmt.Errorf("replace refresh record: %w", err)
	}
	if !won {
		s.discard(ctx, successor)
		obs.RefreshOutcome("lost_race")
		obs.Warn("auth.refresh.concurrent_rotation", map[string]any{"subject": rec.UserID, "record": rec.ID})
		return Session{}, newError(KindInvalidRefreshToken, "", nil)
	}
	obs.RefreshOutcome("ok")
	obs.SessionIssued("refresh")
	return sess, nil
}

// discard revokes a successor record whose token was never delivered.
func (s *Service) discard(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := s.ledger.Revoke(ctx, id); err != nil {
		obs.Error("auth.refresh.discard.fail", err, map[string]any{"record": id})
	}
}

// expired revokes the record behind an expired token, when one exists.
func (s *Service) expired(ctx context.Context, hash string) error {
	obs.RefreshOutcome("expired")
	rec, err := s.ledger.Lookup(ctx, hash)
	if err == nil && !rec.Revoked {
		if _, err := s.ledger.Revoke(ctx, rec.ID); err != nil {
			obs.Error("auth.refresh.revoke_expired.fail", err, map[string]any{"record": rec.ID})
		}
	}
	return newError(KindRefreshTokenExpired, "", nil)
}

// inactive explains why a correctly signed token has no active record.
// Only a record retired by a completed rotation counts as reuse; records
// revoked by logout, expiry or a rotation whose successor was never recorded
// are plainly invalid.
func (s *Service) inactive(ctx context.Context, hash string) error {
	rec, err := s.ledger.Lookup(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Error("auth.refresh.lookup.fail", err, nil)
		}
		obs.RefreshOutcome("unknown")
		return newError(KindInvalidRefreshToken, "", nil)
	}
	if !rec.Revoked {
		if rec.Active(s.now()) {
			obs.RefreshOutcome("unknown")
			return newError(KindInvalidRefreshToken, "", nil)
		}
		return s.expired(ctx, hash)
	}
	if rec.ReplacedBy == "" {
		obs.RefreshOutcome("revoked")
		obs.Info("auth.refresh.revoked_token", map[string]any{"subject": rec.UserID, "record": rec.ID})
		return newError(KindInvalidRefreshToken, "", nil)
	}

	obs.RefreshOutcome("reused")
	obs.RefreshReuse()
	fields := map[string]any{
		"subject":    rec.UserID,
		"record":     rec.ID,
		"ip":         rec.Device.IPAddress,
		"user_agent": rec.Device.UserAgent,
	}
	obs.Warn("auth.refresh.reuse_detected", fields)
	_ = s.audit(ctx, "auth.refresh.reuse_detected", fields)

	if s.cfg.RevokeAllOnReuse {
		n, err := s.ledger.RevokeAll(ctx, rec.UserID)
		if err != nil {
			obs.Error("auth.refresh.reuse_revoke_all.fail", err, map[string]any{"subject": rec.UserID})
		} else {
			obs.Warn("auth.refresh.reuse_revoke_all", map[string]any{"subject": rec.UserID, "revoked": n})
		}
	}
	return newError(KindInvalidRefreshToken, "", nil)
}

// Logout revokes every refresh record of subjectID when proof is a refresh
// token belonging to the same subject. An empty proof revokes nothing.
func (s *Service) Logout(ctx context.Context, subjectID, proof string) (int64, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return 0, nil
	}
	claims, err := s.refresh.Verify(proof)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return 0, newError(KindInvalidRefreshToken, "", err)
	}
	if claims.Subject != subjectID {
		return 0, newError(KindInvalidRefreshToken, "", nil)
	}
	n, err := s.ledger.RevokeAll(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh records: %w", err)
	}
	_ = s.audit(ctx, "auth.logout.revoke_all", map[string]any{"subject": subjectID, "revoked": n})
	return n, nil
}
