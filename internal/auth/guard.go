package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reasons attached to KindUnauthenticated errors.
const (
	ReasonMissingToken   = "missing_token"
	ReasonTokenExpired   = "token_expired"
	ReasonInvalidToken   = "invalid_token"
	ReasonUnknownSubject = "unknown_subject"
)

// Authenticate verifies an access token and resolves its subject.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, newError(KindUnauthenticated, ReasonMissingToken, nil)
	}
	claims, err := s.access.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Identity{}, &Error{Kind: KindUnauthenticated, Reason: ReasonTokenExpired, Message: "access token expired"}
		}
		return Identity{}, newError(KindUnauthenticated, ReasonInvalidToken, err)
	}

	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, newError(KindUnauthenticated, ReasonUnknownSubject, nil)
		}
		return Identity{}, fmt.Errorf("load subject: %w", err)
	}
	return Identity{SubjectID: user.ID, User: user.Profile()}, nil
}
