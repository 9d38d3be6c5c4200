package auth

import (
	"context"
	"time"
)

// UserStore is the user-record collaborator of the session core.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// RefreshLedger persists refresh records and their revocation state.
type RefreshLedger interface {
	// Issue inserts a new unrevoked record.
	Issue(ctx context.Context, rec *RefreshRecord) error
	// FindActive returns the unrevoked, unexpired record of subjectID with tokenHash.
	FindActive(ctx context.Context, subjectID, tokenHash string) (*RefreshRecord, error)
	// Lookup returns the record with tokenHash in any state.
	Lookup(ctx context.Context, tokenHash string) (*RefreshRecord, error)
	// Revoke flips the record to revoked and reports whether this call did it.
	Revoke(ctx context.Context, id string) (bool, error)
	// Replace revokes id as rotated into successorID, with the same
	// check-and-set semantics as Revoke. successorID may be empty when the
	// successor could not be recorded.
	Replace(ctx context.Context, id, successorID string) (bool, error)
	// RevokeAll revokes every unrevoked record of subjectID.
	RevokeAll(ctx context.Context, subjectID string) (int64, error)
	// Sweep deletes records that are expired or revoked.
	Sweep(ctx context.Context) (int64, error)
}
