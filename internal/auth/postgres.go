package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"spendly.app/internal/ids"
)

const uniqueViolation = "23505"

var (
	_ UserStore     = (*PGUserStore)(nil)
	_ RefreshLedger = (*PGLedger)(nil)
)

// User store ---------------------------------------------------------------

// PGUserStore implements UserStore using PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, password_hash, created_at) values($1,$2,$3,$4,$5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, created_at, last_login_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, created_at, last_login_at from users where email=$1`, email)
	return scanUser(row)
}

func (s *PGUserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at=$2 where id=$1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Refresh ledger -----------------------------------------------------------

// PGLedger implements RefreshLedger on the refresh_tokens table.
// Revocation is a conditional update, so concurrent rotations of one record
// cannot both succeed.
type PGLedger struct {
	db  *sql.DB
	now func() time.Time
}

// LedgerOption configures a ledger implementation.
type LedgerOption func(*ledgerOptions)

type ledgerOptions struct {
	now func() time.Time
}

// WithLedgerClock overrides the time source (useful for tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(o *ledgerOptions) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildLedgerOptions(opts []LedgerOption) ledgerOptions {
	o := ledgerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewPGLedger(db *sql.DB, opts ...LedgerOption) *PGLedger {
	o := buildLedgerOptions(opts)
	return &PGLedger{db: db, now: o.now}
}

const refreshColumns = `id, token_hash, user_id, expires_at, is_revoked, created_at, revoked_at, replaced_by, user_agent, ip_address`

func (l *PGLedger) Issue(ctx context.Context, rec *RefreshRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	rec.Revoked = false
	_, err := l.db.ExecContext(ctx,
		`insert into refresh_tokens(id, token_hash, user_id, expires_at, is_revoked, created_at, user_agent, ip_address)
		 values($1,$2,$3,$4,false,$5,$6,$7)`,
		rec.ID, rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt, rec.Device.UserAgent, rec.Device.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}
	return nil
}

func (l *PGLedger) FindActive(ctx context.Context, subjectID, tokenHash string) (*RefreshRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens
		 where user_id=$1 and token_hash=$2 and is_revoked=false and expires_at > $3`,
		subjectID, tokenHash, l.now().UTC())
	return scanRefresh(row)
}

func (l *PGLedger) Lookup(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where token_hash=$1`, tokenHash)
	return scanRefresh(row)
}

func (l *PGLedger) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true, revoked_at=$2 where id=$1 and is_revoked=false`,
		id, l.now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke refresh record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *PGLedger) Replace(ctx context.Context, id, successorID string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true, revoked_at=$2, replaced_by=$3 where id=$1 and is_revoked=false`,
		id, l.now().UTC(), sql.NullString{String: successorID, Valid: successorID != ""})
	if err != nil {
		return false, fmt.Errorf("replace refresh record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *PGLedger) RevokeAll(ctx context.Context, subjectID string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true, revoked_at=$2 where user_id=$1 and is_revoked=false`,
		subjectID, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh records: %w", err)
	}
	return res.RowsAffected()
}

func (l *PGLedger) Sweep(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`delete from refresh_tokens where is_revoked=true or expires_at <= $1`, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep refresh records: %w", err)
	}
	return res.RowsAffected()
}

func scanRefresh(row *sql.Row) (*RefreshRecord, error) {
	var (
		rec       RefreshRecord
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.TokenHash, &rec.UserID, &rec.ExpiresAt, &rec.Revoked,
		&rec.CreatedAt, &revokedAt, &replacedBy, &rec.Device.UserAgent, &rec.Device.IPAddress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	rec.ReplacedBy = replacedBy.String
	return &rec, nil
}
