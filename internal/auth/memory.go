package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"spendly.app/internal/ids"
)

var (
	_ UserStore     = (*MemoryUserStore)(nil)
	_ RefreshLedger = (*MemoryLedger)(nil)
)

// MemoryUserStore keeps users in process memory. Used in tests and when no database is configured.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.byID[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	return nil
}

func (s *MemoryUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *MemoryUserStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	return nil
}

// Delete removes a user. The session core never deletes users; tests use it
// to simulate an account removed while its credentials are still live.
func (s *MemoryUserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, strings.ToLower(u.Email))
	delete(s.byID, id)
	return nil
}

// MemoryLedger keeps refresh records in process memory. A single mutex
// serializes every operation, which makes Revoke a check-and-set.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*RefreshRecord
	now     func() time.Time
}

func NewMemoryLedger(opts ...LedgerOption) *MemoryLedger {
	o := buildLedgerOptions(opts)
	return &MemoryLedger{records: make(map[string]*RefreshRecord), now: o.now}
}

func (l *MemoryLedger) Issue(_ context.Context, rec *RefreshRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	rec.Revoked = false
	cp := *rec
	l.records[cp.ID] = &cp
	return nil
}

func (l *MemoryLedger) FindActive(_ context.Context, subjectID, tokenHash string) (*RefreshRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, rec := range l.records {
		if rec.UserID == subjectID && rec.TokenHash == tokenHash && rec.Active(now) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (l *MemoryLedger) Lookup(_ context.Context, tokenHash string) (*RefreshRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.TokenHash == tokenHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (l *MemoryLedger) Revoke(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	l.revokeLocked(rec)
	return true, nil
}

func (l *MemoryLedger) Replace(_ context.Context, id, successorID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	l.revokeLocked(rec)
	rec.ReplacedBy = successorID
	return true, nil
}

func (l *MemoryLedger) RevokeAll(_ context.Context, subjectID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, rec := range l.records {
		if rec.UserID == subjectID && !rec.Revoked {
			l.revokeLocked(rec)
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Sweep(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var n int64
	for id, rec := range l.records {
		if rec.Revoked || !now.Before(rec.ExpiresAt) {
			delete(l.records, id)
			n++
		}
	}
	return n, nil
}

// Records returns a snapshot of every record, in no particular order.
func (l *MemoryLedger) Records() []RefreshRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RefreshRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	return out
}

func (l *MemoryLedger) revokeLocked(rec *RefreshRecord) {
	t := l.now().UTC()
	rec.Revoked = true
	rec.RevokedAt = &t
}
