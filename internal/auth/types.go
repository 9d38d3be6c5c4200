package auth

import "time"

// User is a registered account as kept by the user store.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// PublicProfile is the projection of a user safe to return to clients.
type PublicProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Profile projects u without its password hash.
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// DeviceInfo describes where a refresh credential was issued.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// RefreshRecord is a persisted refresh credential. The plaintext token is never stored.
type RefreshRecord struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	RevokedAt *time.Time
	Device    DeviceInfo

	// ReplacedBy is the id of the record issued when this one was rotated.
	ReplacedBy string
}

// Active reports whether r is unrevoked and unexpired at now.
func (r RefreshRecord) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// Session is the outcome of a successful login, registration or rotation.
// RefreshToken is empty when the ledger could not persist it.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SubjectID        string
	User             PublicProfile
}

// Identity is the authenticated subject attached to a request.
type Identity struct {
	SubjectID string
	User      PublicProfile
}
