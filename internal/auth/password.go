package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts, in bytes.
const MaxPasswordBytes = 72

// HashPassword hashes a plaintext password using bcrypt at cost.
func HashPassword(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// unknownAccountHash is compared against when no account matches the email,
// so every failed login pays one bcrypt comparison at the configured cost.
func unknownAccountHash(cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte("spendly:no-such-account"), cost)
}
