// Package auth guards the API with an optional admin login and issues the
// single-use state tokens for the OAuth connect flow.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes the given password using bcrypt with the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hashed password with a plaintext password.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateToken generates a cryptographically secure random 32-byte hex-encoded token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Admin holds the operator credentials. A zero Admin disables the check.
type Admin struct {
	user         string
	passwordHash string
}

func NewAdmin(user, passwordHash string) *Admin {
	return &Admin{user: user, passwordHash: passwordHash}
}

func (a *Admin) Enabled() bool {
	return a != nil && a.user != "" && a.passwordHash != ""
}

// Verify reports whether user and password match the configured admin.
func (a *Admin) Verify(user, password string) bool {
	if !a.Enabled() {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	passOK := CheckPassword(a.passwordHash, password) == nil
	return userOK && passOK
}
