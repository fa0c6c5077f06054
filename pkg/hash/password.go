package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	cost      = 12
	minLength = 8
	// bcrypt silently truncates input beyond 72 bytes.
	maxLength = 72
)

// Password hashes a plaintext password for storage.
func Password(plain string) (string, error) {
	if len(plain) < minLength {
		return "", fmt.Errorf("password must be at least %d characters", minLength)
	}
	if len(plain) > maxLength {
		return "", fmt.Errorf("password must be at most %d bytes", maxLength)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hashed), nil
}

// Verify reports whether plain matches the stored hash.
func Verify(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
