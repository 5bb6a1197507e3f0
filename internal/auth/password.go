package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

// bcryptCost is the cost used for new password hashes. Tests lower it.
var bcryptCost = bcrypt.DefaultCost

// normalizeUsername trims the name and checks it is usable as a URL path segment,
// since clients resolve participants through GET /api/users/:username.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, minUsernameLen, maxUsernameLen)
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("._-", r) {
			return "", fmt.Errorf("%w: only letters, digits, '.', '_' and '-' are allowed", ErrInvalidUsername)
		}
	}
	return username, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fmt.Errorf("%w: must be %d-%d bytes", ErrInvalidPassword, minPasswordLen, maxPasswordLen)
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext version.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
