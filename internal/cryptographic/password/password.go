package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize = 16
	KeySize  = 32
)

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Hash derives a 32-byte PBKDF2-SHA256 key from the password.
func Hash(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

// Compare re-derives and compares in constant time.
func Compare(password string, salt []byte, iterations int, want []byte) bool {
	got := Hash(password, salt, iterations)
	return subtle.ConstantTimeCompare(got, want) == 1
}
