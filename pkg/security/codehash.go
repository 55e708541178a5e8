package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("code hashing failed")
	ErrHashMismatch  = errors.New("code does not match")
)

// CodeHasher hashes and compares one-time codes. Codes are short-lived secrets,
// so they get the same salted-hash treatment as passwords.
type CodeHasher interface {
	Hash(code string) (string, error)
	Compare(hashed, code string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a code hasher using bcrypt
func NewBcryptHasher(cost int) CodeHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashed, code string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(code)); err != nil {
		return ErrHashMismatch
	}
	return nil
}

// GenerateCode returns n crypto-random decimal digits.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length %d", n)
	}
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}
