// Package otp issues and checks short-lived one-time codes for email verification.
//
// Codes live under "otp:{identifier}" in Redis with a TTL. A code is burned after
// MaxAttempts wrong guesses, counted under "otp_attempts:{identifier}". When Redis is not
// configured, MemoryStore keeps them in a mutex-guarded map and drops expired
// entries whenever the map is touched.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// KeyPrefix namespaces one-time codes in the shared cache
	KeyPrefix = "otp:"
	// DefaultTTL is how long an issued code stays valid
	DefaultTTL = 300 * time.Second
	// CodeLength is the number of digits in a code
	CodeLength = 6
	// MaxAttempts is how many wrong codes an identifier may submit before its code is discarded
	MaxAttempts = 5
	// AttemptsKeyPrefix namespaces failed-attempt counters
	AttemptsKeyPrefix = "otp_attempts:"
)

// Store issues and verifies one-time codes. Verify consumes a matching code and
// discards the code once MaxAttempts wrong guesses have been made.
type Store interface {
	Issue(ctx context.Context, identifier string) (string, error)
	Verify(ctx context.Context, identifier, code string) (bool, error)
	Backend() string
}

// Key returns the cache key for identifier
func Key(identifier string) string {
	return KeyPrefix + normalize(identifier)
}

// AttemptsKey returns the failed-attempt counter key for identifier
func AttemptsKey(identifier string) string {
	return AttemptsKeyPrefix + normalize(identifier)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// GenerateCode returns a uniformly random numeric code of CodeLength digits
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate otp: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func codesEqual(expected, given string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(given))) == 1
}
