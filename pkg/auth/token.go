package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// DefaultAccessTokenTTL is the lifetime of an access token
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is the lifetime of a refresh token
	DefaultRefreshTokenTTL = 24 * time.Hour

	// resetTokenLength is the number of random bytes in a password reset token
	resetTokenLength = 32
)

// ErrInvalidToken is returned for any token that fails to parse or verify
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims of access and refresh tokens
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 access and refresh tokens. The two kinds
// are signed with different secrets so one can never be used as the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenCodec creates a codec. Non-positive TTLs fall back to the defaults.
func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// IssuePair issues an access and a refresh token for email
func (c *TokenCodec) IssuePair(email string) (TokenPair, error) {
	access, err := c.IssueAccess(email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.IssueRefresh(email)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess issues a short-lived access token
func (c *TokenCodec) IssueAccess(email string) (string, error) {
	return c.sign(email, c.accessSecret, c.accessTTL)
}

// IssueRefresh issues a refresh token
func (c *TokenCodec) IssueRefresh(email string) (string, error) {
	return c.sign(email, c.refreshSecret, c.refreshTTL)
}

// ParseAccess verifies an access token and returns its claims
func (c *TokenCodec) ParseAccess(token string) (*Claims, error) {
	return c.parse(token, c.accessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims
func (c *TokenCodec) ParseRefresh(token string) (*Claims, error) {
	return c.parse(token, c.refreshSecret)
}

func (c *TokenCodec) sign(email string, secret []byte, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (c *TokenCodec) parse(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(c.now(), true) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateResetToken creates a random password reset token and the SHA256 hash
// that is stored in its place. The plain token is only ever mailed.
func GenerateResetToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, resetTokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the stored form of a reset token
func HashResetToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// resetTokenMatches compares a presented token against a stored hash in constant time
func resetTokenMatches(storedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashResetToken(token))) == 1
}
