package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims represents JWT claims carried by admin API tokens. The service
// identifies the caller from these claims; it does not enforce roles.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns the identity recorded in audit entries: the email when
// present, otherwise the subject.
func (c *Claims) Actor() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// TokenManager handles JWT token operations
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a new token manager. When issuer is non-empty,
// validation rejects tokens minted by anyone else.
func NewTokenManager(secret, issuer string) *TokenManager {
	if issuer == "" {
		issuer = "switchyard"
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// GenerateToken generates a JWT token for an admin user
func (tm *TokenManager) GenerateToken(userID, email string, expiry time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    tm.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ValidateToken validates and parses a JWT token
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer))

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// SDK key format: "sw_" followed by 64 hex characters. The prefix stored
// alongside the bcrypt hash narrows the candidate rows on verification.
const (
	sdkKeyPrefix    = "sw_"
	sdkKeyRandBytes = 32
	// PrefixLength is how much of an SDK key is stored in clear for lookup.
	PrefixLength = 11
)

// SDKKeyManager handles SDK credential generation and hashing
type SDKKeyManager struct {
	cost int
}

// NewSDKKeyManager creates a new SDK key manager
func NewSDKKeyManager(cost int) *SDKKeyManager {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &SDKKeyManager{cost: cost}
}

// Generate creates a new random SDK key. The clear key is returned exactly
// once, at creation; only its hash and prefix are stored.
func (km *SDKKeyManager) Generate() (string, error) {
	bytes := make([]byte, sdkKeyRandBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return sdkKeyPrefix + hex.EncodeToString(bytes), nil
}

// Prefix returns the lookup prefix of an SDK key.
func Prefix(key string) string {
	if len(key) < PrefixLength {
		return key
	}
	return key[:PrefixLength]
}

// WellFormed reports whether a presented credential has the SDK key shape.
// It is a cheap pre-check, not a verification.
func WellFormed(key string) bool {
	return strings.HasPrefix(key, sdkKeyPrefix) &&
		len(key) == len(sdkKeyPrefix)+2*sdkKeyRandBytes
}

// Hash hashes an SDK key for storage
func (km *SDKKeyManager) Hash(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), km.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash SDK key: %w", err)
	}
	return string(hash), nil
}

// Verify verifies an SDK key against its stored hash
func (km *SDKKeyManager) Verify(key, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}
