package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by LocalIssuer.VerifyPassword when the
// supplied password does not match the stored hash.
var ErrInvalidCredentials = errors.New("invalid credentials")

const bcryptCost = bcrypt.DefaultCost

// HashPassword hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a stored bcrypt hash.
func VerifyPassword(hash, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// LocalIssuer issues and validates HS256 bearer tokens signed with a shared
// secret. It backs the /api/auth/register and /api/auth/login endpoints.
type LocalIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewLocalIssuer creates a LocalIssuer. signingKey must be at least 32 bytes.
func NewLocalIssuer(signingKey, issuer string, ttl time.Duration) *LocalIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LocalIssuer{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl}
}

// IssueToken creates a signed bearer token for the given user.
func (li *LocalIssuer) IssueToken(userID, name, email string) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		Name:  name,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    li.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(li.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(li.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a locally issued bearer token,
// satisfying the TokenValidator interface.
func (li *LocalIssuer) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return li.signingKey, nil
	}, jwt.WithIssuer(li.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to CustomClaims")
	}
	return claims, nil
}
