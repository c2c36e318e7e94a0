package ratelimit

import (
	"fmt"

	"github.com/codecollab/editor-backend/internal/auth"
)

// mockValidator is a test TokenValidator with an injectable behavior.
type mockValidator struct {
	ValidateTokenFunc func(tokenString string) (*auth.CustomClaims, error)
}

func (m *mockValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	return nil, fmt.Errorf("invalid token")
}
