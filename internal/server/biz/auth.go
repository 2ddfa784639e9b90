package biz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/log"
)

type AuthServiceParams struct {
	fx.In

	Config AuthConfig
}

func NewAuthService(params AuthServiceParams) *AuthService {
	return &AuthService{
		config: params.Config,
	}
}

// AuthService validates the bearer tokens presented to the admin API.
type AuthService struct {
	config AuthConfig
}

// Enabled reports whether a secret key is configured. When it is not, the
// admin surface rejects every token.
func (s *AuthService) Enabled() bool {
	return s.config.SecretKey != ""
}

// GenerateSecretKey generates a random secret key for JWT.
func GenerateSecretKey() (string, error) {
	bytes := make([]byte, 32) // 256 bits

	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return hex.EncodeToString(bytes), nil
}

// GenerateJWTToken signs an admin token for the given subject.
func (s *AuthService) GenerateJWTToken(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: admin auth is not configured", ErrInvalidJWT)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	log.Debug(ctx, "admin token issued", log.String("subject", subject))

	return tokenString, nil
}

// AuthenticateJWTToken validates a JWT token and returns its subject.
func (s *AuthService) AuthenticateJWTToken(ctx context.Context, tokenString string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: admin auth is not configured", ErrInvalidJWT)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidJWT, token.Header["alg"])
		}

		return []byte(s.config.SecretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse jwt token: %w", ErrInvalidJWT, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrInvalidJWT)
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidJWT)
	}

	return subject, nil
}
