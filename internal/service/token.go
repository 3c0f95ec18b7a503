// Package service holds the API credential exchange: pre-shared client
// secrets (argon2id hashed in config) are traded for short-lived JWTs.
package service

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const tokenTTL = 24 * time.Hour

type TokenService interface {
	IssueToken(clientName, secret string) (string, time.Time, error)
	JWTSecret() []byte
}

type tokenService struct {
	clients   map[string]config.APIClient
	jwtSecret []byte
	logger    *zap.Logger
}

func NewTokenService(cfg *config.Config, logger *zap.Logger) TokenService {
	clients := make(map[string]config.APIClient, len(cfg.Auth.Clients))
	for _, c := range cfg.Auth.Clients {
		clients[c.Name] = c
	}
	return &tokenService{
		clients:   clients,
		jwtSecret: []byte(cfg.Auth.JWTSecret),
		logger:    logger,
	}
}

func (s *tokenService) JWTSecret() []byte {
	return s.jwtSecret
}

// IssueToken verifies the pre-shared secret and returns a signed JWT plus its
// expiration time.
func (s *tokenService) IssueToken(clientName, secret string) (string, time.Time, error) {
	client, ok := s.clients[clientName]
	if !ok {
		return "", time.Time{}, ErrClientNotFound
	}

	if !verifySecret(client.SecretHash, secret) {
		s.logger.Warn("Rejected token request with bad secret", zap.String("client", clientName))
		return "", time.Time{}, ErrInvalidCredentials
	}

	expirationTime := time.Now().Add(tokenTTL)
	claims := &models.Claims{
		ClientName: client.Name,
		Role:       client.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("Failed to sign JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Issued API token", zap.String("client", client.Name), zap.String("role", client.Role))
	return tokenString, expirationTime, nil
}

// HashSecret produces the encoded argon2id hash stored in config, in the form
// $argon2id$v=19$m=65536,t=1,p=4$SALT$HASH.
func HashSecret(secret string, salt []byte) string {
	hash := argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, 32)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 64*1024, 1, 4,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

// verifySecret re-derives the hash with the parameters embedded in the
// encoded string and compares in constant time.
func verifySecret(encoded, secret string) bool {
	sections := splitDollar(encoded)
	// Expected: ["argon2id", "v=19", "m=65536,t=1,p=4", "salt", "hash"]
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false
	}

	var version int
	fmt.Sscanf(sections[1], "v=%d", &version)

	var m, t, p uint32
	fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &m, &t, &p)
	if m == 0 || t == 0 || p == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(secret), salt, t, m, uint8(p), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func splitDollar(s string) []string {
	sections := make([]string, 0, 5)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			if i > start {
				sections = append(sections, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		sections = append(sections, s[start:])
	}
	return sections
}
