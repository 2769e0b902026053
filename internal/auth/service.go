package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "playwatch"

// Claims are the JWT claims issued by IssueToken.
type Claims struct {
	jwt.RegisteredClaims
}

// HashPassword returns a bcrypt hash suitable for server.auth.password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (*Token, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty jwt secret")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: s, ExpiresAt: exp}, nil
}

// ParseToken validates signature, algorithm and expiry. Any failure is
// reported as ErrInvalidCredentials.
func ParseToken(secret []byte, token string) (*Claims, error) {
	if token == "" || len(secret) == 0 {
		return nil, ErrInvalidCredentials
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return claims, nil
}

// Service authenticates the single configured API user.
type Service struct {
	enabled      bool
	username     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
}

func NewService(cfg Config) (*Service, error) {
	s := &Service{
		enabled:      cfg.Enabled,
		username:     strings.TrimSpace(cfg.Username),
		passwordHash: cfg.PasswordHash,
		secret:       []byte(cfg.JWTSecret),
		ttl:          cfg.TokenTTL,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if !s.enabled {
		return s, nil
	}
	if len(s.secret) == 0 {
		return nil, errors.New("auth enabled without jwt secret")
	}
	if s.username == "" || s.passwordHash == "" {
		return nil, errors.New("auth enabled without username or password hash")
	}
	return s, nil
}

func (s *Service) Enabled() bool { return s != nil && s.enabled }

// Login checks the credentials and issues a token.
func (s *Service) Login(username, password string) (*Token, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.username)) == 1
	// always run bcrypt so a wrong username costs the same as a wrong password
	passOK := CheckPassword(s.passwordHash, password)
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}
	return IssueToken(s.secret, s.username, s.ttl)
}

// Verify validates a bearer token and returns its subject.
func (s *Service) Verify(token string) (string, error) {
	claims, err := ParseToken(s.secret, token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
